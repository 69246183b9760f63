package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

const tokenIssuer = "rxledger"

// Session is an issued login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *domain.User `json:"user"`
	// ImpersonatorID is set on sessions assumed by a super admin.
	ImpersonatorID string `json:"impersonatorId,omitempty"`
}

type authClaims struct {
	Role           domain.Role `json:"role"`
	PharmacyID     string      `json:"pharmacy_id,omitempty"`
	ImpersonatorID string      `json:"impersonator_id,omitempty"`
	jwt.RegisteredClaims
}

var (
	compareHash = bcrypt.CompareHashAndPassword

	// unknownUserHash is compared on unknown emails so both failures cost
	// one bcrypt comparison.
	unknownUserHash = sync.OnceValue(func() []byte {
		h, err := bcrypt.GenerateFromPassword([]byte("rxledger-unknown-user"), bcrypt.DefaultCost)
		if err != nil {
			panic(err)
		}
		return h
	})
)

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "auth.Login"
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, domain.Invalid(op, "email and password are required")
	}

	var user *domain.User
	err := s.view(ctx, op, domain.Principal{}, func(ctx context.Context, u *unit) error {
		found, err := u.GetUserByEmail(ctx, email)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				_ = compareHash(unknownUserHash(), []byte(password))
				return domain.E(op, domain.ErrInvalidCredentials)
			}
			return err
		}
		if compareHash([]byte(found.PasswordHash), []byte(password)) != nil {
			return domain.E(op, domain.ErrInvalidCredentials)
		}
		if err := u.checkActive(ctx, found); err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.store.Update(ctx, user.PharmacyID, func(tx store.Tx) error {
		current, err := tx.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		current.LastLoginAt = &now
		return tx.UpdateUser(ctx, current)
	})
	if err != nil {
		s.logger.Warn("failed to record login time", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now

	return s.issue(user, "", s.cfg.TokenTTL)
}

// checkActive rejects suspended users and users of suspended pharmacies.
func (u *unit) checkActive(ctx context.Context, user *domain.User) error {
	if user.Status == domain.UserSuspended {
		return domain.E(u.op, domain.ErrAccountSuspended)
	}
	if user.PharmacyID == "" {
		return nil
	}
	ph, err := u.GetPharmacy(ctx, user.PharmacyID)
	if err != nil {
		return err
	}
	if ph.Status == domain.PharmacySuspended {
		return domain.Detail(u.op, domain.ErrAccountSuspended, "pharmacy %s is suspended", ph.Name)
	}
	return nil
}

func (s *Service) issue(user *domain.User, impersonatorID string, ttl time.Duration) (*Session, error) {
	now := s.now()
	expires := now.Add(ttl)
	claims := authClaims{
		Role:           user.Role,
		PharmacyID:     user.PharmacyID,
		ImpersonatorID: impersonatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        s.newID(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user, ImpersonatorID: impersonatorID}, nil
}

// Authenticate resolves a bearer token to a principal. The role comes from
// the stored user so role changes apply to live sessions.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	const op = "auth.Authenticate"
	claims := &authClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.cfg.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, domain.Detail(op, domain.ErrInvalidToken, "token expired")
		}
		return domain.Principal{}, domain.E(op, domain.ErrInvalidToken)
	}

	var p domain.Principal
	err = s.store.View(ctx, func(tx store.Tx) error {
		user, err := tx.GetUser(ctx, claims.Subject)
		if err != nil {
			return domain.E(op, domain.ErrInvalidToken)
		}
		u := &unit{Tx: tx, s: s, op: op}
		if err := u.checkActive(ctx, user); err != nil {
			return err
		}
		p = domain.PrincipalFor(user)
		p.ImpersonatorID = claims.ImpersonatorID
		return nil
	})
	return p, err
}

// Impersonate issues a short session acting as a tenant user.
func (s *Service) Impersonate(ctx context.Context, p domain.Principal, userID string) (*Session, error) {
	const op = "auth.Impersonate"
	if p.Impersonated() {
		return nil, domain.Forbidden(op, "cannot impersonate from an impersonated session")
	}
	var target *domain.User
	err := s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermImpersonate, ""); err != nil {
			return err
		}
		user, err := u.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Role.IsPlatform() {
			return domain.Forbidden(op, "platform accounts cannot be impersonated")
		}
		if err := u.checkActive(ctx, user); err != nil {
			return err
		}
		target = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("impersonation started",
		zap.String("impersonator_id", p.UserID),
		zap.String("user_id", target.ID),
		zap.String("pharmacy_id", target.PharmacyID))
	return s.issue(target, p.UserID, s.cfg.ImpersonationTTL)
}

// Me returns the account behind a principal.
func (s *Service) Me(ctx context.Context, p domain.Principal) (*domain.User, error) {
	var out *domain.User
	err := s.view(ctx, "auth.Me", p, func(ctx context.Context, u *unit) error {
		user, err := u.GetUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		out = user
		return nil
	})
	return out, err
}
