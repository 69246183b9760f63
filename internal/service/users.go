package service

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

const minPasswordLength = 8

// UserInput creates an account.
type UserInput struct {
	PharmacyID string      `json:"pharmacyId,omitempty"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	Role       domain.Role `json:"role"`
}

// CreateUser adds a staff account. Tenant admins add staff to their own
// pharmacy; platform roles can only be granted by platform staff.
func (s *Service) CreateUser(ctx context.Context, p domain.Principal, in UserInput) (*domain.User, error) {
	const op = "users.Create"
	if !in.Role.Valid() {
		return nil, domain.Invalid(op, "unknown role %q", in.Role)
	}
	scope := store.PlatformScope
	if in.Role.IsPlatform() {
		if !p.IsPlatform() {
			return nil, domain.Forbidden(op, "tenant staff cannot create platform accounts")
		}
		in.PharmacyID = ""
	} else {
		var err error
		if scope, err = tenantScope(op, p, in.PharmacyID); err != nil {
			return nil, err
		}
		in.PharmacyID = scope
	}

	var out *domain.User
	err := s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageStaff, in.PharmacyID); err != nil {
			return err
		}
		if in.PharmacyID != "" {
			if _, err := u.GetPharmacy(ctx, in.PharmacyID); err != nil {
				return err
			}
		}
		user, err := u.newUser(ctx, in)
		if err != nil {
			return err
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// newUser validates, hashes and inserts an account.
func (u *unit) newUser(ctx context.Context, in UserInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, domain.Invalid(u.op, "name is required")
	case !strings.Contains(email, "@"):
		return nil, domain.Invalid(u.op, "invalid email %q", in.Email)
	case len(in.Password) < minPasswordLength:
		return nil, domain.Invalid(u.op, "password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           u.s.newID(),
		PharmacyID:   in.PharmacyID,
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Status:       domain.UserActive,
		CreatedAt:    u.s.now(),
	}
	if err := u.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers lists accounts. Tenants see their own staff; platform staff may
// filter by pharmacy or see everyone.
func (s *Service) ListUsers(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.User, error) {
	const op = "users.List"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.User
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageStaff, scope); err != nil {
			return err
		}
		var err error
		out, err = u.ListUsers(ctx, scope)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// SetUserStatus suspends or reactivates an account.
func (s *Service) SetUserStatus(ctx context.Context, p domain.Principal, userID string, status domain.UserStatus) (*domain.User, error) {
	const op = "users.SetStatus"
	if status != domain.UserActive && status != domain.UserSuspended {
		return nil, domain.Invalid(op, "unknown status %q", status)
	}
	if userID == p.UserID {
		return nil, domain.Invalid(op, "cannot change your own status")
	}
	scope, err := s.scopeOf(ctx, p, func(ctx context.Context, tx store.Tx) (string, error) {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return "", err
		}
		return user.PharmacyID, nil
	})
	if err != nil {
		return nil, err
	}

	var out *domain.User
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		user, err := u.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermManageStaff, user.PharmacyID); err != nil {
			return err
		}
		if user.PharmacyID == "" && !p.IsPlatform() {
			return domain.E(op, domain.ErrCrossTenantAccess)
		}
		if user.Role == domain.RoleSuperAdmin && p.Role != domain.RoleSuperAdmin {
			return domain.Forbidden(op, "only a super admin can change a super admin")
		}
		user.Status = status
		if err := u.UpdateUser(ctx, user); err != nil {
			return err
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangePassword replaces the caller's password after checking the current
// one.
func (s *Service) ChangePassword(ctx context.Context, p domain.Principal, current, next string) error {
	const op = "users.ChangePassword"
	if len(next) < minPasswordLength {
		return domain.Invalid(op, "password must be at least %d characters", minPasswordLength)
	}
	return s.update(ctx, op, p, p.PharmacyID, func(ctx context.Context, u *unit) error {
		user, err := u.GetUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
			return domain.E(op, domain.ErrInvalidCredentials)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user.PasswordHash = string(hash)
		return u.UpdateUser(ctx, user)
	})
}

// EnsureSuperAdmin creates the first platform account when no user has the
// given email yet. It reports whether an account was created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, name, email, password string) (bool, error) {
	const op = "users.EnsureSuperAdmin"
	system := domain.Principal{UserID: "system", Name: "system", Role: domain.RoleSuperAdmin}
	created := false
	err := s.update(ctx, op, system, store.PlatformScope, func(ctx context.Context, u *unit) error {
		_, err := u.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err == nil {
			return nil
		}
		if domain.KindOf(err) != domain.KindNotFound {
			return err
		}
		if _, err := u.newUser(ctx, UserInput{Name: name, Email: email, Password: password, Role: domain.RoleSuperAdmin}); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}
