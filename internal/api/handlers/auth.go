package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/geo"
	"github.com/drfirst/rxledger/internal/service"
)

// AuthHandler handles sign-in and session endpoints
type AuthHandler struct {
	base
	geo *geo.Client
}

// NewAuthHandler creates a new handler. geo may be nil.
func NewAuthHandler(svc *service.Service, geoClient *geo.Client, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{base: newBase(svc, logger), geo: geoClient}
}

// Routes returns the handler routes. Everything but login runs behind the
// protected middlewares.
func (h *AuthHandler) Routes(protected ...Middleware) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(protected...)
		r.Get("/me", h.Me)
		r.Post("/impersonate", h.Impersonate)
		r.Post("/password", h.ChangePassword)
	})
	return r
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.geo != nil {
		go h.recordOrigin(sess.User.ID, remoteIP(r))
	}
	respond.JSON(w, http.StatusOK, sess)
}

// recordOrigin logs where a sign-in came from. It runs detached from the
// request so a slow lookup never delays the response.
func (h *AuthHandler) recordOrigin(userID, ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fields := []zap.Field{zap.String("user_id", userID), zap.String("ip", ip)}
	if loc := h.geo.Lookup(ctx, ip); loc != nil {
		fields = append(fields, zap.String("country", loc.CountryCode), zap.String("city", loc.City))
	}
	h.logger.Info("user signed in", fields...)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	u, err := h.svc.Me(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"user":           u,
		"impersonatorId": p.ImpersonatorID,
	})
}

// ImpersonateRequest is the body of POST /auth/impersonate
type ImpersonateRequest struct {
	UserID string `json:"userId"`
}

// Impersonate handles POST /auth/impersonate
func (h *AuthHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	var req ImpersonateRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Impersonate(r.Context(), principal(r), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

// ChangePasswordRequest is the body of POST /auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword handles POST /auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), principal(r), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
