package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/service"
)

// UserHandler handles staff accounts
type UserHandler struct {
	base
}

// NewUserHandler creates a new handler
func NewUserHandler(svc *service.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{base: newBase(svc, logger)}
}

// Routes returns the handler routes
func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/{id}/status", h.Status)
	return r
}

// List handles GET /users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), principal(r), pharmacyParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, listOf(users))
}

// Create handles POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.UserInput
	if !decode(w, r, &in) {
		return
	}
	u, err := h.svc.CreateUser(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, u)
}

// UserStatusRequest is the body of PUT /users/{id}/status
type UserStatusRequest struct {
	Status domain.UserStatus `json:"status"`
}

// Status handles PUT /users/{id}/status
func (h *UserHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req UserStatusRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.svc.SetUserStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// RoleHandler handles the role permission table
type RoleHandler struct {
	base
}

// NewRoleHandler creates a new handler
func NewRoleHandler(svc *service.Service, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{base: newBase(svc, logger)}
}

// Routes returns the handler routes
func (h *RoleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/permissions", h.List)
	r.Put("/{role}/permissions", h.Set)
	return r
}

// List handles GET /roles/permissions
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	table, err := h.svc.RolePermissions(r.Context(), principal(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, table)
}

// SetPermissionsRequest is the body of PUT /roles/{role}/permissions
type SetPermissionsRequest struct {
	Permissions []domain.Permission `json:"permissions"`
}

// Set handles PUT /roles/{role}/permissions
func (h *RoleHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req SetPermissionsRequest
	if !decode(w, r, &req) {
		return
	}
	role := domain.Role(chi.URLParam(r, "role"))
	perms, err := h.svc.SetRolePermissions(r.Context(), principal(r), role, req.Permissions)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"role": role, "permissions": listOf(perms)})
}
