package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// RolePermissions returns the permission table. Holders of MANAGE_ROLES see
// every role; everyone else sees only their own.
func (s *Service) RolePermissions(ctx context.Context, p domain.Principal) (map[domain.Role][]domain.Permission, error) {
	var out map[domain.Role][]domain.Permission
	err := s.view(ctx, "access.RolePermissions", p, func(ctx context.Context, u *unit) error {
		table, err := u.RolePermissions(ctx)
		if err != nil {
			return err
		}
		if table.Has(p.Role, domain.PermManageRoles) {
			out = table.Snapshot()
			return nil
		}
		out = map[domain.Role][]domain.Permission{p.Role: table.List(p.Role)}
		return nil
	})
	return out, err
}

// HasPermission reports whether role currently holds perm.
func (s *Service) HasPermission(ctx context.Context, role domain.Role, perm domain.Permission) (bool, error) {
	var ok bool
	err := s.store.View(ctx, func(tx store.Tx) error {
		table, err := tx.RolePermissions(ctx)
		if err != nil {
			return err
		}
		ok = table.Has(role, perm)
		return nil
	})
	return ok, err
}

// SetRolePermissions replaces the permission set of one role. Other roles
// are unaffected. SUPER_ADMIN must keep every permission.
func (s *Service) SetRolePermissions(ctx context.Context, p domain.Principal, role domain.Role, perms []domain.Permission) ([]domain.Permission, error) {
	const op = "access.SetRolePermissions"
	if !role.Valid() {
		return nil, domain.Invalid(op, "unknown role %q", role)
	}
	for _, perm := range perms {
		if !perm.Valid() {
			return nil, domain.Invalid(op, "unknown permission %q", perm)
		}
		if perm.PlatformOnly() && !role.IsPlatform() {
			return nil, domain.Invalid(op, "%s is reserved for platform roles", perm)
		}
	}
	if role == domain.RoleSuperAdmin && !coversAll(perms) {
		return nil, domain.E(op, domain.ErrSuperAdminImmutable)
	}

	var out []domain.Permission
	err := s.update(ctx, op, p, store.PlatformScope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageRoles, ""); err != nil {
			return err
		}
		if err := u.SaveRolePermissions(ctx, role, perms); err != nil {
			return err
		}
		table, err := u.RolePermissions(ctx)
		if err != nil {
			return err
		}
		out = table.List(role)
		return u.emit(ctx, domain.AggregateRoles, string(role), "", domain.EventRolePermissionsChanged, map[string]any{
			"role":        role,
			"permissions": out,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("role permissions changed", zap.String("role", string(role)), zap.Int("permissions", len(out)), zap.String("actor", p.UserID))
	return out, nil
}

func coversAll(perms []domain.Permission) bool {
	have := make(map[domain.Permission]bool, len(perms))
	for _, p := range perms {
		have[p] = true
	}
	for _, p := range domain.AllPermissions() {
		if !have[p] {
			return false
		}
	}
	return true
}
