package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestSetRolePermissionsIsPerRole(t *testing.T) {
	h := newHarness(t)

	before, err := h.svc.RolePermissions(h.ctx, superAdmin)
	require.NoError(t, err)

	perms, err := h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleCashier, []domain.Permission{
		domain.PermViewDashboard, domain.PermProcessSales, domain.PermProcessReturns,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Permission{domain.PermViewDashboard, domain.PermProcessSales, domain.PermProcessReturns}, perms)

	after, err := h.svc.RolePermissions(h.ctx, superAdmin)
	require.NoError(t, err)
	for role, list := range before {
		if role == domain.RoleCashier {
			continue
		}
		assert.ElementsMatch(t, list, after[role], "role %s changed", role)
	}

	ok, err := h.svc.HasPermission(h.ctx, domain.RoleCashier, domain.PermDispense)
	require.NoError(t, err)
	assert.False(t, ok)

	// the new table takes effect immediately
	_, err = h.svc.RecordReturn(h.ctx, cashier1, ReturnDraft{Items: []ReturnLine{{MedicineID: "m-amox", Quantity: 1}}, Reason: "x"})
	require.NoError(t, err)
	rx := h.prescription(1, domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 1})
	_, err = h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	assertKind(t, domain.KindForbidden, err)
}

func TestSuperAdminKeepsEveryPermission(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleSuperAdmin, []domain.Permission{domain.PermViewDashboard})
	assert.ErrorIs(t, err, domain.ErrSuperAdminImmutable)

	perms, err := h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleSuperAdmin, domain.AllPermissions())
	require.NoError(t, err)
	assert.ElementsMatch(t, domain.AllPermissions(), perms)
}

func TestSetRolePermissionsValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SetRolePermissions(h.ctx, admin1, domain.RoleCashier, nil)
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.SetRolePermissions(h.ctx, superAdmin, "JANITOR", nil)
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleCashier, []domain.Permission{"FLY"})
	assertKind(t, domain.KindValidation, err)

	perms, err := h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleCashier, nil)
	require.NoError(t, err)
	assert.Empty(t, perms)
	_, err = h.svc.RecordSale(h.ctx, cashier1, SaleDraft{
		Items: []SaleLine{line("m-amox", 1)}, Payments: []domain.Payment{pay(domain.PayCash, "5")},
	}, "")
	assertKind(t, domain.KindForbidden, err)
}

func TestTenantRolesCannotHoldPlatformPermissions(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SubmitPharmacyUpdate(h.ctx, admin1, "", domain.PharmacyChanges{Phone: strp("555-0100")})
	require.NoError(t, err)

	for _, perm := range []domain.Permission{domain.PermApprovePharmacyUpdates, domain.PermManageSubscriptions, domain.PermManageRoles} {
		_, err = h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleAdmin, []domain.Permission{domain.PermManageStaff, perm})
		assertKind(t, domain.KindValidation, err)
	}
	ok, err := h.svc.HasPermission(h.ctx, domain.RoleAdmin, domain.PermApprovePharmacyUpdates)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.svc.ApprovePharmacyUpdate(h.ctx, admin1, "ph1")
	assertKind(t, domain.KindForbidden, err)
	assert.Equal(t, domain.UpdatePendingApproval, h.pharmacy("ph1").UpdateStatus)

	perms, err := h.svc.SetRolePermissions(h.ctx, superAdmin, domain.RoleSupport, []domain.Permission{
		domain.PermViewDashboard, domain.PermApprovePharmacyUpdates,
	})
	require.NoError(t, err)
	assert.Contains(t, perms, domain.PermApprovePharmacyUpdates)
	ph, err := h.svc.ApprovePharmacyUpdate(h.ctx, support, "ph1")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", ph.Phone)
}

func TestRolePermissionsVisibility(t *testing.T) {
	h := newHarness(t)

	all, err := h.svc.RolePermissions(h.ctx, superAdmin)
	require.NoError(t, err)
	assert.Len(t, all, len(domain.AllRoles()))

	own, err := h.svc.RolePermissions(h.ctx, cashier1)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.ElementsMatch(t, []domain.Permission{domain.PermViewDashboard, domain.PermProcessSales, domain.PermDispense}, own[domain.RoleCashier])
}
