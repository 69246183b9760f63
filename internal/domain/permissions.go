package domain

import (
	"fmt"
	"sort"
)

// Permission names an action the presentation layer can offer and the
// service layer enforces.
type Permission string

const (
	PermViewDashboard          Permission = "VIEW_DASHBOARD"
	PermManagePharmacies       Permission = "MANAGE_PHARMACIES"
	PermApprovePharmacyUpdates Permission = "APPROVE_PHARMACY_UPDATES"
	PermManageSubscriptions    Permission = "MANAGE_SUBSCRIPTIONS"
	PermManageBilling          Permission = "MANAGE_BILLING"
	PermManageSupport          Permission = "MANAGE_SUPPORT"
	PermManageSettings         Permission = "MANAGE_SETTINGS"
	PermManageRoles            Permission = "MANAGE_ROLES"
	PermImpersonate            Permission = "IMPERSONATE"
	PermManageStaff            Permission = "MANAGE_STAFF"
	PermManageInventory        Permission = "MANAGE_INVENTORY"
	PermAdjustStock            Permission = "ADJUST_STOCK"
	PermProcessSales           Permission = "PROCESS_SALES"
	PermProcessReturns         Permission = "PROCESS_RETURNS"
	PermDispense               Permission = "DISPENSE_PRESCRIPTIONS"
	PermManagePrescriptions    Permission = "MANAGE_PRESCRIPTIONS"
	PermManageExpenses         Permission = "MANAGE_EXPENSES"
	PermManageSuppliers        Permission = "MANAGE_SUPPLIERS"
	PermViewReports            Permission = "VIEW_REPORTS"
	PermSubmitPharmacyUpdates  Permission = "SUBMIT_PHARMACY_UPDATES"
	PermCreateSupportTickets   Permission = "CREATE_SUPPORT_TICKETS"
)

// AllPermissions returns every defined permission.
func AllPermissions() []Permission {
	return []Permission{
		PermViewDashboard,
		PermManagePharmacies,
		PermApprovePharmacyUpdates,
		PermManageSubscriptions,
		PermManageBilling,
		PermManageSupport,
		PermManageSettings,
		PermManageRoles,
		PermImpersonate,
		PermManageStaff,
		PermManageInventory,
		PermAdjustStock,
		PermProcessSales,
		PermProcessReturns,
		PermDispense,
		PermManagePrescriptions,
		PermManageExpenses,
		PermManageSuppliers,
		PermViewReports,
		PermSubmitPharmacyUpdates,
		PermCreateSupportTickets,
	}
}

// Valid reports whether p is a defined permission.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions() {
		if p == known {
			return true
		}
	}
	return false
}

// PlatformOnly reports whether p governs the platform itself and may only be
// held by platform roles.
func (p Permission) PlatformOnly() bool {
	switch p {
	case PermManagePharmacies, PermApprovePharmacyUpdates, PermManageSubscriptions,
		PermManageBilling, PermManageSupport, PermManageSettings, PermManageRoles,
		PermImpersonate:
		return true
	}
	return false
}

// PermissionTable maps each role to its independent permission set. There is
// no inheritance between roles.
type PermissionTable map[Role]map[Permission]bool

// DefaultRolePermissions is the seed table.
func DefaultRolePermissions() PermissionTable {
	t := PermissionTable{}
	t.grant(RoleSuperAdmin, AllPermissions()...)
	t.grant(RoleSupport,
		PermViewDashboard, PermManageSupport, PermManagePharmacies)
	t.grant(RoleBilling,
		PermViewDashboard, PermManageBilling, PermManageSubscriptions, PermViewReports)
	t.grant(RoleAdmin,
		PermViewDashboard, PermManageStaff, PermManageInventory, PermAdjustStock,
		PermProcessSales, PermProcessReturns, PermDispense, PermManagePrescriptions,
		PermManageExpenses, PermManageSuppliers, PermViewReports,
		PermSubmitPharmacyUpdates, PermCreateSupportTickets)
	t.grant(RoleManager,
		PermViewDashboard, PermManageInventory, PermAdjustStock, PermProcessSales,
		PermProcessReturns, PermDispense, PermManagePrescriptions,
		PermManageExpenses, PermManageSuppliers, PermViewReports,
		PermCreateSupportTickets)
	t.grant(RoleCashier,
		PermViewDashboard, PermProcessSales, PermDispense)
	return t
}

func (t PermissionTable) grant(role Role, perms ...Permission) {
	set := t[role]
	if set == nil {
		set = map[Permission]bool{}
		t[role] = set
	}
	for _, p := range perms {
		set[p] = true
	}
}

// Has reports whether role holds perm.
func (t PermissionTable) Has(role Role, perm Permission) bool {
	return t[role][perm]
}

// Set replaces the permission set of role.
func (t PermissionTable) Set(role Role, perms []Permission) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q", p)
		}
		if p.PlatformOnly() && !role.IsPlatform() {
			return fmt.Errorf("%s is reserved for platform roles", p)
		}
		set[p] = true
	}
	t[role] = set
	return nil
}

// List returns the sorted permissions of role.
func (t PermissionTable) List(role Role) []Permission {
	out := make([]Permission, 0, len(t[role]))
	for p, ok := range t[role] {
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns the table as role -> sorted permission list.
func (t PermissionTable) Snapshot() map[Role][]Permission {
	out := make(map[Role][]Permission, len(AllRoles()))
	for _, r := range AllRoles() {
		out[r] = t.List(r)
	}
	return out
}

// Clone deep-copies the table.
func (t PermissionTable) Clone() PermissionTable {
	out := make(PermissionTable, len(t))
	for r, set := range t {
		cp := make(map[Permission]bool, len(set))
		for p, ok := range set {
			cp[p] = ok
		}
		out[r] = cp
	}
	return out
}
