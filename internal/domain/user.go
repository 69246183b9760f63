package domain

import "time"

// Role identifies a class of user. Platform roles operate across tenants.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleSupport    Role = "SUPPORT"
	RoleBilling    Role = "BILLING"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleCashier    Role = "CASHIER"
)

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleSupport, RoleBilling, RoleAdmin, RoleManager, RoleCashier}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// IsPlatform reports whether r belongs to platform staff.
func (r Role) IsPlatform() bool {
	return r == RoleSuperAdmin || r == RoleSupport || r == RoleBilling
}

// UserStatus is the account state of a user.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// User is a platform or tenant account. PharmacyID is empty for platform staff.
type User struct {
	ID           string     `json:"id"`
	PharmacyID   string     `json:"pharmacyId,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// Principal is the identity an operation runs as.
type Principal struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	PharmacyID string `json:"pharmacyId,omitempty"`
	// ImpersonatorID is set when a super admin acts as this user.
	ImpersonatorID string `json:"impersonatorId,omitempty"`
}

// PrincipalFor builds the principal of a user.
func PrincipalFor(u *User) Principal {
	return Principal{UserID: u.ID, Name: u.Name, Role: u.Role, PharmacyID: u.PharmacyID}
}

// IsPlatform reports whether the principal is platform staff.
func (p Principal) IsPlatform() bool {
	return p.Role.IsPlatform()
}

// Impersonated reports whether the session was assumed by another user.
func (p Principal) Impersonated() bool {
	return p.ImpersonatorID != ""
}
