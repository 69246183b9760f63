package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestLoginAndAuthenticate(t *testing.T) {
	h := newHarness(t)

	sess, err := h.svc.Login(h.ctx, "  CAS@harbor.example ", testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, h.now.Add(12*time.Hour), sess.ExpiresAt)
	assert.Equal(t, cashier1.UserID, sess.User.ID)
	require.NotNil(t, sess.User.LastLoginAt)

	me, err := h.svc.Me(h.ctx, cashier1)
	require.NoError(t, err)
	require.NotNil(t, me.LastLoginAt)
	assert.Equal(t, h.now, *me.LastLoginAt)

	p, err := h.svc.Authenticate(h.ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, cashier1.UserID, p.UserID)
	assert.Equal(t, domain.RoleCashier, p.Role)
	assert.Equal(t, "ph1", p.PharmacyID)
	assert.False(t, p.Impersonated())

	h.now = h.now.Add(13 * time.Hour)
	_, err = h.svc.Authenticate(h.ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestLoginComparesHashForUnknownEmail(t *testing.T) {
	h := newHarness(t)
	var compared [][]byte
	orig := compareHash
	compareHash = func(hash, password []byte) error {
		compared = append(compared, hash)
		return orig(hash, password)
	}
	t.Cleanup(func() { compareHash = orig })

	_, err := h.svc.Login(h.ctx, "nobody@harbor.example", testPassword)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	require.Len(t, compared, 1)
	assert.Equal(t, unknownUserHash(), compared[0])

	_, err = h.svc.Login(h.ctx, "cas@harbor.example", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Len(t, compared, 2)
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Login(h.ctx, "cas@harbor.example", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.svc.Login(h.ctx, "nobody@harbor.example", testPassword)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.svc.Login(h.ctx, "", "")
	assertKind(t, domain.KindValidation, err)

	_, err = h.svc.SetUserStatus(h.ctx, admin1, cashier1.UserID, domain.UserSuspended)
	require.NoError(t, err)
	_, err = h.svc.Login(h.ctx, "cas@harbor.example", testPassword)
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)
}

func TestAuthenticateRejectsTampering(t *testing.T) {
	h := newHarness(t)
	sess, err := h.svc.Login(h.ctx, "cas@harbor.example", testPassword)
	require.NoError(t, err)

	_, err = h.svc.Authenticate(h.ctx, sess.Token+"x")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = h.svc.Authenticate(h.ctx, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	other := New(h.store, Config{JWTSecret: []byte("another-secret")}, nil, WithClock(func() time.Time { return h.now }))
	_, err = other.Authenticate(h.ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	// suspension applies to live sessions
	_, err = h.svc.SetUserStatus(h.ctx, admin1, cashier1.UserID, domain.UserSuspended)
	require.NoError(t, err)
	_, err = h.svc.Authenticate(h.ctx, sess.Token)
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)
}

func TestImpersonate(t *testing.T) {
	h := newHarness(t)

	sess, err := h.svc.Impersonate(h.ctx, superAdmin, manager1.UserID)
	require.NoError(t, err)
	assert.Equal(t, superAdmin.UserID, sess.ImpersonatorID)
	assert.Equal(t, h.now.Add(time.Hour), sess.ExpiresAt)

	p, err := h.svc.Authenticate(h.ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, manager1.UserID, p.UserID)
	assert.Equal(t, "ph1", p.PharmacyID)
	assert.Equal(t, superAdmin.UserID, p.ImpersonatorID)
	assert.True(t, p.Impersonated())

	// the assumed identity acts with the tenant's permissions
	_, err = h.svc.AdjustStock(h.ctx, p, StockAdjustment{MedicineID: "m-amox", Delta: 1, Reason: "support fix"})
	require.NoError(t, err)
	_, err = h.svc.AdjustStock(h.ctx, p, StockAdjustment{MedicineID: "m-para", Delta: 1, Reason: "support fix"})
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)

	_, err = h.svc.Impersonate(h.ctx, p, cashier1.UserID)
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.Impersonate(h.ctx, support, cashier1.UserID)
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.Impersonate(h.ctx, superAdmin, billing.UserID)
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.Impersonate(h.ctx, superAdmin, "u-missing")
	assertKind(t, domain.KindNotFound, err)
}

func TestUserManagement(t *testing.T) {
	h := newHarness(t)

	u, err := h.svc.CreateUser(h.ctx, admin1, UserInput{Name: "Nia", Email: "Nia@Harbor.example", Password: "longenough", Role: domain.RoleCashier})
	require.NoError(t, err)
	assert.Equal(t, "ph1", u.PharmacyID)
	assert.Equal(t, "nia@harbor.example", u.Email)
	assert.Equal(t, domain.UserActive, u.Status)

	_, err = h.svc.CreateUser(h.ctx, admin1, UserInput{Name: "Dup", Email: "nia@harbor.example", Password: "longenough", Role: domain.RoleCashier})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	_, err = h.svc.CreateUser(h.ctx, admin1, UserInput{Name: "Short", Email: "s@harbor.example", Password: "short", Role: domain.RoleCashier})
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.CreateUser(h.ctx, admin1, UserInput{Name: "Boss", Email: "b@harbor.example", Password: "longenough", Role: domain.RoleSuperAdmin})
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.CreateUser(h.ctx, manager1, UserInput{Name: "X", Email: "x@harbor.example", Password: "longenough", Role: domain.RoleCashier})
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.CreateUser(h.ctx, admin1, UserInput{PharmacyID: "ph2", Name: "X", Email: "x@hill.example", Password: "longenough", Role: domain.RoleCashier})
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)

	staff, err := h.svc.ListUsers(h.ctx, admin1, "")
	require.NoError(t, err)
	assert.Len(t, staff, 4)

	_, err = h.svc.SetUserStatus(h.ctx, admin1, admin1.UserID, domain.UserSuspended)
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.SetUserStatus(h.ctx, admin1, cashier2.UserID, domain.UserSuspended)
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)

	require.NoError(t, h.svc.ChangePassword(h.ctx, cashier1, testPassword, "new-password"))
	_, err = h.svc.Login(h.ctx, "cas@harbor.example", "new-password")
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.ChangePassword(h.ctx, cashier1, "wrong", "another-one"), domain.ErrInvalidCredentials)
}
