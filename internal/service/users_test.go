package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestEnsureSuperAdmin(t *testing.T) {
	h := newHarness(t)

	created, err := h.svc.EnsureSuperAdmin(h.ctx, "Ops", "ops@rxledger.io", "long-enough-pw")
	require.NoError(t, err)
	assert.True(t, created)

	sess, err := h.svc.Login(h.ctx, "OPS@rxledger.io", "long-enough-pw")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSuperAdmin, sess.User.Role)
	assert.Empty(t, sess.User.PharmacyID)

	created, err = h.svc.EnsureSuperAdmin(h.ctx, "Ops", "ops@rxledger.io", "another-password")
	require.NoError(t, err)
	assert.False(t, created)

	// an existing account is left alone
	_, err = h.svc.Login(h.ctx, "ops@rxledger.io", "long-enough-pw")
	require.NoError(t, err)
}

func TestEnsureSuperAdminValidates(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.EnsureSuperAdmin(h.ctx, "Ops", "ops@rxledger.io", "short")
	assertKind(t, domain.KindValidation, err)
}
