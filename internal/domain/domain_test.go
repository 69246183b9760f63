package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", ErrInsufficientStock, KindConflict},
		{"wrapped sentinel", E("op", ErrNoRefillsRemaining), KindConflict},
		{"not found", NotFound("op", "medicine", "m1"), KindNotFound},
		{"fmt wrapped", fmt.Errorf("outer: %w", Invalid("op", "bad")), KindValidation},
		{"forbidden", Forbidden("op", "nope"), KindForbidden},
		{"auth", E("login", ErrInvalidCredentials), KindAuth},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsThroughWrapping(t *testing.T) {
	err := Detail("ledger.Adjust", ErrInsufficientStock, "medicine %s has %d", "m1", 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "ledger.Adjust")
	assert.ErrorIs(t, Forbidden("op", "x"), ErrPermissionDenied)
}

func TestPermissionLookups(t *testing.T) {
	table := DefaultRolePermissions()

	assert.False(t, table.Has(RoleCashier, PermManageStaff))
	for _, p := range AllPermissions() {
		assert.True(t, table.Has(RoleSuperAdmin, p), "super admin lacks %s", p)
	}
	assert.True(t, table.Has(RoleCashier, PermProcessSales))
	assert.False(t, table.Has(RoleManager, PermManageRoles))
}

func TestPermissionTableSet(t *testing.T) {
	table := DefaultRolePermissions()

	require.NoError(t, table.Set(RoleCashier, []Permission{PermProcessSales, PermProcessReturns}))
	assert.Equal(t, []Permission{PermProcessReturns, PermProcessSales}, table.List(RoleCashier))
	assert.False(t, table.Has(RoleCashier, PermDispense))

	assert.Error(t, table.Set(Role("JANITOR"), nil))
	assert.Error(t, table.Set(RoleCashier, []Permission{"FLY"}))
	assert.Error(t, table.Set(RoleAdmin, []Permission{PermManageStaff, PermApprovePharmacyUpdates}))
	assert.False(t, table.Has(RoleAdmin, PermApprovePharmacyUpdates))
	require.NoError(t, table.Set(RoleSupport, []Permission{PermApprovePharmacyUpdates}))

	clone := table.Clone()
	require.NoError(t, clone.Set(RoleCashier, nil))
	assert.True(t, table.Has(RoleCashier, PermProcessSales))
}

func TestPharmacyUpdateWorkflow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := Pharmacy{ID: "ph1", Name: "Old Name", Phone: "111", Address: "1 Main St"}

	require.NoError(t, p.SubmitUpdate(PharmacyChanges{Name: strp("New Name"), Phone: strp("222")}, now))
	assert.Equal(t, UpdatePendingApproval, p.UpdateStatus)
	assert.Equal(t, "Old Name", p.Name)

	err := p.SubmitUpdate(PharmacyChanges{Name: strp("Other")}, now)
	assert.ErrorIs(t, err, ErrUpdatePending)
	assert.Equal(t, "New Name", *p.PendingChanges.Name)

	require.NoError(t, p.ApproveUpdate(now))
	assert.Equal(t, "New Name", p.Name)
	assert.Equal(t, "222", p.Phone)
	assert.Equal(t, "1 Main St", p.Address)
	assert.Nil(t, p.PendingChanges)
	assert.Empty(t, p.RejectionReason)
	assert.Equal(t, UpdateApproved, p.UpdateStatus)

	// nothing left to approve
	assert.ErrorIs(t, p.ApproveUpdate(now), ErrNoPendingUpdate)
	assert.Equal(t, "New Name", p.Name)
}

func TestPharmacyRejectKeepsFields(t *testing.T) {
	now := time.Now()
	p := Pharmacy{ID: "ph1", Name: "Keep", Email: "a@b.c"}

	require.NoError(t, p.SubmitUpdate(PharmacyChanges{Email: strp("new@b.c")}, now))
	assert.Error(t, p.RejectUpdate("  ", now))
	require.NoError(t, p.RejectUpdate("license mismatch", now))

	assert.Equal(t, "a@b.c", p.Email)
	assert.Nil(t, p.PendingChanges)
	assert.Equal(t, "license mismatch", p.RejectionReason)
	assert.Equal(t, UpdateRejected, p.UpdateStatus)

	// a new submission re-enters the workflow and approval clears the old reason
	require.NoError(t, p.SubmitUpdate(PharmacyChanges{Name: strp("Renamed")}, now))
	require.NoError(t, p.ApproveUpdate(now))
	assert.Empty(t, p.RejectionReason)
}

func TestPharmacySubmitValidation(t *testing.T) {
	p := Pharmacy{}
	assert.Equal(t, KindValidation, KindOf(p.SubmitUpdate(PharmacyChanges{}, time.Now())))
	assert.Equal(t, KindValidation, KindOf(p.SubmitUpdate(PharmacyChanges{Name: strp(" ")}, time.Now())))
	assert.Equal(t, KindValidation, KindOf(p.SubmitUpdate(PharmacyChanges{Email: strp("nope")}, time.Now())))
}

func TestChangeSubscriptionTrialExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	p := Pharmacy{SubscriptionPlan: PlanBasic, Status: PharmacyActive}

	require.NoError(t, p.ChangeSubscription(PlanTrial, &past, now))
	assert.Equal(t, PharmacyExpiredTrial, p.Status)

	require.NoError(t, p.ChangeSubscription(PlanTrial, &future, now))
	assert.Equal(t, PharmacyActive, p.Status)

	require.NoError(t, p.ChangeSubscription(PlanPro, nil, now))
	assert.Nil(t, p.TrialExpiry)
	assert.Equal(t, PharmacyActive, p.Status)

	p.Status = PharmacySuspended
	require.NoError(t, p.ChangeSubscription(PlanTrial, &past, now))
	assert.Equal(t, PharmacySuspended, p.Status)

	assert.Equal(t, KindValidation, KindOf(p.ChangeSubscription("Gold", nil, now)))
}

func TestPrescriptionConsumeRefill(t *testing.T) {
	now := time.Now()
	rx := Prescription{RefillsAllowed: 2, RefillsRemaining: 2, Status: PrescriptionActive}

	require.NoError(t, rx.ConsumeRefill(now))
	assert.Equal(t, 1, rx.RefillsRemaining)
	assert.Equal(t, PrescriptionDispensed, rx.Status)

	require.NoError(t, rx.ConsumeRefill(now))
	assert.Equal(t, 0, rx.RefillsRemaining)
	assert.Equal(t, PrescriptionCompleted, rx.Status)

	err := rx.ConsumeRefill(now)
	assert.ErrorIs(t, err, ErrNoRefillsRemaining)
	assert.Equal(t, KindConflict, KindOf(err))

	cancelled := Prescription{RefillsAllowed: 3, RefillsRemaining: 3, Status: PrescriptionCancelled}
	assert.ErrorIs(t, cancelled.ConsumeRefill(now), ErrPrescriptionClosed)
}

func TestSaleOutstanding(t *testing.T) {
	s := Sale{
		TotalAmount: decimal.NewFromInt(100),
		Payments: []Payment{
			{Method: PayCash, Amount: decimal.NewFromInt(40)},
			{Method: PayCredit, Amount: decimal.NewFromInt(60)},
		},
	}
	assert.True(t, s.Outstanding().Equal(decimal.NewFromInt(60)))

	s.CreditPayments = append(s.CreditPayments, CreditPayment{Amount: decimal.NewFromInt(25)})
	assert.True(t, s.Outstanding().Equal(decimal.NewFromInt(35)))

	clone := s.Clone()
	clone.CreditPayments[0].Amount = decimal.NewFromInt(1)
	assert.True(t, s.CreditPayments[0].Amount.Equal(decimal.NewFromInt(25)))

	s.RefundedAmount = decimal.NewFromInt(30)
	assert.True(t, s.Outstanding().Equal(decimal.NewFromInt(5)))
	s.RefundedAmount = decimal.NewFromInt(100)
	assert.True(t, s.Outstanding().IsZero())
}

func TestStockLogDelta(t *testing.T) {
	assert.Equal(t, -4, StockAdjustmentLog{Type: AdjustmentDecrease, Quantity: 4}.Delta())
	assert.Equal(t, 7, StockAdjustmentLog{Type: AdjustmentIncrease, Quantity: 7}.Delta())
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, PaymentPending.CanTransition(PaymentCompleted))
	assert.True(t, PaymentFailed.CanTransition(PaymentPending))
	assert.True(t, PaymentCompleted.CanTransition(PaymentRefunded))
	assert.False(t, PaymentRefunded.CanTransition(PaymentPending))
	assert.False(t, PaymentPending.CanTransition(PaymentRefunded))
}

func TestTicketReplies(t *testing.T) {
	tk := SupportTicket{Status: TicketOpen}
	tk.AddReply(TicketReply{FromStaff: true, Message: "looking"})
	assert.Equal(t, TicketInProgress, tk.Status)
	tk.AddReply(TicketReply{Message: "still broken"})
	assert.Equal(t, TicketOpen, tk.Status)
	assert.Len(t, tk.Replies, 2)
}

func TestSettingsIsBlocked(t *testing.T) {
	s := PlatformSettings{BlockedIPs: []string{"10.0.0.5", "192.168.1.0/24"}}
	assert.True(t, s.IsBlocked("10.0.0.5"))
	assert.True(t, s.IsBlocked("192.168.1.77"))
	assert.False(t, s.IsBlocked("8.8.8.8"))
}

func TestNewEventStream(t *testing.T) {
	ev, err := NewEvent(AggregateMedicine, "m1", "ph1", EventStockAdjusted, StockAdjustedData{MedicineID: "m1", Delta: -2})
	require.NoError(t, err)
	assert.Equal(t, StreamStock, ev.Stream)
	assert.NotEmpty(t, ev.ID)

	ev, err = NewEvent(AggregatePharmacy, "ph1", "ph1", EventPharmacyUpdateApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, StreamPharmacy, ev.Stream)
}
