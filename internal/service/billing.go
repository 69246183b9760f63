package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// PaymentInput records a subscription charge.
type PaymentInput struct {
	PharmacyID string          `json:"pharmacyId"`
	Plan       domain.Plan     `json:"plan"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference,omitempty"`
}

// CreatePaymentTransaction records a pending subscription payment.
func (s *Service) CreatePaymentTransaction(ctx context.Context, p domain.Principal, in PaymentInput) (*domain.PaymentTransaction, error) {
	const op = "billing.CreatePayment"
	switch {
	case in.PharmacyID == "":
		return nil, domain.Invalid(op, "pharmacyId is required")
	case !in.Plan.Valid() || in.Plan == domain.PlanTrial:
		return nil, domain.Invalid(op, "plan must be a paid plan")
	case !in.Amount.IsPositive():
		return nil, domain.Invalid(op, "amount must be positive")
	}

	var out *domain.PaymentTransaction
	err := s.update(ctx, op, p, in.PharmacyID, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageBilling, in.PharmacyID); err != nil {
			return err
		}
		if _, err := u.GetPharmacy(ctx, in.PharmacyID); err != nil {
			return err
		}
		now := s.now()
		t := &domain.PaymentTransaction{
			ID:         s.newID(),
			PharmacyID: in.PharmacyID,
			Plan:       in.Plan,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			Status:     domain.PaymentPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := u.InsertPaymentTransaction(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePaymentStatus moves a payment along Pending -> Completed | Failed,
// Failed -> Pending and Completed -> Refunded. Completing a payment puts the
// pharmacy on the paid plan and lifts an expired trial.
func (s *Service) UpdatePaymentStatus(ctx context.Context, p domain.Principal, id string, status domain.PaymentStatus) (*domain.PaymentTransaction, error) {
	const op = "billing.UpdatePaymentStatus"
	scope, err := s.scopeOf(ctx, p, func(ctx context.Context, tx store.Tx) (string, error) {
		t, err := tx.GetPaymentTransaction(ctx, id)
		if err != nil {
			return "", err
		}
		return t.PharmacyID, nil
	})
	if err != nil {
		return nil, err
	}

	var out *domain.PaymentTransaction
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		t, err := u.GetPaymentTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermManageBilling, t.PharmacyID); err != nil {
			return err
		}
		if !t.Status.CanTransition(status) {
			return domain.Detail(op, domain.ErrInvalidTransition, "%s -> %s", t.Status, status)
		}
		now := s.now()
		from := t.Status
		t.Status = status
		t.UpdatedAt = now
		if err := u.UpdatePaymentTransaction(ctx, t); err != nil {
			return err
		}

		if status == domain.PaymentCompleted {
			ph, err := u.GetPharmacy(ctx, t.PharmacyID)
			if err != nil {
				return err
			}
			// a paid plan lifts suspension and trial expiry
			if ph.Status == domain.PharmacyExpiredTrial || ph.Status == domain.PharmacySuspended {
				ph.Status = domain.PharmacyActive
			}
			if err := ph.ChangeSubscription(t.Plan, nil, now); err != nil {
				return err
			}
			if err := u.UpdatePharmacy(ctx, ph); err != nil {
				return err
			}
			if err := u.emit(ctx, domain.AggregatePharmacy, ph.ID, ph.ID, domain.EventSubscriptionChanged, ph); err != nil {
				return err
			}
		}
		if err := u.emit(ctx, domain.AggregatePayment, t.ID, t.PharmacyID, domain.EventPaymentStatusChanged, map[string]any{
			"from": from,
			"to":   status,
			"plan": t.Plan,
		}); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment status changed",
		zap.String("payment_id", out.ID),
		zap.String("pharmacy_id", out.PharmacyID),
		zap.String("status", string(out.Status)))
	return out, nil
}

// ListPaymentTransactions lists payments, newest first.
func (s *Service) ListPaymentTransactions(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.PaymentTransaction, error) {
	const op = "billing.ListPayments"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.PaymentTransaction
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if p.IsPlatform() {
			if err := u.authorize(ctx, domain.PermManageBilling, scope); err != nil {
				return err
			}
		}
		var err error
		out, err = u.ListPaymentTransactions(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}
