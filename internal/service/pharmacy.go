package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// PharmacyInput onboards a tenant. When Admin is set the pharmacy's first
// ADMIN account is created in the same unit.
type PharmacyInput struct {
	Name          string      `json:"name"`
	OwnerName     string      `json:"ownerName"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	Address       string      `json:"address"`
	LicenseNumber string      `json:"licenseNumber"`
	Branches      []string    `json:"branches"`
	Plan          domain.Plan `json:"plan,omitempty"`
	TrialExpiry   *time.Time  `json:"trialExpiry,omitempty"`
	Admin         *UserInput  `json:"admin,omitempty"`
}

// CreatePharmacy onboards a tenant, on a trial unless a plan is given.
func (s *Service) CreatePharmacy(ctx context.Context, p domain.Principal, in PharmacyInput) (*domain.Pharmacy, error) {
	const op = "pharmacy.Create"
	if strings.TrimSpace(in.Name) == "" {
		return nil, domain.Invalid(op, "name is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return nil, domain.Invalid(op, "invalid email %q", in.Email)
	}
	plan := in.Plan
	if plan == "" {
		plan = domain.PlanTrial
	}

	id := s.newID()
	var out *domain.Pharmacy
	err := s.update(ctx, op, p, id, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManagePharmacies, ""); err != nil {
			return err
		}
		if !p.IsPlatform() {
			return domain.Forbidden(op, "only platform staff onboard pharmacies")
		}
		now := s.now()
		ph := &domain.Pharmacy{
			ID:            id,
			Name:          strings.TrimSpace(in.Name),
			OwnerName:     in.OwnerName,
			Email:         in.Email,
			Phone:         in.Phone,
			Address:       in.Address,
			LicenseNumber: in.LicenseNumber,
			Branches:      append([]string{}, in.Branches...),
			Status:        domain.PharmacyActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		expiry := in.TrialExpiry
		if plan == domain.PlanTrial && expiry == nil {
			t := now.Add(s.cfg.TrialPeriod)
			expiry = &t
		}
		if err := ph.ChangeSubscription(plan, expiry, now); err != nil {
			return err
		}
		if err := u.InsertPharmacy(ctx, ph); err != nil {
			return err
		}
		if in.Admin != nil {
			admin := *in.Admin
			admin.PharmacyID = ph.ID
			admin.Role = domain.RoleAdmin
			if _, err := u.newUser(ctx, admin); err != nil {
				return err
			}
		}
		if err := u.emit(ctx, domain.AggregatePharmacy, ph.ID, ph.ID, domain.EventPharmacyCreated, ph); err != nil {
			return err
		}
		out = ph
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("pharmacy onboarded", zap.String("pharmacy_id", out.ID), zap.String("plan", string(out.SubscriptionPlan)))
	return out, nil
}

// GetPharmacy returns a pharmacy. Tenants only see their own.
func (s *Service) GetPharmacy(ctx context.Context, p domain.Principal, id string) (*domain.Pharmacy, error) {
	var out *domain.Pharmacy
	err := s.view(ctx, "pharmacy.Get", p, func(ctx context.Context, u *unit) error {
		if err := u.owns(id); err != nil {
			return err
		}
		ph, err := u.GetPharmacy(ctx, id)
		if err != nil {
			return err
		}
		out = ph
		return nil
	})
	return out, err
}

// ListPharmacies lists tenants by name. Tenant principals get their own.
func (s *Service) ListPharmacies(ctx context.Context, p domain.Principal) ([]domain.Pharmacy, error) {
	var out []domain.Pharmacy
	err := s.view(ctx, "pharmacy.List", p, func(ctx context.Context, u *unit) error {
		all, err := u.ListPharmacies(ctx)
		if err != nil {
			return err
		}
		for _, ph := range all {
			if p.IsPlatform() || ph.ID == p.PharmacyID {
				out = append(out, ph)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// PendingUpdates lists pharmacies waiting for an approval decision.
func (s *Service) PendingUpdates(ctx context.Context, p domain.Principal) ([]domain.Pharmacy, error) {
	var out []domain.Pharmacy
	err := s.view(ctx, "pharmacy.PendingUpdates", p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermApprovePharmacyUpdates, ""); err != nil {
			return err
		}
		all, err := u.ListPharmacies(ctx)
		if err != nil {
			return err
		}
		out = make([]domain.Pharmacy, 0)
		for _, ph := range all {
			if ph.UpdateStatus == domain.UpdatePendingApproval {
				out = append(out, ph)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, err
}

// SubmitPharmacyUpdate stages a tenant edit for platform approval.
func (s *Service) SubmitPharmacyUpdate(ctx context.Context, p domain.Principal, pharmacyID string, changes domain.PharmacyChanges) (*domain.Pharmacy, error) {
	const op = "pharmacy.SubmitUpdate"
	return s.mutatePharmacy(ctx, op, p, pharmacyID, domain.PermSubmitPharmacyUpdates, func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error) {
		if err := ph.SubmitUpdate(changes, s.now()); err != nil {
			return "", nil, err
		}
		return domain.EventPharmacyUpdateSubmitted, domain.PharmacyUpdateData{
			PharmacyID: ph.ID,
			Status:     ph.UpdateStatus,
			Changes:    ph.PendingChanges,
		}, nil
	})
}

// ApprovePharmacyUpdate merges the pending edit into the pharmacy.
func (s *Service) ApprovePharmacyUpdate(ctx context.Context, p domain.Principal, pharmacyID string) (*domain.Pharmacy, error) {
	const op = "pharmacy.ApproveUpdate"
	ph, err := s.mutatePharmacy(ctx, op, p, pharmacyID, domain.PermApprovePharmacyUpdates, func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error) {
		if !p.IsPlatform() {
			return "", nil, domain.Forbidden(op, "only platform staff review pharmacy updates")
		}
		changes := ph.PendingChanges
		if err := ph.ApproveUpdate(s.now()); err != nil {
			return "", nil, err
		}
		u.onCommit(func() { s.metrics.Decision("approved") })
		return domain.EventPharmacyUpdateApproved, domain.PharmacyUpdateData{
			PharmacyID: ph.ID,
			Status:     ph.UpdateStatus,
			Changes:    changes,
		}, nil
	})
	if err == nil {
		s.logger.Info("pharmacy update approved", zap.String("pharmacy_id", pharmacyID), zap.String("approver", p.UserID))
	}
	return ph, err
}

// RejectPharmacyUpdate discards the pending edit with a reason.
func (s *Service) RejectPharmacyUpdate(ctx context.Context, p domain.Principal, pharmacyID, reason string) (*domain.Pharmacy, error) {
	const op = "pharmacy.RejectUpdate"
	return s.mutatePharmacy(ctx, op, p, pharmacyID, domain.PermApprovePharmacyUpdates, func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error) {
		if !p.IsPlatform() {
			return "", nil, domain.Forbidden(op, "only platform staff review pharmacy updates")
		}
		if err := ph.RejectUpdate(reason, s.now()); err != nil {
			return "", nil, err
		}
		u.onCommit(func() { s.metrics.Decision("rejected") })
		return domain.EventPharmacyUpdateRejected, domain.PharmacyUpdateData{
			PharmacyID: ph.ID,
			Status:     ph.UpdateStatus,
			Reason:     ph.RejectionReason,
		}, nil
	})
}

// ChangeSubscription moves a pharmacy to another plan.
func (s *Service) ChangeSubscription(ctx context.Context, p domain.Principal, pharmacyID string, plan domain.Plan, trialExpiry *time.Time) (*domain.Pharmacy, error) {
	const op = "pharmacy.ChangeSubscription"
	return s.mutatePharmacy(ctx, op, p, pharmacyID, domain.PermManageSubscriptions, func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error) {
		if !p.IsPlatform() {
			return "", nil, domain.Forbidden(op, "only platform staff change subscriptions")
		}
		if err := ph.ChangeSubscription(plan, trialExpiry, s.now()); err != nil {
			return "", nil, err
		}
		return domain.EventSubscriptionChanged, ph, nil
	})
}

// SetPharmacyStatus suspends or reactivates a pharmacy. Reactivation still
// honours an expired trial.
func (s *Service) SetPharmacyStatus(ctx context.Context, p domain.Principal, pharmacyID string, status domain.PharmacyStatus) (*domain.Pharmacy, error) {
	const op = "pharmacy.SetStatus"
	if status != domain.PharmacyActive && status != domain.PharmacySuspended {
		return nil, domain.Invalid(op, "status must be %s or %s", domain.PharmacyActive, domain.PharmacySuspended)
	}
	return s.mutatePharmacy(ctx, op, p, pharmacyID, domain.PermManagePharmacies, func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error) {
		if !p.IsPlatform() {
			return "", nil, domain.Forbidden(op, "only platform staff change pharmacy status")
		}
		now := s.now()
		ph.Status = status
		ph.RefreshStatus(now)
		ph.UpdatedAt = now
		return domain.EventPharmacyStatusChanged, ph, nil
	})
}

// ExpireTrials moves every active pharmacy whose trial has lapsed to
// expired_trial and returns how many changed.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	var due []string
	err := s.store.View(ctx, func(tx store.Tx) error {
		all, err := tx.ListPharmacies(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		for _, ph := range all {
			if ph.Status == domain.PharmacyActive && ph.SubscriptionPlan == domain.PlanTrial &&
				ph.TrialExpiry != nil && !ph.TrialExpiry.After(now) {
				due = append(due, ph.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	system := domain.Principal{UserID: "system", Name: "system", Role: domain.RoleSuperAdmin}
	n := 0
	for _, id := range due {
		changed := false
		err := s.update(ctx, "pharmacy.ExpireTrial", system, id, func(ctx context.Context, u *unit) error {
			ph, err := u.GetPharmacy(ctx, id)
			if err != nil {
				return err
			}
			before := ph.Status
			ph.RefreshStatus(s.now())
			if ph.Status == before {
				return nil
			}
			ph.UpdatedAt = s.now()
			if err := u.UpdatePharmacy(ctx, ph); err != nil {
				return err
			}
			changed = true
			return u.emit(ctx, domain.AggregatePharmacy, ph.ID, ph.ID, domain.EventPharmacyStatusChanged, ph)
		})
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("trials expired", zap.Int("pharmacies", n))
	}
	return n, nil
}

// mutatePharmacy loads, authorizes, changes and persists one pharmacy and
// emits the event the change returns.
func (s *Service) mutatePharmacy(ctx context.Context, op string, p domain.Principal, pharmacyID string, perm domain.Permission,
	change func(u *unit, ph *domain.Pharmacy) (domain.EventType, any, error)) (*domain.Pharmacy, error) {
	if pharmacyID == "" {
		if p.IsPlatform() {
			return nil, domain.Invalid(op, "pharmacyId is required")
		}
		pharmacyID = p.PharmacyID
	}
	var out *domain.Pharmacy
	err := s.update(ctx, op, p, pharmacyID, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, perm, pharmacyID); err != nil {
			return err
		}
		ph, err := u.GetPharmacy(ctx, pharmacyID)
		if err != nil {
			return err
		}
		typ, data, err := change(u, ph)
		if err != nil {
			return err
		}
		if err := u.UpdatePharmacy(ctx, ph); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregatePharmacy, ph.ID, ph.ID, typ, data); err != nil {
			return err
		}
		out = ph
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
