package domain

import (
	"strings"
	"time"
)

// Plan is a subscription plan.
type Plan string

const (
	PlanTrial      Plan = "Trial"
	PlanBasic      Plan = "Basic"
	PlanPro        Plan = "Pro"
	PlanEnterprise Plan = "Enterprise"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanTrial, PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// PharmacyStatus is the tenant account state.
type PharmacyStatus string

const (
	PharmacyActive       PharmacyStatus = "active"
	PharmacySuspended    PharmacyStatus = "suspended"
	PharmacyExpiredTrial PharmacyStatus = "expired_trial"
)

// UpdateStatus tracks the single-slot pending edit workflow.
type UpdateStatus string

const (
	UpdateNone            UpdateStatus = ""
	UpdatePendingApproval UpdateStatus = "pending_approval"
	UpdateApproved        UpdateStatus = "approved"
	UpdateRejected        UpdateStatus = "rejected"
)

// Pharmacy is the tenant root entity.
type Pharmacy struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	OwnerName        string           `json:"ownerName"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	Address          string           `json:"address"`
	LicenseNumber    string           `json:"licenseNumber"`
	Branches         []string         `json:"branches"`
	SubscriptionPlan Plan             `json:"subscriptionPlan"`
	Status           PharmacyStatus   `json:"status"`
	TrialExpiry      *time.Time       `json:"trialExpiry,omitempty"`
	PendingChanges   *PharmacyChanges `json:"pendingChanges,omitempty"`
	UpdateStatus     UpdateStatus     `json:"updateStatus,omitempty"`
	RejectionReason  string           `json:"rejectionReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	Version          int              `json:"version"`
}

// PharmacyChanges holds a tenant-submitted edit. Nil fields are left as is.
type PharmacyChanges struct {
	Name          *string  `json:"name,omitempty"`
	OwnerName     *string  `json:"ownerName,omitempty"`
	Email         *string  `json:"email,omitempty"`
	Phone         *string  `json:"phone,omitempty"`
	Address       *string  `json:"address,omitempty"`
	LicenseNumber *string  `json:"licenseNumber,omitempty"`
	Branches      []string `json:"branches,omitempty"`
}

// Empty reports whether the edit changes nothing.
func (c PharmacyChanges) Empty() bool {
	return c.Name == nil && c.OwnerName == nil && c.Email == nil && c.Phone == nil &&
		c.Address == nil && c.LicenseNumber == nil && c.Branches == nil
}

// Clone deep-copies p.
func (p Pharmacy) Clone() Pharmacy {
	p.Branches = append([]string(nil), p.Branches...)
	if p.TrialExpiry != nil {
		t := *p.TrialExpiry
		p.TrialExpiry = &t
	}
	if p.PendingChanges != nil {
		c := *p.PendingChanges
		c.Branches = append([]string(nil), c.Branches...)
		p.PendingChanges = &c
	}
	return p
}

// SubmitUpdate stages changes for approval. Only one edit may be in flight.
func (p *Pharmacy) SubmitUpdate(changes PharmacyChanges, now time.Time) error {
	const op = "pharmacy.SubmitUpdate"
	if p.UpdateStatus == UpdatePendingApproval {
		return E(op, ErrUpdatePending)
	}
	if changes.Empty() {
		return Invalid(op, "no changes submitted")
	}
	if changes.Name != nil && strings.TrimSpace(*changes.Name) == "" {
		return Invalid(op, "name cannot be empty")
	}
	if changes.Email != nil && !strings.Contains(*changes.Email, "@") {
		return Invalid(op, "invalid email %q", *changes.Email)
	}
	staged := changes
	if changes.Branches != nil {
		staged.Branches = append([]string{}, changes.Branches...)
	}
	p.PendingChanges = &staged
	p.UpdateStatus = UpdatePendingApproval
	p.UpdatedAt = now
	return nil
}

// ApproveUpdate merges the pending edit field by field and clears the slot.
func (p *Pharmacy) ApproveUpdate(now time.Time) error {
	if p.UpdateStatus != UpdatePendingApproval || p.PendingChanges == nil {
		return E("pharmacy.ApproveUpdate", ErrNoPendingUpdate)
	}
	c := p.PendingChanges
	if c.Name != nil {
		p.Name = *c.Name
	}
	if c.OwnerName != nil {
		p.OwnerName = *c.OwnerName
	}
	if c.Email != nil {
		p.Email = *c.Email
	}
	if c.Phone != nil {
		p.Phone = *c.Phone
	}
	if c.Address != nil {
		p.Address = *c.Address
	}
	if c.LicenseNumber != nil {
		p.LicenseNumber = *c.LicenseNumber
	}
	if c.Branches != nil {
		p.Branches = append([]string(nil), c.Branches...)
	}
	p.PendingChanges = nil
	p.RejectionReason = ""
	p.UpdateStatus = UpdateApproved
	p.UpdatedAt = now
	return nil
}

// RejectUpdate discards the pending edit and records why.
func (p *Pharmacy) RejectUpdate(reason string, now time.Time) error {
	const op = "pharmacy.RejectUpdate"
	if strings.TrimSpace(reason) == "" {
		return Invalid(op, "rejection reason is required")
	}
	if p.UpdateStatus != UpdatePendingApproval {
		return E(op, ErrNoPendingUpdate)
	}
	p.PendingChanges = nil
	p.RejectionReason = strings.TrimSpace(reason)
	p.UpdateStatus = UpdateRejected
	p.UpdatedAt = now
	return nil
}

// ChangeSubscription writes the plan and trial expiry and recomputes status.
func (p *Pharmacy) ChangeSubscription(plan Plan, trialExpiry *time.Time, now time.Time) error {
	if !plan.Valid() {
		return Invalid("pharmacy.ChangeSubscription", "unknown plan %q", plan)
	}
	if plan == PlanTrial && trialExpiry == nil && p.TrialExpiry == nil {
		return Invalid("pharmacy.ChangeSubscription", "trial plan requires a trial expiry")
	}
	p.SubscriptionPlan = plan
	if trialExpiry != nil {
		t := *trialExpiry
		p.TrialExpiry = &t
	}
	if plan != PlanTrial {
		p.TrialExpiry = nil
	}
	p.RefreshStatus(now)
	p.UpdatedAt = now
	return nil
}

// RefreshStatus applies the trial expiry invariant. Suspension is an
// administrative state and is never lifted here.
func (p *Pharmacy) RefreshStatus(now time.Time) {
	if p.Status == PharmacySuspended {
		return
	}
	if p.SubscriptionPlan == PlanTrial && p.TrialExpiry != nil && p.TrialExpiry.Before(now) {
		p.Status = PharmacyExpiredTrial
		return
	}
	p.Status = PharmacyActive
}

// HasBranch reports whether name is one of the pharmacy branches. A pharmacy
// without declared branches accepts any branch name.
func (p *Pharmacy) HasBranch(name string) bool {
	if len(p.Branches) == 0 || name == "" {
		return true
	}
	for _, b := range p.Branches {
		if strings.EqualFold(b, name) {
			return true
		}
	}
	return false
}
