package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// StockAdjustment is a manual stock ledger request.
type StockAdjustment struct {
	MedicineID string `json:"medicineId"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
	// Override lets a corrective adjustment take stock below zero.
	Override bool `json:"override,omitempty"`
}

// MedicineInput creates a medicine.
type MedicineInput struct {
	PharmacyID   string          `json:"pharmacyId,omitempty"`
	BranchName   string          `json:"branchName"`
	Name         string          `json:"name"`
	GenericName  string          `json:"genericName,omitempty"`
	Category     string          `json:"category"`
	NDC          string          `json:"ndc,omitempty"`
	ReorderLevel int             `json:"reorderLevel"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	ExpiryDate   *time.Time      `json:"expiryDate,omitempty"`
	SupplierID   string          `json:"supplierId,omitempty"`
	InitialStock int             `json:"initialStock"`
}

// MedicineUpdate edits catalogue fields of a medicine. Stock is never
// written here.
type MedicineUpdate struct {
	Name         *string          `json:"name,omitempty"`
	GenericName  *string          `json:"genericName,omitempty"`
	Category     *string          `json:"category,omitempty"`
	NDC          *string          `json:"ndc,omitempty"`
	ReorderLevel *int             `json:"reorderLevel,omitempty"`
	CostPrice    *decimal.Decimal `json:"costPrice,omitempty"`
	SellingPrice *decimal.Decimal `json:"sellingPrice,omitempty"`
	ExpiryDate   *time.Time       `json:"expiryDate,omitempty"`
	SupplierID   *string          `json:"supplierId,omitempty"`
}

// AdjustStock applies a signed manual change to a medicine's stock and
// records it in the ledger.
func (s *Service) AdjustStock(ctx context.Context, p domain.Principal, adj StockAdjustment) (*domain.Medicine, error) {
	const op = "ledger.AdjustStock"
	if adj.MedicineID == "" {
		return nil, domain.Invalid(op, "medicineId is required")
	}
	if adj.Delta == 0 {
		return nil, domain.Invalid(op, "delta must not be zero")
	}
	if strings.TrimSpace(adj.Reason) == "" {
		return nil, domain.Invalid(op, "reason is required")
	}

	scope, err := s.scopeOf(ctx, p, medicineScope(adj.MedicineID))
	if err != nil {
		return nil, err
	}

	var out *domain.Medicine
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		m, err := u.GetMedicine(ctx, adj.MedicineID)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermAdjustStock, m.PharmacyID); err != nil {
			return err
		}
		if err := u.applyStockDelta(ctx, m, adj.Delta, strings.TrimSpace(adj.Reason), adj.Override); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyStockDelta is the only path that changes StockQuantity. It persists
// the medicine, appends the ledger entry and emits StockAdjusted. Sales and
// dispenses pass override=false.
func (u *unit) applyStockDelta(ctx context.Context, m *domain.Medicine, delta int, reason string, override bool) error {
	if delta == 0 {
		return domain.Invalid(u.op, "delta must not be zero")
	}
	next := m.StockQuantity + delta
	if next < 0 && !override && !u.s.cfg.AllowNegativeStock {
		return domain.Detail(u.op, domain.ErrInsufficientStock,
			"%s has %d in stock, %d requested", m.Name, m.StockQuantity, -delta)
	}

	now := u.s.now()
	m.StockQuantity = next
	m.UpdatedAt = now
	if err := u.UpdateMedicine(ctx, m); err != nil {
		return err
	}

	entry := &domain.StockAdjustmentLog{
		ID:         u.s.newID(),
		PharmacyID: m.PharmacyID,
		MedicineID: m.ID,
		StaffID:    u.p.UserID,
		Type:       domain.AdjustmentIncrease,
		Quantity:   delta,
		Reason:     reason,
		CreatedAt:  now,
	}
	if delta < 0 {
		entry.Type = domain.AdjustmentDecrease
		entry.Quantity = -delta
	}
	if err := u.AppendStockLog(ctx, entry); err != nil {
		return err
	}

	typ := string(entry.Type)
	u.onCommit(func() { u.s.metrics.StockAdjusted(typ) })

	return u.emit(ctx, domain.AggregateMedicine, m.ID, m.PharmacyID, domain.EventStockAdjusted, domain.StockAdjustedData{
		MedicineID:    m.ID,
		Name:          m.Name,
		BranchName:    m.BranchName,
		Delta:         delta,
		StockQuantity: m.StockQuantity,
		ReorderLevel:  m.ReorderLevel,
		Reason:        reason,
	})
}

// CreateMedicine adds a medicine. Opening stock is booked through the ledger.
func (s *Service) CreateMedicine(ctx context.Context, p domain.Principal, in MedicineInput) (*domain.Medicine, error) {
	const op = "ledger.CreateMedicine"
	scope, err := tenantScope(op, p, in.PharmacyID)
	if err != nil {
		return nil, err
	}
	if err := validateMedicine(op, in); err != nil {
		return nil, err
	}

	var out *domain.Medicine
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageInventory, scope); err != nil {
			return err
		}
		ph, err := u.GetPharmacy(ctx, scope)
		if err != nil {
			return err
		}
		if in.BranchName != "" && !ph.HasBranch(in.BranchName) {
			return domain.Invalid(op, "pharmacy has no branch %q", in.BranchName)
		}

		now := s.now()
		m := &domain.Medicine{
			ID:           s.newID(),
			PharmacyID:   scope,
			BranchName:   in.BranchName,
			Name:         strings.TrimSpace(in.Name),
			GenericName:  in.GenericName,
			Category:     in.Category,
			NDC:          in.NDC,
			ReorderLevel: in.ReorderLevel,
			CostPrice:    in.CostPrice,
			SellingPrice: in.SellingPrice,
			ExpiryDate:   in.ExpiryDate,
			SupplierID:   in.SupplierID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := u.InsertMedicine(ctx, m); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregateMedicine, m.ID, scope, domain.EventMedicineCreated, m); err != nil {
			return err
		}
		if in.InitialStock > 0 {
			if err := u.applyStockDelta(ctx, m, in.InitialStock, "Opening stock", false); err != nil {
				return err
			}
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateMedicine(op string, in MedicineInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return domain.Invalid(op, "name is required")
	case in.CostPrice.IsNegative() || in.SellingPrice.IsNegative():
		return domain.Invalid(op, "prices must not be negative")
	case in.InitialStock < 0:
		return domain.Invalid(op, "initial stock must not be negative")
	case in.ReorderLevel < 0:
		return domain.Invalid(op, "reorder level must not be negative")
	}
	return nil
}

// UpdateMedicine edits catalogue fields.
func (s *Service) UpdateMedicine(ctx context.Context, p domain.Principal, id string, upd MedicineUpdate) (*domain.Medicine, error) {
	const op = "ledger.UpdateMedicine"
	scope, err := s.scopeOf(ctx, p, medicineScope(id))
	if err != nil {
		return nil, err
	}

	var out *domain.Medicine
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		m, err := u.GetMedicine(ctx, id)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermManageInventory, m.PharmacyID); err != nil {
			return err
		}
		if upd.Name != nil {
			if strings.TrimSpace(*upd.Name) == "" {
				return domain.Invalid(op, "name cannot be empty")
			}
			m.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.GenericName != nil {
			m.GenericName = *upd.GenericName
		}
		if upd.Category != nil {
			m.Category = *upd.Category
		}
		if upd.NDC != nil {
			m.NDC = *upd.NDC
		}
		if upd.ReorderLevel != nil {
			if *upd.ReorderLevel < 0 {
				return domain.Invalid(op, "reorder level must not be negative")
			}
			m.ReorderLevel = *upd.ReorderLevel
		}
		if upd.CostPrice != nil {
			if upd.CostPrice.IsNegative() {
				return domain.Invalid(op, "prices must not be negative")
			}
			m.CostPrice = *upd.CostPrice
		}
		if upd.SellingPrice != nil {
			if upd.SellingPrice.IsNegative() {
				return domain.Invalid(op, "prices must not be negative")
			}
			m.SellingPrice = *upd.SellingPrice
		}
		if upd.ExpiryDate != nil {
			t := *upd.ExpiryDate
			m.ExpiryDate = &t
		}
		if upd.SupplierID != nil {
			m.SupplierID = *upd.SupplierID
		}
		m.UpdatedAt = s.now()
		if err := u.UpdateMedicine(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMedicine returns one medicine.
func (s *Service) GetMedicine(ctx context.Context, p domain.Principal, id string) (*domain.Medicine, error) {
	var out *domain.Medicine
	err := s.view(ctx, "ledger.GetMedicine", p, func(ctx context.Context, u *unit) error {
		m, err := u.GetMedicine(ctx, id)
		if err != nil {
			return err
		}
		if err := u.owns(m.PharmacyID); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ListMedicines lists a pharmacy's medicines by name.
func (s *Service) ListMedicines(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Medicine, error) {
	const op = "ledger.ListMedicines"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Medicine
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.ListMedicines(ctx, scope)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// LowStock lists medicines at or below their reorder level. Medicines
// without one use threshold, or the configured default when threshold <= 0.
func (s *Service) LowStock(ctx context.Context, p domain.Principal, pharmacyID string, threshold int) ([]domain.Medicine, error) {
	if threshold <= 0 {
		threshold = s.cfg.LowStockThreshold
	}
	all, err := s.ListMedicines(ctx, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Medicine, 0)
	for _, m := range all {
		if m.LowOnStock(threshold) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ExpiringMedicines lists medicines that expire within the window.
func (s *Service) ExpiringMedicines(ctx context.Context, p domain.Principal, pharmacyID string, within time.Duration) ([]domain.Medicine, error) {
	all, err := s.ListMedicines(ctx, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(within)
	out := make([]domain.Medicine, 0)
	for _, m := range all {
		if m.ExpiresBefore(cutoff) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(*out[j].ExpiryDate) })
	return out, nil
}

// StockLogs returns the ledger of one medicine, oldest first.
func (s *Service) StockLogs(ctx context.Context, p domain.Principal, medicineID string) ([]domain.StockAdjustmentLog, error) {
	var out []domain.StockAdjustmentLog
	err := s.view(ctx, "ledger.StockLogs", p, func(ctx context.Context, u *unit) error {
		m, err := u.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if err := u.owns(m.PharmacyID); err != nil {
			return err
		}
		out, err = u.ListStockLogs(ctx, m.PharmacyID, medicineID)
		return err
	})
	return out, err
}

// Reconcile checks that every medicine's stock equals the sum of its ledger
// entries and returns the ids that do not. Seeded stock without ledger
// history is reported as drift.
func (s *Service) Reconcile(ctx context.Context, p domain.Principal, pharmacyID string) ([]string, error) {
	const op = "ledger.Reconcile"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var drift []string
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermViewReports, scope); err != nil {
			return err
		}
		meds, err := u.ListMedicines(ctx, scope)
		if err != nil {
			return err
		}
		logs, err := u.ListStockLogs(ctx, scope, "")
		if err != nil {
			return err
		}
		sum := make(map[string]int, len(meds))
		for _, l := range logs {
			sum[l.MedicineID] += l.Delta()
		}
		for _, m := range meds {
			if sum[m.ID] != m.StockQuantity {
				drift = append(drift, m.ID)
			}
		}
		return nil
	})
	if len(drift) > 0 {
		s.logger.Warn("stock ledger drift", zap.String("pharmacy_id", scope), zap.Int("medicines", len(drift)))
	}
	return drift, err
}

func medicineScope(id string) func(context.Context, store.Tx) (string, error) {
	return func(ctx context.Context, tx store.Tx) (string, error) {
		m, err := tx.GetMedicine(ctx, id)
		if err != nil {
			return "", err
		}
		return m.PharmacyID, nil
	}
}

func saleReason(id string) string   { return fmt.Sprintf("Sale #%s", id) }
func returnReason(id string) string { return fmt.Sprintf("Return #%s", id) }
