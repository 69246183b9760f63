package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// PrescriptionInput creates a prescription.
type PrescriptionInput struct {
	PharmacyID     string                    `json:"pharmacyId,omitempty"`
	PatientName    string                    `json:"patientName"`
	DoctorName     string                    `json:"doctorName"`
	Items          []domain.PrescriptionItem `json:"items"`
	RefillsAllowed int                       `json:"refillsAllowed"`
	Notes          string                    `json:"notes,omitempty"`
	ExternalID     string                    `json:"externalId,omitempty"`
}

// Dispensation is the outcome of one dispense.
type Dispensation struct {
	Prescription *domain.Prescription `json:"prescription"`
	Sale         *domain.Sale         `json:"sale"`
}

// CreatePrescription registers a prescription with RefillsRemaining equal to
// RefillsAllowed.
func (s *Service) CreatePrescription(ctx context.Context, p domain.Principal, in PrescriptionInput) (*domain.Prescription, error) {
	const op = "prescriptions.Create"
	scope, err := tenantScope(op, p, in.PharmacyID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.PatientName) == "" {
		return nil, domain.Invalid(op, "patientName is required")
	}
	if in.RefillsAllowed < 1 {
		return nil, domain.Invalid(op, "refillsAllowed must be at least 1")
	}
	if len(in.Items) == 0 {
		return nil, domain.Invalid(op, "prescription has no items")
	}

	var out *domain.Prescription
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManagePrescriptions, scope); err != nil {
			return err
		}
		rx, err := u.newPrescription(ctx, scope, in)
		if err != nil {
			return err
		}
		if err := u.InsertPrescription(ctx, rx); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregatePrescription, rx.ID, scope, domain.EventPrescriptionCreated, rx); err != nil {
			return err
		}
		out = rx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *unit) newPrescription(ctx context.Context, pharmacyID string, in PrescriptionInput) (*domain.Prescription, error) {
	meds := map[string]*domain.Medicine{}
	items := make([]domain.PrescriptionItem, 0, len(in.Items))
	for i, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, domain.Invalid(u.op, "item %d: quantity must be positive", i+1)
		}
		m, err := u.loadMedicine(ctx, meds, it.MedicineID, pharmacyID)
		if err != nil {
			return nil, err
		}
		it.Name = m.Name
		items = append(items, it)
	}
	return &domain.Prescription{
		ID:               u.s.newID(),
		PharmacyID:       pharmacyID,
		PatientName:      strings.TrimSpace(in.PatientName),
		DoctorName:       strings.TrimSpace(in.DoctorName),
		Items:            items,
		RefillsAllowed:   in.RefillsAllowed,
		RefillsRemaining: in.RefillsAllowed,
		Status:           domain.PrescriptionActive,
		Notes:            in.Notes,
		ExternalID:       in.ExternalID,
		CreatedAt:        u.s.now(),
	}, nil
}

// DispensePrescription fills one refill. Every item is checked against live
// stock before anything is written; the refill, the ledger decrements and a
// Prescription-tender sale at current selling prices then commit together.
func (s *Service) DispensePrescription(ctx context.Context, p domain.Principal, prescriptionID string) (*Dispensation, error) {
	const op = "prescriptions.Dispense"
	scope, err := s.scopeOf(ctx, p, prescriptionScope(prescriptionID))
	if err != nil {
		return nil, err
	}

	var out *Dispensation
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		rx, err := u.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermDispense, rx.PharmacyID); err != nil {
			return err
		}
		if rx.RefillsRemaining <= 0 {
			return domain.E(op, domain.ErrNoRefillsRemaining)
		}

		meds := map[string]*domain.Medicine{}
		need := map[string]int{}
		for _, it := range rx.Items {
			m, err := u.loadMedicine(ctx, meds, it.MedicineID, rx.PharmacyID)
			if err != nil {
				return err
			}
			need[m.ID] += it.Quantity
		}
		if !s.cfg.AllowNegativeStock {
			for id, qty := range need {
				if m := meds[id]; m.StockQuantity < qty {
					return domain.Detail(op, domain.ErrInsufficientStock,
						"%s has %d in stock, %d prescribed", m.Name, m.StockQuantity, qty)
				}
			}
		}

		now := s.now()
		if err := rx.ConsumeRefill(now); err != nil {
			return err
		}

		sale := &domain.Sale{
			ID:             s.newID(),
			PharmacyID:     rx.PharmacyID,
			CustomerName:   rx.PatientName,
			StaffID:        p.UserID,
			Status:         domain.SaleCompleted,
			PrescriptionID: rx.ID,
			TotalAmount:    decimal.Zero,
			CreatedAt:      now,
		}
		for _, it := range rx.Items {
			m := meds[it.MedicineID]
			lineTotal := m.SellingPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
			sale.Items = append(sale.Items, domain.SaleItem{
				MedicineID: m.ID,
				Name:       m.Name,
				Category:   m.Category,
				Quantity:   it.Quantity,
				UnitPrice:  m.SellingPrice,
				CostPrice:  m.CostPrice,
				Discount:   decimal.Zero,
				Total:      lineTotal,
			})
			sale.TotalAmount = sale.TotalAmount.Add(lineTotal)
			if err := u.applyStockDelta(ctx, m, -it.Quantity, saleReason(sale.ID), false); err != nil {
				return err
			}
		}
		sale.Payments = []domain.Payment{{Method: domain.PayPrescription, Amount: sale.TotalAmount}}

		if err := u.UpdatePrescription(ctx, rx); err != nil {
			return err
		}
		if err := u.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregatePrescription, rx.ID, rx.PharmacyID, domain.EventPrescriptionDispensed, rx); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregateSale, sale.ID, rx.PharmacyID, domain.EventSaleRecorded, domain.SaleRecordedData{
			SaleID:         sale.ID,
			TotalAmount:    sale.TotalAmount.StringFixed(2),
			Items:          len(sale.Items),
			PrescriptionID: rx.ID,
		}); err != nil {
			return err
		}

		total, _ := sale.TotalAmount.Float64()
		u.onCommit(func() {
			s.metrics.Dispensed()
			s.metrics.SaleRecorded(total)
		})
		out = &Dispensation{Prescription: rx, Sale: sale}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("prescription dispensed",
		zap.String("prescription_id", out.Prescription.ID),
		zap.String("sale_id", out.Sale.ID),
		zap.Int("refills_remaining", out.Prescription.RefillsRemaining))
	return out, nil
}

// CancelPrescription closes a prescription that still has refills.
func (s *Service) CancelPrescription(ctx context.Context, p domain.Principal, id string) (*domain.Prescription, error) {
	const op = "prescriptions.Cancel"
	scope, err := s.scopeOf(ctx, p, prescriptionScope(id))
	if err != nil {
		return nil, err
	}
	var out *domain.Prescription
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		rx, err := u.GetPrescription(ctx, id)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermManagePrescriptions, rx.PharmacyID); err != nil {
			return err
		}
		if rx.Status == domain.PrescriptionCompleted || rx.Status == domain.PrescriptionCancelled {
			return domain.Detail(op, domain.ErrPrescriptionClosed, "prescription is %s", rx.Status)
		}
		rx.Status = domain.PrescriptionCancelled
		if err := u.UpdatePrescription(ctx, rx); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregatePrescription, rx.ID, rx.PharmacyID, domain.EventPrescriptionCancelled, rx); err != nil {
			return err
		}
		out = rx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPrescription returns one prescription.
func (s *Service) GetPrescription(ctx context.Context, p domain.Principal, id string) (*domain.Prescription, error) {
	var out *domain.Prescription
	err := s.view(ctx, "prescriptions.Get", p, func(ctx context.Context, u *unit) error {
		rx, err := u.GetPrescription(ctx, id)
		if err != nil {
			return err
		}
		if err := u.owns(rx.PharmacyID); err != nil {
			return err
		}
		out = rx
		return nil
	})
	return out, err
}

// ListPrescriptions lists prescriptions, newest first.
func (s *Service) ListPrescriptions(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Prescription, error) {
	const op = "prescriptions.List"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Prescription
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.ListPrescriptions(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func prescriptionScope(id string) func(context.Context, store.Tx) (string, error) {
	return func(ctx context.Context, tx store.Tx) (string, error) {
		rx, err := tx.GetPrescription(ctx, id)
		if err != nil {
			return "", err
		}
		return rx.PharmacyID, nil
	}
}
