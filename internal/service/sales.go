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

// SaleLine is one requested sale line. A zero UnitPrice takes the
// medicine's selling price. Total, when sent, must match the recomputed
// line total.
type SaleLine struct {
	MedicineID string          `json:"medicineId"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
}

// SaleDraft is the input of RecordSale and HoldSale.
type SaleDraft struct {
	PharmacyID   string           `json:"pharmacyId,omitempty"`
	BranchName   string           `json:"branchName,omitempty"`
	Items        []SaleLine       `json:"items"`
	Payments     []domain.Payment `json:"payments"`
	TotalAmount  *decimal.Decimal `json:"totalAmount,omitempty"`
	CustomerName string           `json:"customerName,omitempty"`
}

// ReturnLine is one returned medicine.
type ReturnLine struct {
	MedicineID string `json:"medicineId"`
	Quantity   int    `json:"quantity"`
}

// ReturnDraft is the input of RecordReturn.
type ReturnDraft struct {
	PharmacyID     string       `json:"pharmacyId,omitempty"`
	OriginalSaleID string       `json:"originalSaleId,omitempty"`
	Items          []ReturnLine `json:"items"`
	Reason         string       `json:"reason"`
}

// CreditPaymentInput settles part of a sale's credit tender.
type CreditPaymentInput struct {
	Amount decimal.Decimal      `json:"amount"`
	Method domain.PaymentMethod `json:"method"`
}

// RecordSale completes a sale: every line decrements stock through the
// ledger, and the sale, ledger entries and events commit together. When
// heldSaleID is set the held sale is removed in the same unit; a draft
// without items takes the held sale's lines.
func (s *Service) RecordSale(ctx context.Context, p domain.Principal, draft SaleDraft, heldSaleID string) (*domain.Sale, error) {
	const op = "sales.RecordSale"
	scope, err := tenantScope(op, p, draft.PharmacyID)
	if err != nil {
		return nil, err
	}

	var out *domain.Sale
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermProcessSales, scope); err != nil {
			return err
		}

		d := draft
		if heldSaleID != "" {
			held, err := u.GetHeldSale(ctx, heldSaleID)
			if err != nil {
				return err
			}
			if held.PharmacyID != scope {
				return domain.E(op, domain.ErrCrossTenantAccess)
			}
			if err := u.DeleteHeldSale(ctx, heldSaleID); err != nil {
				return err
			}
			d = mergeHeld(d, held)
		}

		sale, meds, err := u.buildSale(ctx, scope, d)
		if err != nil {
			return err
		}
		if err := checkPayments(op, sale.TotalAmount, d.Payments); err != nil {
			return err
		}
		sale.Payments = append([]domain.Payment(nil), d.Payments...)
		sale.Status = domain.SaleCompleted

		for _, it := range sale.Items {
			if err := u.applyStockDelta(ctx, meds[it.MedicineID], -it.Quantity, saleReason(sale.ID), false); err != nil {
				return err
			}
		}
		if err := u.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregateSale, sale.ID, scope, domain.EventSaleRecorded, domain.SaleRecordedData{
			SaleID:       sale.ID,
			TotalAmount:  sale.TotalAmount.StringFixed(2),
			Items:        len(sale.Items),
			FromHeldSale: heldSaleID,
		}); err != nil {
			return err
		}

		total, _ := sale.TotalAmount.Float64()
		u.onCommit(func() { s.metrics.SaleRecorded(total) })
		out = sale
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale recorded",
		zap.String("sale_id", out.ID),
		zap.String("pharmacy_id", out.PharmacyID),
		zap.String("total", out.TotalAmount.StringFixed(2)),
		zap.Int("items", len(out.Items)))
	return out, nil
}

// mergeHeld fills the gaps of a completion draft from the held sale.
func mergeHeld(d SaleDraft, held *domain.Sale) SaleDraft {
	if len(d.Items) == 0 {
		for _, it := range held.Items {
			d.Items = append(d.Items, SaleLine{
				MedicineID: it.MedicineID,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				Discount:   it.Discount,
			})
		}
	}
	if d.CustomerName == "" {
		d.CustomerName = held.CustomerName
	}
	if d.BranchName == "" {
		d.BranchName = held.BranchName
	}
	return d
}

// buildSale validates a draft and recomputes every line total and the sale
// total. Repeated medicines share one loaded record so successive ledger
// writes see each other.
func (u *unit) buildSale(ctx context.Context, pharmacyID string, d SaleDraft) (*domain.Sale, map[string]*domain.Medicine, error) {
	if len(d.Items) == 0 {
		return nil, nil, domain.Invalid(u.op, "sale has no items")
	}

	meds := make(map[string]*domain.Medicine, len(d.Items))
	items := make([]domain.SaleItem, 0, len(d.Items))
	total := decimal.Zero
	for i, line := range d.Items {
		if line.Quantity <= 0 {
			return nil, nil, domain.Invalid(u.op, "item %d: quantity must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() {
			return nil, nil, domain.Invalid(u.op, "item %d: price and discount must not be negative", i+1)
		}
		m, err := u.loadMedicine(ctx, meds, line.MedicineID, pharmacyID)
		if err != nil {
			return nil, nil, err
		}

		price := line.UnitPrice
		if price.IsZero() {
			price = m.SellingPrice
		}
		gross := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if line.Discount.GreaterThan(gross) {
			return nil, nil, domain.Invalid(u.op, "item %d: discount exceeds line amount", i+1)
		}
		lineTotal := gross.Sub(line.Discount)
		if !line.Total.IsZero() && !line.Total.Equal(lineTotal) {
			return nil, nil, domain.Invalid(u.op, "item %d: total %s does not match %s", i+1, line.Total, lineTotal.StringFixed(2))
		}

		items = append(items, domain.SaleItem{
			MedicineID: m.ID,
			Name:       m.Name,
			Category:   m.Category,
			Quantity:   line.Quantity,
			UnitPrice:  price,
			CostPrice:  m.CostPrice,
			Discount:   line.Discount,
			Total:      lineTotal,
		})
		total = total.Add(lineTotal)
	}
	if d.TotalAmount != nil && !d.TotalAmount.Equal(total) {
		return nil, nil, domain.Invalid(u.op, "totalAmount %s does not match items total %s", d.TotalAmount, total.StringFixed(2))
	}

	return &domain.Sale{
		ID:           u.s.newID(),
		PharmacyID:   pharmacyID,
		BranchName:   d.BranchName,
		Items:        items,
		Payments:     []domain.Payment{},
		TotalAmount:  total,
		CustomerName: strings.TrimSpace(d.CustomerName),
		StaffID:      u.p.UserID,
		CreatedAt:    u.s.now(),
	}, meds, nil
}

// loadMedicine reads a medicine once per unit and checks its tenant.
func (u *unit) loadMedicine(ctx context.Context, cache map[string]*domain.Medicine, id, pharmacyID string) (*domain.Medicine, error) {
	if m, ok := cache[id]; ok {
		return m, nil
	}
	if id == "" {
		return nil, domain.Invalid(u.op, "medicineId is required")
	}
	m, err := u.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.PharmacyID != pharmacyID {
		return nil, domain.E(u.op, domain.ErrCrossTenantAccess)
	}
	cache[id] = m
	return m, nil
}

// checkPayments requires known tenders with positive amounts summing to the
// sale total. Credit is a tender like any other. The Prescription tender is
// only written by the dispenser.
func checkPayments(op string, total decimal.Decimal, payments []domain.Payment) error {
	if len(payments) == 0 {
		return domain.Invalid(op, "at least one payment is required")
	}
	paid := decimal.Zero
	for _, pm := range payments {
		if !pm.Method.Valid() {
			return domain.Invalid(op, "unknown payment method %q", pm.Method)
		}
		if pm.Method == domain.PayPrescription {
			return domain.Invalid(op, "prescription tender is reserved for dispensing")
		}
		if !pm.Amount.IsPositive() {
			return domain.Invalid(op, "payment amounts must be positive")
		}
		paid = paid.Add(pm.Amount)
	}
	if !paid.Equal(total) {
		return domain.Invalid(op, "payments %s do not cover total %s", paid.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// HoldSale parks a draft for later completion. Stock is untouched.
func (s *Service) HoldSale(ctx context.Context, p domain.Principal, draft SaleDraft) (*domain.Sale, error) {
	const op = "sales.HoldSale"
	scope, err := tenantScope(op, p, draft.PharmacyID)
	if err != nil {
		return nil, err
	}

	var out *domain.Sale
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermProcessSales, scope); err != nil {
			return err
		}
		sale, _, err := u.buildSale(ctx, scope, draft)
		if err != nil {
			return err
		}
		sale.Status = domain.SaleHeld
		if err := u.InsertHeldSale(ctx, sale); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregateSale, sale.ID, scope, domain.EventSaleHeld, domain.SaleRecordedData{
			SaleID:      sale.ID,
			TotalAmount: sale.TotalAmount.StringFixed(2),
			Items:       len(sale.Items),
		}); err != nil {
			return err
		}
		out = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListHeldSales lists held sales. Tenant staff see the ones they parked;
// holders of MANAGE_INVENTORY and platform staff see every held sale of the
// pharmacy.
func (s *Service) ListHeldSales(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Sale, error) {
	const op = "sales.ListHeldSales"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Sale
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		table, err := u.RolePermissions(ctx)
		if err != nil {
			return err
		}
		all, err := u.ListHeldSales(ctx, scope)
		if err != nil {
			return err
		}
		everyone := p.IsPlatform() || table.Has(p.Role, domain.PermManageInventory)
		out = make([]domain.Sale, 0, len(all))
		for _, sale := range all {
			if everyone || sale.StaffID == p.UserID {
				out = append(out, sale)
			}
		}
		return nil
	})
	return out, err
}

// DiscardHeldSale drops a held sale without completing it.
func (s *Service) DiscardHeldSale(ctx context.Context, p domain.Principal, id string) error {
	const op = "sales.DiscardHeldSale"
	scope, err := s.scopeOf(ctx, p, func(ctx context.Context, tx store.Tx) (string, error) {
		h, err := tx.GetHeldSale(ctx, id)
		if err != nil {
			return "", err
		}
		return h.PharmacyID, nil
	})
	if err != nil {
		return err
	}
	return s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		h, err := u.GetHeldSale(ctx, id)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermProcessSales, h.PharmacyID); err != nil {
			return err
		}
		return u.DeleteHeldSale(ctx, id)
	})
}

// RecordReturn puts returned stock back through the ledger. When the return
// references a sale, quantities are capped by what was sold minus what was
// already returned, refunds use the sale's unit prices, and a fully returned
// sale is marked Refunded.
func (s *Service) RecordReturn(ctx context.Context, p domain.Principal, draft ReturnDraft) (*domain.Return, error) {
	const op = "sales.RecordReturn"
	scope, err := tenantScope(op, p, draft.PharmacyID)
	if err != nil {
		return nil, err
	}
	if len(draft.Items) == 0 {
		return nil, domain.Invalid(op, "return has no items")
	}
	if strings.TrimSpace(draft.Reason) == "" {
		return nil, domain.Invalid(op, "reason is required")
	}
	for i, it := range draft.Items {
		if it.Quantity <= 0 {
			return nil, domain.Invalid(op, "item %d: quantity must be positive", i+1)
		}
	}

	var out *domain.Return
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermProcessReturns, scope); err != nil {
			return err
		}

		var (
			original  *domain.Sale
			remaining map[string]int
			prices    map[string]decimal.Decimal
		)
		if draft.OriginalSaleID != "" {
			sale, err := u.GetSale(ctx, draft.OriginalSaleID)
			if err != nil {
				return err
			}
			if sale.PharmacyID != scope {
				return domain.E(op, domain.ErrCrossTenantAccess)
			}
			if remaining, err = u.returnable(ctx, sale); err != nil {
				return err
			}
			prices = make(map[string]decimal.Decimal, len(sale.Items))
			for _, it := range sale.Items {
				if _, ok := prices[it.MedicineID]; !ok {
					prices[it.MedicineID] = it.UnitPrice
				}
			}
			original = sale
		}

		ret := &domain.Return{
			ID:             s.newID(),
			PharmacyID:     scope,
			OriginalSaleID: draft.OriginalSaleID,
			Reason:         strings.TrimSpace(draft.Reason),
			TotalRefund:    decimal.Zero,
			StaffID:        p.UserID,
			CreatedAt:      s.now(),
		}
		meds := map[string]*domain.Medicine{}
		for _, line := range draft.Items {
			m, err := u.loadMedicine(ctx, meds, line.MedicineID, scope)
			if err != nil {
				return err
			}
			price := m.SellingPrice
			if original != nil {
				if line.Quantity > remaining[m.ID] {
					return domain.Detail(op, domain.ErrReturnExceedsSale,
						"%s: %d returnable, %d requested", m.Name, remaining[m.ID], line.Quantity)
				}
				remaining[m.ID] -= line.Quantity
				price = prices[m.ID]
			}
			lineTotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			ret.Items = append(ret.Items, domain.ReturnItem{
				MedicineID: m.ID,
				Name:       m.Name,
				Quantity:   line.Quantity,
				UnitPrice:  price,
				Total:      lineTotal,
			})
			ret.TotalRefund = ret.TotalRefund.Add(lineTotal)
			if err := u.applyStockDelta(ctx, m, line.Quantity, returnReason(ret.ID), false); err != nil {
				return err
			}
		}

		if err := u.InsertReturn(ctx, ret); err != nil {
			return err
		}
		if original != nil {
			original.RefundedAmount = original.RefundedAmount.Add(ret.TotalRefund)
			if fullyReturned(remaining) {
				original.Status = domain.SaleRefunded
			}
			if err := u.UpdateSale(ctx, original); err != nil {
				return err
			}
		}
		if err := u.emit(ctx, domain.AggregateReturn, ret.ID, scope, domain.EventReturnRecorded, ret); err != nil {
			return err
		}
		u.onCommit(s.metrics.ReturnRecorded)
		out = ret
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// returnable is sold minus already returned per medicine.
func (u *unit) returnable(ctx context.Context, sale *domain.Sale) (map[string]int, error) {
	left := sale.SoldQuantities()
	prior, err := u.ListReturns(ctx, sale.PharmacyID)
	if err != nil {
		return nil, err
	}
	for _, r := range prior {
		if r.OriginalSaleID != sale.ID {
			continue
		}
		for _, it := range r.Items {
			left[it.MedicineID] -= it.Quantity
		}
	}
	return left, nil
}

func fullyReturned(remaining map[string]int) bool {
	for _, n := range remaining {
		if n > 0 {
			return false
		}
	}
	return true
}

// RecordCreditPayment settles part of a sale's credit tender. Payments above
// the outstanding balance are clamped to it.
func (s *Service) RecordCreditPayment(ctx context.Context, p domain.Principal, saleID string, in CreditPaymentInput) (*domain.Sale, error) {
	const op = "sales.RecordCreditPayment"
	if !in.Amount.IsPositive() {
		return nil, domain.Invalid(op, "amount must be positive")
	}
	if !in.Method.Valid() || in.Method == domain.PayCredit || in.Method == domain.PayPrescription {
		return nil, domain.Invalid(op, "invalid settlement method %q", in.Method)
	}
	scope, err := s.scopeOf(ctx, p, saleScope(saleID))
	if err != nil {
		return nil, err
	}

	var out *domain.Sale
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		sale, err := u.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := u.authorize(ctx, domain.PermProcessSales, sale.PharmacyID); err != nil {
			return err
		}
		outstanding := sale.Outstanding()
		if !outstanding.IsPositive() {
			return domain.E(op, domain.ErrNothingOutstanding)
		}
		amount := decimal.Min(in.Amount, outstanding)
		cp := domain.CreditPayment{
			ID:        s.newID(),
			Amount:    amount,
			Method:    in.Method,
			StaffID:   p.UserID,
			CreatedAt: s.now(),
		}
		sale.CreditPayments = append(sale.CreditPayments, cp)
		if err := u.UpdateSale(ctx, sale); err != nil {
			return err
		}
		if err := u.emit(ctx, domain.AggregateSale, sale.ID, sale.PharmacyID, domain.EventCreditPaymentRecorded, cp); err != nil {
			return err
		}
		out = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSale returns one completed sale.
func (s *Service) GetSale(ctx context.Context, p domain.Principal, id string) (*domain.Sale, error) {
	var out *domain.Sale
	err := s.view(ctx, "sales.GetSale", p, func(ctx context.Context, u *unit) error {
		sale, err := u.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if err := u.owns(sale.PharmacyID); err != nil {
			return err
		}
		out = sale
		return nil
	})
	return out, err
}

// ListSales lists completed and refunded sales, newest first.
func (s *Service) ListSales(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Sale, error) {
	const op = "sales.ListSales"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Sale
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.ListSales(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// ListReturns lists returns, newest first.
func (s *Service) ListReturns(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Return, error) {
	const op = "sales.ListReturns"
	scope, err := readScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Return
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.ListReturns(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// CreditSales lists sales with an outstanding credit balance.
func (s *Service) CreditSales(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Sale, error) {
	all, err := s.ListSales(ctx, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0)
	for _, sale := range all {
		if sale.Outstanding().IsPositive() {
			out = append(out, sale)
		}
	}
	return out, nil
}

func saleScope(id string) func(context.Context, store.Tx) (string, error) {
	return func(ctx context.Context, tx store.Tx) (string, error) {
		sale, err := tx.GetSale(ctx, id)
		if err != nil {
			return "", err
		}
		return sale.PharmacyID, nil
	}
}
