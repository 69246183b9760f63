package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/report"
)

// SalesSummary aggregates a pharmacy's trading over a period.
type SalesSummary struct {
	PharmacyID   string                                   `json:"pharmacyId"`
	From         time.Time                                `json:"from"`
	To           time.Time                                `json:"to"`
	Sales        int                                      `json:"sales"`
	Revenue      decimal.Decimal                          `json:"revenue"`
	Cost         decimal.Decimal                          `json:"cost"`
	GrossProfit  decimal.Decimal                          `json:"grossProfit"`
	Refunds      decimal.Decimal                          `json:"refunds"`
	Expenses     decimal.Decimal                          `json:"expenses"`
	NetProfit    decimal.Decimal                          `json:"netProfit"`
	Outstanding  decimal.Decimal                          `json:"outstanding"`
	ByMethod     map[domain.PaymentMethod]decimal.Decimal `json:"byMethod"`
	TopMedicines []MedicineSales                          `json:"topMedicines"`

	sales   []domain.Sale
	returns []domain.Return
}

// MedicineSales is the quantity and revenue of one medicine in a period.
type MedicineSales struct {
	MedicineID string          `json:"medicineId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Revenue    decimal.Decimal `json:"revenue"`
}

const topMedicines = 10

// SalesSummary computes the summary of [from, to). A zero to means now.
func (s *Service) SalesSummary(ctx context.Context, p domain.Principal, pharmacyID string, from, to time.Time) (*SalesSummary, error) {
	const op = "reports.SalesSummary"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if !from.Before(to) {
		return nil, domain.Invalid(op, "from must be before to")
	}

	sum := &SalesSummary{
		PharmacyID:  scope,
		From:        from,
		To:          to,
		Revenue:     decimal.Zero,
		Cost:        decimal.Zero,
		Refunds:     decimal.Zero,
		Expenses:    decimal.Zero,
		Outstanding: decimal.Zero,
		ByMethod:    map[domain.PaymentMethod]decimal.Decimal{},
	}
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }

	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermViewReports, scope); err != nil {
			return err
		}
		sales, err := u.ListSales(ctx, scope)
		if err != nil {
			return err
		}
		returns, err := u.ListReturns(ctx, scope)
		if err != nil {
			return err
		}
		expenses, err := u.ListExpenses(ctx, scope)
		if err != nil {
			return err
		}

		byMed := map[string]*MedicineSales{}
		for _, sale := range sales {
			if !in(sale.CreatedAt) {
				continue
			}
			sum.sales = append(sum.sales, sale)
			sum.Sales++
			sum.Revenue = sum.Revenue.Add(sale.TotalAmount)
			sum.Cost = sum.Cost.Add(sale.Cost())
			sum.Outstanding = sum.Outstanding.Add(sale.Outstanding())
			for _, pm := range sale.Payments {
				sum.ByMethod[pm.Method] = sum.ByMethod[pm.Method].Add(pm.Amount)
			}
			for _, it := range sale.Items {
				ms, ok := byMed[it.MedicineID]
				if !ok {
					ms = &MedicineSales{MedicineID: it.MedicineID, Name: it.Name, Revenue: decimal.Zero}
					byMed[it.MedicineID] = ms
				}
				ms.Quantity += it.Quantity
				ms.Revenue = ms.Revenue.Add(it.Total)
			}
		}
		for _, r := range returns {
			if in(r.CreatedAt) {
				sum.returns = append(sum.returns, r)
				sum.Refunds = sum.Refunds.Add(r.TotalRefund)
			}
		}
		for _, e := range expenses {
			if in(e.Date) {
				sum.Expenses = sum.Expenses.Add(e.Amount)
			}
		}

		for _, ms := range byMed {
			sum.TopMedicines = append(sum.TopMedicines, *ms)
		}
		sort.Slice(sum.TopMedicines, func(i, j int) bool {
			a, b := sum.TopMedicines[i], sum.TopMedicines[j]
			if a.Quantity != b.Quantity {
				return a.Quantity > b.Quantity
			}
			return a.Name < b.Name
		})
		if len(sum.TopMedicines) > topMedicines {
			sum.TopMedicines = sum.TopMedicines[:topMedicines]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sum.GrossProfit = sum.Revenue.Sub(sum.Cost)
	sum.NetProfit = sum.GrossProfit.Sub(sum.Refunds).Sub(sum.Expenses)
	return sum, nil
}

// ExportSalesReport renders the period's summary, sales and returns as an
// xlsx workbook.
func (s *Service) ExportSalesReport(ctx context.Context, p domain.Principal, pharmacyID string, from, to time.Time) ([]byte, error) {
	sum, err := s.SalesSummary(ctx, p, pharmacyID, from, to)
	if err != nil {
		return nil, err
	}
	lines := []report.SummaryLine{
		{Label: "Pharmacy", Value: sum.PharmacyID},
		{Label: "From", Value: sum.From.Format(time.DateOnly)},
		{Label: "To", Value: sum.To.Format(time.DateOnly)},
		{Label: "Sales", Value: fmt.Sprint(sum.Sales)},
		{Label: "Revenue", Value: sum.Revenue.StringFixed(2)},
		{Label: "Cost of goods", Value: sum.Cost.StringFixed(2)},
		{Label: "Gross profit", Value: sum.GrossProfit.StringFixed(2)},
		{Label: "Refunds", Value: sum.Refunds.StringFixed(2)},
		{Label: "Expenses", Value: sum.Expenses.StringFixed(2)},
		{Label: "Net profit", Value: sum.NetProfit.StringFixed(2)},
		{Label: "Outstanding credit", Value: sum.Outstanding.StringFixed(2)},
	}
	return report.SalesWorkbook(lines, sum.sales, sum.returns)
}

// ExportStockReport renders the current stock as an xlsx workbook.
func (s *Service) ExportStockReport(ctx context.Context, p domain.Principal, pharmacyID string) ([]byte, error) {
	const op = "reports.ExportStock"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var meds []domain.Medicine
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermViewReports, scope); err != nil {
			return err
		}
		var err error
		meds, err = u.ListMedicines(ctx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(meds, func(i, j int) bool { return meds[i].Name < meds[j].Name })
	return report.StockWorkbook(meds, s.cfg.LowStockThreshold)
}

// StockCountResult lists the ledger corrections a stock-take produced.
type StockCountResult struct {
	Adjusted  []domain.StockAdjustmentLog `json:"adjusted"`
	Unchanged int                         `json:"unchanged"`
}

// ApplyStockCount reads a stock-take workbook and books the difference
// between counted and recorded stock for every row through the ledger. The
// whole sheet commits or none of it does.
func (s *Service) ApplyStockCount(ctx context.Context, p domain.Principal, pharmacyID string, r io.Reader) (*StockCountResult, error) {
	const op = "ledger.ApplyStockCount"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	rows, err := report.ParseStockCount(r)
	if err != nil {
		return nil, domain.Invalid(op, "%v", err)
	}

	var out *StockCountResult
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermAdjustStock, scope); err != nil {
			return err
		}
		meds, err := u.ListMedicines(ctx, scope)
		if err != nil {
			return err
		}
		byID := map[string]*domain.Medicine{}
		byNDC := map[string]*domain.Medicine{}
		byName := map[string]*domain.Medicine{}
		for i := range meds {
			m := &meds[i]
			byID[m.ID] = m
			if m.NDC != "" {
				byNDC[m.NDC] = m
			}
			byName[strings.ToLower(m.Name)] = m
		}

		res := &StockCountResult{}
		seen := map[string]int{}
		for _, row := range rows {
			m := byID[row.MedicineID]
			if m == nil && row.NDC != "" {
				m = byNDC[row.NDC]
			}
			if m == nil && row.Name != "" {
				m = byName[strings.ToLower(row.Name)]
			}
			if m == nil {
				return domain.Invalid(op, "row %d: no medicine matches", row.Line)
			}
			if prev, dup := seen[m.ID]; dup {
				return domain.Invalid(op, "row %d: %s already counted on row %d", row.Line, m.Name, prev)
			}
			seen[m.ID] = row.Line

			delta := row.Counted - m.StockQuantity
			if delta == 0 {
				res.Unchanged++
				continue
			}
			if err := u.applyStockDelta(ctx, m, delta, "Stock count", true); err != nil {
				return err
			}
			typ := domain.AdjustmentIncrease
			qty := delta
			if delta < 0 {
				typ, qty = domain.AdjustmentDecrease, -delta
			}
			res.Adjusted = append(res.Adjusted, domain.StockAdjustmentLog{
				PharmacyID: scope,
				MedicineID: m.ID,
				StaffID:    p.UserID,
				Type:       typ,
				Quantity:   qty,
				Reason:     "Stock count",
			})
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
