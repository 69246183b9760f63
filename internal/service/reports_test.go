package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestSalesSummary(t *testing.T) {
	h := newHarness(t)
	from := h.now.Add(-time.Hour)

	sale, err := h.svc.RecordSale(h.ctx, cashier1, SaleDraft{
		Items:    []SaleLine{line("m-amox", 2), line("m-ibu", 2)},
		Payments: []domain.Payment{pay(domain.PayCash, "10.00"), pay(domain.PayCredit, "5.00")},
	}, "")
	require.NoError(t, err)
	_, err = h.svc.RecordReturn(h.ctx, manager1, ReturnDraft{
		OriginalSaleID: sale.ID, Items: []ReturnLine{{MedicineID: "m-ibu", Quantity: 1}}, Reason: "damaged box",
	})
	require.NoError(t, err)
	_, err = h.svc.CreateExpense(h.ctx, manager1, ExpenseInput{Category: "Utilities", Amount: dec("3.00")})
	require.NoError(t, err)

	// outside the window
	h.now = h.now.Add(48 * time.Hour)
	_, err = h.svc.RecordSale(h.ctx, cashier1, SaleDraft{
		Items: []SaleLine{line("m-amox", 1)}, Payments: []domain.Payment{pay(domain.PayCash, "5.00")},
	}, "")
	require.NoError(t, err)

	sum, err := h.svc.SalesSummary(h.ctx, manager1, "", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sales)
	assertMoney(t, "15.00", sum.Revenue)
	assertMoney(t, "8.00", sum.Cost)
	assertMoney(t, "7.00", sum.GrossProfit)
	assertMoney(t, "2.50", sum.Refunds)
	assertMoney(t, "3.00", sum.Expenses)
	assertMoney(t, "1.50", sum.NetProfit)
	// the refund comes off the credit tender
	assertMoney(t, "2.50", sum.Outstanding)
	assertMoney(t, "10.00", sum.ByMethod[domain.PayCash])
	require.Len(t, sum.TopMedicines, 2)
	assert.Equal(t, "Amoxicillin", sum.TopMedicines[0].Name)

	_, err = h.svc.SalesSummary(h.ctx, cashier1, "", from, time.Time{})
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.SalesSummary(h.ctx, manager1, "", from, from)
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.SalesSummary(h.ctx, billing, "", from, time.Time{})
	assertKind(t, domain.KindValidation, err)

	platform, err := h.svc.SalesSummary(h.ctx, billing, "ph1", from, h.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, platform.Sales)
}

func TestExportReports(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RecordSale(h.ctx, cashier1, SaleDraft{
		Items: []SaleLine{line("m-amox", 1)}, Payments: []domain.Payment{pay(domain.PayCard, "5.00")},
	}, "")
	require.NoError(t, err)

	data, err := h.svc.ExportSalesReport(h.ctx, manager1, "", h.now.Add(-time.Hour), h.now.Add(time.Minute))
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	rows, err := f.GetRows("Sales")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NoError(t, f.Close())

	data, err = h.svc.ExportStockReport(h.ctx, manager1, "")
	require.NoError(t, err)
	f, err = excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err = f.GetRows("Stock")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Amoxicillin", rows[1][1])
}

func stockSheet(t *testing.T, rows [][]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", ref, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return bytes.NewReader(buf.Bytes())
}

func TestApplyStockCount(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ApplyStockCount(h.ctx, manager1, "", stockSheet(t, [][]any{
		{"NDC", "Name", "Counted"},
		{"0093-4155-73", "", 7},
		{"", "ibuprofen", 3},
	}))
	require.NoError(t, err)
	require.Len(t, res.Adjusted, 1)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, domain.AdjustmentDecrease, res.Adjusted[0].Type)
	assert.Equal(t, 3, res.Adjusted[0].Quantity)
	assert.Equal(t, 7, h.stock("m-amox"))

	logs := h.logs("m-amox")
	require.Len(t, logs, 1)
	assert.Equal(t, "Stock count", logs[0].Reason)

	_, err = h.svc.ApplyStockCount(h.ctx, manager1, "", stockSheet(t, [][]any{
		{"Name", "Counted"},
		{"Amoxicillin", 1},
		{"Unknown", 2},
	}))
	assertKind(t, domain.KindValidation, err)
	assert.Equal(t, 7, h.stock("m-amox"))

	_, err = h.svc.ApplyStockCount(h.ctx, manager1, "", stockSheet(t, [][]any{
		{"Name", "Counted"},
		{"Amoxicillin", 1},
		{"amoxicillin", 2},
	}))
	assertKind(t, domain.KindValidation, err)

	_, err = h.svc.ApplyStockCount(h.ctx, cashier1, "", stockSheet(t, [][]any{{"Name", "Counted"}, {"Amoxicillin", 1}}))
	assertKind(t, domain.KindForbidden, err)
	_, err = h.svc.ApplyStockCount(h.ctx, manager1, "", bytes.NewReader([]byte("not a workbook")))
	assertKind(t, domain.KindValidation, err)
}
