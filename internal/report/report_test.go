package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/drfirst/rxledger/internal/domain"
)

func countSheet(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		require.NoError(t, setRow(f, "Sheet1", i+1, r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseStockCount(t *testing.T) {
	data := countSheet(t, [][]any{
		{"NDC", "Medicine", "Counted"},
		{"0001-01", "Amoxicillin", 40},
		{"", "", ""},
		{"", "Ibuprofen", "1,200"},
	})

	rows, err := ParseStockCount(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CountRow{Line: 2, NDC: "0001-01", Name: "Amoxicillin", Counted: 40}, rows[0])
	assert.Equal(t, "Ibuprofen", rows[1].Name)
	assert.Equal(t, 1200, rows[1].Counted)
}

func TestParseStockCountRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rows [][]any
	}{
		{"no count column", [][]any{{"Name", "Price"}, {"A", 1}}},
		{"no identifier", [][]any{{"Counted"}, {3}}},
		{"fractional", [][]any{{"Name", "Counted"}, {"A", 1.5}}},
		{"negative", [][]any{{"Name", "Counted"}, {"A", -2}}},
		{"header only", [][]any{{"Name", "Counted"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStockCount(bytes.NewReader(countSheet(t, tt.rows)))
			assert.Error(t, err)
		})
	}
}

func TestSalesWorkbook(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{{
		ID:          "s-1",
		Items:       []domain.SaleItem{{MedicineID: "m-1", Quantity: 2}},
		Payments:    []domain.Payment{{Method: domain.PayCash, Amount: decimal.NewFromInt(5)}, {Method: domain.PayCredit, Amount: decimal.NewFromInt(5)}},
		TotalAmount: decimal.NewFromInt(10),
		Status:      domain.SaleCompleted,
		CreatedAt:   now,
	}}
	returns := []domain.Return{{ID: "r-1", OriginalSaleID: "s-1", Reason: "damaged", TotalRefund: decimal.NewFromInt(5), CreatedAt: now}}

	data, err := SalesWorkbook([]SummaryLine{{"Revenue", "10.00"}}, sales, returns)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{summarySheet, salesSheet, returnsSheet}, f.GetSheetList())

	rows, err := f.GetRows(salesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s-1", rows[1][0])
	assert.Equal(t, "Cash, Credit", rows[1][6])
	assert.Equal(t, "5", rows[1][8])

	rows, err = f.GetRows(returnsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "damaged", rows[1][3])
}

func TestStockWorkbookFlagsLowStock(t *testing.T) {
	meds := []domain.Medicine{
		{ID: "m-1", Name: "Low", StockQuantity: 2, ReorderLevel: 5},
		{ID: "m-2", Name: "Fine", StockQuantity: 50, ReorderLevel: 5},
	}
	data, err := StockWorkbook(meds, 10)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(stockSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "yes", rows[1][10])
	assert.Equal(t, "Fine", rows[2][1])
}

func TestSetRowPastSheetLimit(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, setRow(f, "Sheet1", 2, []any{"ok"}))
	assert.NotPanics(t, func() {
		assert.Error(t, setRow(f, "Sheet1", excelize.TotalRows+1, []any{"overflow"}))
	})
}
