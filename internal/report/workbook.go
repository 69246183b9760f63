// Package report renders and reads spreadsheet files.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/drfirst/rxledger/internal/domain"
)

const (
	salesSheet   = "Sales"
	returnsSheet = "Returns"
	stockSheet   = "Stock"
	summarySheet = "Summary"
)

// SummaryLine is one label/value row of the summary sheet.
type SummaryLine struct {
	Label string
	Value string
}

// SalesWorkbook writes a Summary, Sales and Returns sheet.
func SalesWorkbook(summary []SummaryLine, sales []domain.Sale, returns []domain.Return) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for i, line := range summary {
		if err := setRow(f, summarySheet, i+1, []any{line.Label, line.Value}); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
	}

	if _, err := f.NewSheet(salesSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	header := []any{"Sale ID", "Date", "Customer", "Staff", "Status", "Items", "Payment", "Total", "Outstanding"}
	if err := f.SetSheetRow(salesSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, s := range sales {
		row := []any{
			s.ID,
			s.CreatedAt.Format(time.DateTime),
			s.CustomerName,
			s.StaffID,
			string(s.Status),
			len(s.Items),
			tenders(s.Payments),
			money(s.TotalAmount),
			money(s.Outstanding()),
		}
		if err := setRow(f, salesSheet, i+2, row); err != nil {
			return nil, fmt.Errorf("write sale %s: %w", s.ID, err)
		}
	}

	if _, err := f.NewSheet(returnsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	header = []any{"Return ID", "Date", "Original Sale", "Reason", "Items", "Refund"}
	if err := f.SetSheetRow(returnsSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, r := range returns {
		row := []any{
			r.ID,
			r.CreatedAt.Format(time.DateTime),
			r.OriginalSaleID,
			r.Reason,
			len(r.Items),
			money(r.TotalRefund),
		}
		if err := setRow(f, returnsSheet, i+2, row); err != nil {
			return nil, fmt.Errorf("write return %s: %w", r.ID, err)
		}
	}

	return write(f)
}

// StockWorkbook writes one row per medicine with its reorder state.
func StockWorkbook(meds []domain.Medicine, threshold int) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", stockSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"Medicine ID", "Name", "NDC", "Branch", "Category", "Quantity", "Reorder Level", "Cost Price", "Selling Price", "Expiry", "Low Stock"}
	if err := f.SetSheetRow(stockSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, m := range meds {
		expiry := ""
		if m.ExpiryDate != nil {
			expiry = m.ExpiryDate.Format(time.DateOnly)
		}
		low := ""
		if m.LowOnStock(threshold) {
			low = "yes"
		}
		row := []any{
			m.ID,
			m.Name,
			m.NDC,
			m.BranchName,
			m.Category,
			m.StockQuantity,
			m.ReorderLevel,
			money(m.CostPrice),
			money(m.SellingPrice),
			expiry,
			low,
		}
		if err := setRow(f, stockSheet, i+2, row); err != nil {
			return nil, fmt.Errorf("write medicine %s: %w", m.ID, err)
		}
	}
	return write(f)
}

func write(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// setRow writes values from column A of row. Rows past the sheet limit fail.
func setRow(f *excelize.File, sheet string, row int, values []any) error {
	name, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	return f.SetSheetRow(sheet, name, &values)
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func tenders(payments []domain.Payment) string {
	var buf bytes.Buffer
	for i, p := range payments {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(string(p.Method))
	}
	return buf.String()
}
