package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CountRow is one counted medicine of a stock-take sheet. A row is matched
// by MedicineID, then NDC, then Name.
type CountRow struct {
	Line       int
	MedicineID string
	NDC        string
	Name       string
	Counted    int
}

var countHeaders = map[string]string{
	"medicine id": "medicine_id",
	"id":          "medicine_id",
	"ndc":         "ndc",
	"name":        "name",
	"medicine":    "name",
	"product":     "name",
	"counted":     "counted",
	"count":       "counted",
	"quantity":    "counted",
	"qty":         "counted",
}

// ParseStockCount reads the first sheet of a stock-take workbook.
func ParseStockCount(r io.Reader) ([]CountRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	cols := mapColumns(rows[0])
	if _, ok := cols["counted"]; !ok {
		return nil, fmt.Errorf("missing required column: counted")
	}
	_, hasID := cols["medicine_id"]
	_, hasNDC := cols["ndc"]
	_, hasName := cols["name"]
	if !hasID && !hasNDC && !hasName {
		return nil, fmt.Errorf("missing identifying column: medicine id, ndc or name")
	}

	out := make([]CountRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		cells := rows[i]
		row := CountRow{
			Line:       i + 1,
			MedicineID: strings.TrimSpace(readCell(cells, cols, "medicine_id")),
			NDC:        strings.TrimSpace(readCell(cells, cols, "ndc")),
			Name:       strings.TrimSpace(readCell(cells, cols, "name")),
		}
		if row.MedicineID == "" && row.NDC == "" && row.Name == "" {
			continue
		}
		row.Counted, err = parseCount(readCell(cells, cols, "counted"))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid count: %w", row.Line, err)
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return out, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		key = strings.Join(strings.Fields(strings.ReplaceAll(key, "_", " ")), " ")
		canonical, ok := countHeaders[key]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func readCell(row []string, cols map[string]int, key string) string {
	idx, ok := cols[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseCount(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(f, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	if f < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return int(f), nil
}
