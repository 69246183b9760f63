package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Medicine is a stocked product of one pharmacy branch. StockQuantity is only
// ever changed through the stock ledger.
type Medicine struct {
	ID            string          `json:"id"`
	PharmacyID    string          `json:"pharmacyId"`
	BranchName    string          `json:"branchName"`
	Name          string          `json:"name"`
	GenericName   string          `json:"genericName,omitempty"`
	Category      string          `json:"category"`
	NDC           string          `json:"ndc,omitempty"`
	StockQuantity int             `json:"stockQuantity"`
	ReorderLevel  int             `json:"reorderLevel"`
	CostPrice     decimal.Decimal `json:"costPrice"`
	SellingPrice  decimal.Decimal `json:"sellingPrice"`
	ExpiryDate    *time.Time      `json:"expiryDate,omitempty"`
	SupplierID    string          `json:"supplierId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Version       int             `json:"version"`
}

// Clone deep-copies m.
func (m Medicine) Clone() Medicine {
	if m.ExpiryDate != nil {
		t := *m.ExpiryDate
		m.ExpiryDate = &t
	}
	return m
}

// LowOnStock reports whether stock has fallen to the reorder level or below.
func (m Medicine) LowOnStock(threshold int) bool {
	level := m.ReorderLevel
	if level <= 0 {
		level = threshold
	}
	return m.StockQuantity <= level
}

// ExpiresBefore reports whether the medicine expires before t.
func (m Medicine) ExpiresBefore(t time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(t)
}

// AdjustmentType is the direction of a stock change.
type AdjustmentType string

const (
	AdjustmentIncrease AdjustmentType = "Increase"
	AdjustmentDecrease AdjustmentType = "Decrease"
)

// StockAdjustmentLog is the append-only audit record of one ledger operation.
type StockAdjustmentLog struct {
	ID         string         `json:"id"`
	PharmacyID string         `json:"pharmacyId"`
	MedicineID string         `json:"medicineId"`
	StaffID    string         `json:"staffId"`
	Type       AdjustmentType `json:"type"`
	Quantity   int            `json:"quantity"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Delta reconstructs the signed change this entry records.
func (l StockAdjustmentLog) Delta() int {
	if l.Type == AdjustmentDecrease {
		return -l.Quantity
	}
	return l.Quantity
}

// Supplier provides stock to a pharmacy.
type Supplier struct {
	ID         string    `json:"id"`
	PharmacyID string    `json:"pharmacyId"`
	Name       string    `json:"name"`
	Contact    string    `json:"contact,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Expense is a tenant operating cost.
type Expense struct {
	ID          string          `json:"id"`
	PharmacyID  string          `json:"pharmacyId"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Date        time.Time       `json:"date"`
	StaffID     string          `json:"staffId"`
	CreatedAt   time.Time       `json:"createdAt"`
}
