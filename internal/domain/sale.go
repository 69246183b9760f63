package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "Completed"
	SalePending   SaleStatus = "Pending"
	SaleRefunded  SaleStatus = "Refunded"
	SaleHeld      SaleStatus = "Held"
)

// PaymentMethod is a tender type.
type PaymentMethod string

const (
	PayCash         PaymentMethod = "Cash"
	PayCard         PaymentMethod = "Card"
	PayMobile       PaymentMethod = "Mobile"
	PayCredit       PaymentMethod = "Credit"
	PayPrescription PaymentMethod = "Prescription"
)

// Valid reports whether m is a known tender.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayCard, PayMobile, PayCredit, PayPrescription:
		return true
	}
	return false
}

// SaleItem is one line of a sale.
type SaleItem struct {
	MedicineID string          `json:"medicineId"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	CostPrice  decimal.Decimal `json:"costPrice"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
}

// Payment is one tender applied to a sale.
type Payment struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// CreditPayment settles part of the credit tender of a sale.
type CreditPayment struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	StaffID   string          `json:"staffId"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Sale is a point-of-sale transaction.
type Sale struct {
	ID             string          `json:"id"`
	PharmacyID     string          `json:"pharmacyId"`
	BranchName     string          `json:"branchName,omitempty"`
	Items          []SaleItem      `json:"items"`
	Payments       []Payment       `json:"payments"`
	CreditPayments []CreditPayment `json:"creditPayments,omitempty"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	CustomerName   string          `json:"customerName,omitempty"`
	StaffID        string          `json:"staffId"`
	Status         SaleStatus      `json:"status"`
	PrescriptionID string          `json:"prescriptionId,omitempty"`
	// RefundedAmount sums the refunds of returns linked to the sale.
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Clone deep-copies s.
func (s Sale) Clone() Sale {
	s.Items = append([]SaleItem(nil), s.Items...)
	s.Payments = append([]Payment(nil), s.Payments...)
	s.CreditPayments = append([]CreditPayment(nil), s.CreditPayments...)
	return s
}

// CreditTender is the part of the total that was put on credit.
func (s Sale) CreditTender() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.Payments {
		if p.Method == PayCredit {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

// Outstanding is the unpaid credit balance. It is never negative. Refunds of
// linked returns come off the credit before the tenders paid at the till.
func (s Sale) Outstanding() decimal.Decimal {
	settled := decimal.Zero
	for _, cp := range s.CreditPayments {
		settled = settled.Add(cp.Amount)
	}
	paid := settled
	for _, p := range s.Payments {
		if p.Method != PayCredit {
			paid = paid.Add(p.Amount)
		}
	}
	out := decimal.Min(
		s.CreditTender().Sub(settled),
		s.TotalAmount.Sub(s.RefundedAmount).Sub(paid),
	)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Cost is the cost of goods of the sale.
func (s Sale) Cost() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range s.Items {
		sum = sum.Add(it.CostPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// SoldQuantities sums quantities per medicine.
func (s Sale) SoldQuantities() map[string]int {
	out := make(map[string]int, len(s.Items))
	for _, it := range s.Items {
		out[it.MedicineID] += it.Quantity
	}
	return out
}

// ReturnItem is one returned line. Quantity is positive stock returned.
type ReturnItem struct {
	MedicineID string          `json:"medicineId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Total      decimal.Decimal `json:"total"`
}

// Return reverses all or part of a sale.
type Return struct {
	ID             string          `json:"id"`
	PharmacyID     string          `json:"pharmacyId"`
	OriginalSaleID string          `json:"originalSaleId,omitempty"`
	Items          []ReturnItem    `json:"items"`
	Reason         string          `json:"reason"`
	TotalRefund    decimal.Decimal `json:"totalRefund"`
	StaffID        string          `json:"staffId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Clone deep-copies r.
func (r Return) Clone() Return {
	r.Items = append([]ReturnItem(nil), r.Items...)
	return r
}
