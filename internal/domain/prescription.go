package domain

import "time"

// PrescriptionStatus is the dispensing state of a prescription.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "Active"
	PrescriptionDispensed PrescriptionStatus = "Dispensed"
	PrescriptionCompleted PrescriptionStatus = "Completed"
	PrescriptionCancelled PrescriptionStatus = "Cancelled"
)

// PrescriptionItem is one medicine of a prescription.
type PrescriptionItem struct {
	MedicineID string `json:"medicineId"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Dosage     string `json:"dosage,omitempty"`
}

// Prescription is a refillable order. RefillsAllowed >= RefillsRemaining >= 0.
type Prescription struct {
	ID               string             `json:"id"`
	PharmacyID       string             `json:"pharmacyId"`
	PatientName      string             `json:"patientName"`
	DoctorName       string             `json:"doctorName"`
	Items            []PrescriptionItem `json:"items"`
	RefillsAllowed   int                `json:"refillsAllowed"`
	RefillsRemaining int                `json:"refillsRemaining"`
	Status           PrescriptionStatus `json:"status"`
	Notes            string             `json:"notes,omitempty"`
	ExternalID       string             `json:"externalId,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	LastDispensedAt  *time.Time         `json:"lastDispensedAt,omitempty"`
}

// Clone deep-copies p.
func (p Prescription) Clone() Prescription {
	p.Items = append([]PrescriptionItem(nil), p.Items...)
	if p.LastDispensedAt != nil {
		t := *p.LastDispensedAt
		p.LastDispensedAt = &t
	}
	return p
}

// ConsumeRefill uses one refill and moves the status forward: Completed when
// no refills remain, Dispensed otherwise.
func (p *Prescription) ConsumeRefill(now time.Time) error {
	const op = "prescription.ConsumeRefill"
	if p.Status == PrescriptionCancelled || p.Status == PrescriptionCompleted {
		if p.RefillsRemaining <= 0 {
			return E(op, ErrNoRefillsRemaining)
		}
		return Detail(op, ErrPrescriptionClosed, "prescription is %s", p.Status)
	}
	if p.RefillsRemaining <= 0 {
		return E(op, ErrNoRefillsRemaining)
	}
	p.RefillsRemaining--
	if p.RefillsRemaining <= 0 {
		p.Status = PrescriptionCompleted
	} else {
		p.Status = PrescriptionDispensed
	}
	p.LastDispensedAt = &now
	return nil
}
