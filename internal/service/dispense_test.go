package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/fhir/r5"
)

func (h *harness) prescription(refills int, items ...domain.PrescriptionItem) *domain.Prescription {
	h.t.Helper()
	rx, err := h.svc.CreatePrescription(h.ctx, manager1, PrescriptionInput{
		PatientName:    "Jane Roe",
		DoctorName:     "Dr. Smith",
		Items:          items,
		RefillsAllowed: refills,
	})
	require.NoError(h.t, err)
	return rx
}

func TestCreatePrescription(t *testing.T) {
	h := newHarness(t)
	rx := h.prescription(2, domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 3, Dosage: "tid"})
	assert.Equal(t, domain.PrescriptionActive, rx.Status)
	assert.Equal(t, 2, rx.RefillsRemaining)
	assert.Equal(t, "Amoxicillin", rx.Items[0].Name)

	tests := []struct {
		name string
		in   PrescriptionInput
		kind domain.Kind
	}{
		{"no patient", PrescriptionInput{Items: []domain.PrescriptionItem{{MedicineID: "m-amox", Quantity: 1}}, RefillsAllowed: 1}, domain.KindValidation},
		{"zero refills", PrescriptionInput{PatientName: "x", Items: []domain.PrescriptionItem{{MedicineID: "m-amox", Quantity: 1}}}, domain.KindValidation},
		{"no items", PrescriptionInput{PatientName: "x", RefillsAllowed: 1}, domain.KindValidation},
		{"bad quantity", PrescriptionInput{PatientName: "x", Items: []domain.PrescriptionItem{{MedicineID: "m-amox"}}, RefillsAllowed: 1}, domain.KindValidation},
		{"foreign medicine", PrescriptionInput{PatientName: "x", Items: []domain.PrescriptionItem{{MedicineID: "m-para", Quantity: 1}}, RefillsAllowed: 1}, domain.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreatePrescription(h.ctx, manager1, tt.in)
			assertKind(t, tt.kind, err)
		})
	}

	_, err := h.svc.CreatePrescription(h.ctx, cashier1, PrescriptionInput{
		PatientName: "x", Items: []domain.PrescriptionItem{{MedicineID: "m-amox", Quantity: 1}}, RefillsAllowed: 1,
	})
	assertKind(t, domain.KindForbidden, err)
}

func TestDispenseUntilRefillsRunOut(t *testing.T) {
	h := newHarness(t)
	rx := h.prescription(2, domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 3})

	d, err := h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Prescription.RefillsRemaining)
	assert.Equal(t, domain.PrescriptionDispensed, d.Prescription.Status)
	assert.NotNil(t, d.Prescription.LastDispensedAt)
	assert.Equal(t, rx.ID, d.Sale.PrescriptionID)
	assertMoney(t, "15.00", d.Sale.TotalAmount)
	require.Len(t, d.Sale.Payments, 1)
	assert.Equal(t, domain.PayPrescription, d.Sale.Payments[0].Method)
	assert.Equal(t, 7, h.stock("m-amox"))

	// the current selling price applies at each fill
	price := dec("6.00")
	_, err = h.svc.UpdateMedicine(h.ctx, manager1, "m-amox", MedicineUpdate{SellingPrice: &price})
	require.NoError(t, err)

	d, err = h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Prescription.RefillsRemaining)
	assert.Equal(t, domain.PrescriptionCompleted, d.Prescription.Status)
	assertMoney(t, "18.00", d.Sale.TotalAmount)
	assert.Equal(t, 4, h.stock("m-amox"))

	_, err = h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	assert.ErrorIs(t, err, domain.ErrNoRefillsRemaining)
	assert.Equal(t, 4, h.stock("m-amox"))

	sales, err := h.svc.ListSales(h.ctx, manager1, "")
	require.NoError(t, err)
	assert.Len(t, sales, 2)
}

func TestDispenseShortStockLeavesRefills(t *testing.T) {
	h := newHarness(t)
	rx := h.prescription(3,
		domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 2},
		domain.PrescriptionItem{MedicineID: "m-ibu", Quantity: 2},
		domain.PrescriptionItem{MedicineID: "m-ibu", Quantity: 2},
	)

	_, err := h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := h.svc.GetPrescription(h.ctx, cashier1, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RefillsRemaining)
	assert.Equal(t, domain.PrescriptionActive, got.Status)
	assert.Equal(t, 10, h.stock("m-amox"))
	assert.Equal(t, 3, h.stock("m-ibu"))
}

func TestDispenseCrossTenant(t *testing.T) {
	h := newHarness(t)
	rx := h.prescription(1, domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 1})

	_, err := h.svc.DispensePrescription(h.ctx, cashier2, rx.ID)
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)
	_, err = h.svc.DispensePrescription(h.ctx, cashier1, "rx-missing")
	assertKind(t, domain.KindNotFound, err)
}

func TestCancelPrescription(t *testing.T) {
	h := newHarness(t)
	rx := h.prescription(2, domain.PrescriptionItem{MedicineID: "m-amox", Quantity: 1})

	got, err := h.svc.CancelPrescription(h.ctx, manager1, rx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PrescriptionCancelled, got.Status)

	_, err = h.svc.CancelPrescription(h.ctx, manager1, rx.ID)
	assert.ErrorIs(t, err, domain.ErrPrescriptionClosed)
	_, err = h.svc.DispensePrescription(h.ctx, cashier1, rx.ID)
	assert.ErrorIs(t, err, domain.ErrPrescriptionClosed)
}

func TestImportPrescriptions(t *testing.T) {
	h := newHarness(t)
	reqs, err := r5.ParseMedicationRequests([]byte(`{
	  "resourceType": "Bundle",
	  "entry": [
	    {"resource": {
	      "resourceType": "MedicationRequest", "id": "mr-1", "status": "active", "intent": "order",
	      "medication": {"concept": {"coding": [{"system": "http://hl7.org/fhir/sid/ndc", "code": "0093-4155-73"}]}},
	      "subject": {"display": "Jane Roe"},
	      "requester": {"display": "Dr. Smith"},
	      "dosageInstruction": [{"text": "1 tid"}],
	      "dispenseRequest": {"numberOfRepeatsAllowed": 1, "quantity": {"value": 2}}
	    }},
	    {"resource": {
	      "resourceType": "MedicationRequest", "id": "mr-2", "status": "active", "intent": "order",
	      "medication": {"concept": {"text": "ibuprofen"}},
	      "subject": {"display": "John Doe"}
	    }}
	  ]
	}`))
	require.NoError(t, err)

	out, err := h.svc.ImportPrescriptions(h.ctx, manager1, "", reqs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "mr-1", out[0].ExternalID)
	assert.Equal(t, "m-amox", out[0].Items[0].MedicineID)
	assert.Equal(t, 2, out[0].Items[0].Quantity)
	assert.Equal(t, "1 tid", out[0].Items[0].Dosage)
	assert.Equal(t, 2, out[0].RefillsAllowed)
	assert.Equal(t, "m-ibu", out[1].Items[0].MedicineID)
	assert.Equal(t, 1, out[1].RefillsAllowed)

	_, err = h.svc.ImportPrescriptions(h.ctx, manager1, "", reqs[:1])
	assertKind(t, domain.KindConflict, err)

	unknown := reqs[1]
	unknown.ID = "mr-3"
	unknown.Medication = r5.CodeableReference{Concept: &r5.CodeableConcept{Text: "Unobtainium"}}
	_, err = h.svc.ImportPrescriptions(h.ctx, manager1, "", []r5.MedicationRequest{unknown})
	assertKind(t, domain.KindNotFound, err)

	cancelled := reqs[1]
	cancelled.ID = "mr-4"
	cancelled.Status = "cancelled"
	_, err = h.svc.ImportPrescriptions(h.ctx, manager1, "", []r5.MedicationRequest{cancelled})
	assertKind(t, domain.KindValidation, err)

	list, err := h.svc.ListPrescriptions(h.ctx, cashier1, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
