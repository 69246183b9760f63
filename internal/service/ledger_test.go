package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
)

func TestAdjustStockWritesLedger(t *testing.T) {
	h := newHarness(t)

	m, err := h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: 5, Reason: "Delivery"})
	require.NoError(t, err)
	assert.Equal(t, 15, m.StockQuantity)

	m, err = h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: -3, Reason: "Damaged"})
	require.NoError(t, err)
	assert.Equal(t, 12, m.StockQuantity)

	logs := h.logs("m-amox")
	require.Len(t, logs, 2)
	assert.Equal(t, domain.AdjustmentIncrease, logs[0].Type)
	assert.Equal(t, 5, logs[0].Quantity)
	assert.Equal(t, domain.AdjustmentDecrease, logs[1].Type)
	assert.Equal(t, 3, logs[1].Quantity)
	assert.Equal(t, "Damaged", logs[1].Reason)
	assert.Equal(t, manager1.UserID, logs[1].StaffID)

	var adjusted int
	for _, ev := range h.store.Events() {
		if ev.EventType == domain.EventStockAdjusted {
			adjusted++
			assert.Equal(t, domain.StreamStock, ev.Stream)
		}
	}
	assert.Equal(t, 2, adjusted)
}

func TestAdjustStockValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: 0, Reason: "x"})
	assertKind(t, domain.KindValidation, err)

	_, err = h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: 1, Reason: "  "})
	assertKind(t, domain.KindValidation, err)

	_, err = h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "missing", Delta: 1, Reason: "x"})
	assertKind(t, domain.KindNotFound, err)

	_, err = h.svc.AdjustStock(h.ctx, cashier1, StockAdjustment{MedicineID: "m-amox", Delta: 1, Reason: "x"})
	assertKind(t, domain.KindForbidden, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	assert.Equal(t, 10, h.stock("m-amox"))
	assert.Empty(t, h.logs("m-amox"))
}

func TestAdjustStockRejectsCrossTenant(t *testing.T) {
	h := newHarness(t)
	p := manager1
	p.PharmacyID = "ph2"

	_, err := h.svc.AdjustStock(h.ctx, p, StockAdjustment{MedicineID: "m-amox", Delta: 1, Reason: "x"})
	assertKind(t, domain.KindForbidden, err)
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)
	assert.Equal(t, 10, h.stock("m-amox"))
}

func TestAdjustStockNeverGoesNegativeWithoutOverride(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-ibu", Delta: -4, Reason: "Expired"})
	assertKind(t, domain.KindConflict, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 3, h.stock("m-ibu"))

	m, err := h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-ibu", Delta: -4, Reason: "Count correction", Override: true})
	require.NoError(t, err)
	assert.Equal(t, -1, m.StockQuantity)
}

func TestStockEqualsOpeningPlusLedger(t *testing.T) {
	h := newHarness(t)
	opening := h.stock("m-amox")

	_, err := h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: 7, Reason: "Delivery"})
	require.NoError(t, err)
	_, err = h.svc.RecordSale(h.ctx, cashier1, SaleDraft{
		Items:    []SaleLine{line("m-amox", 4)},
		Payments: []domain.Payment{pay(domain.PayCash, "20.00")},
	}, "")
	require.NoError(t, err)
	_, err = h.svc.RecordReturn(h.ctx, manager1, ReturnDraft{Items: []ReturnLine{{MedicineID: "m-amox", Quantity: 1}}, Reason: "unopened"})
	require.NoError(t, err)
	// rejected operations leave no trace
	_, err = h.svc.AdjustStock(h.ctx, manager1, StockAdjustment{MedicineID: "m-amox", Delta: -100, Reason: "oops"})
	require.Error(t, err)

	sum := 0
	for _, l := range h.logs("m-amox") {
		sum += l.Delta()
	}
	assert.Equal(t, opening+sum, h.stock("m-amox"))
	assert.Equal(t, 14, h.stock("m-amox"))
}

func TestCreateMedicineBooksOpeningStock(t *testing.T) {
	h := newHarness(t)

	m, err := h.svc.CreateMedicine(h.ctx, manager1, MedicineInput{
		BranchName: "Dock", Name: "Cetirizine", Category: "Antihistamine",
		CostPrice: dec("0.40"), SellingPrice: dec("0.90"), InitialStock: 24,
	})
	require.NoError(t, err)
	assert.Equal(t, "ph1", m.PharmacyID)
	assert.Equal(t, 24, h.stock(m.ID))

	logs := h.logs(m.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "Opening stock", logs[0].Reason)

	drift, err := h.svc.Reconcile(h.ctx, manager1, "")
	require.NoError(t, err)
	assert.NotContains(t, drift, m.ID)
	assert.Contains(t, drift, "m-amox")

	_, err = h.svc.CreateMedicine(h.ctx, manager1, MedicineInput{BranchName: "Attic", Name: "X"})
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.CreateMedicine(h.ctx, manager1, MedicineInput{Name: "X", SellingPrice: dec("-1")})
	assertKind(t, domain.KindValidation, err)
	_, err = h.svc.CreateMedicine(h.ctx, cashier1, MedicineInput{Name: "X"})
	assertKind(t, domain.KindForbidden, err)
}

func TestUpdateMedicineLeavesStockAlone(t *testing.T) {
	h := newHarness(t)
	price := dec("6.25")
	name := "Amoxicillin 500mg"

	m, err := h.svc.UpdateMedicine(h.ctx, manager1, "m-amox", MedicineUpdate{Name: &name, SellingPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, name, m.Name)
	assertMoney(t, "6.25", m.SellingPrice)
	assert.Equal(t, 10, m.StockQuantity)
	assert.Empty(t, h.logs("m-amox"))
}

func TestLowStockAndExpiring(t *testing.T) {
	h := newHarness(t)

	low, err := h.svc.LowStock(h.ctx, cashier1, "", 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "m-ibu", low[0].ID)

	soon := h.now.AddDate(0, 0, 20)
	_, err = h.svc.UpdateMedicine(h.ctx, manager1, "m-amox", MedicineUpdate{ExpiryDate: &soon})
	require.NoError(t, err)
	expiring, err := h.svc.ExpiringMedicines(h.ctx, cashier1, "", 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "m-amox", expiring[0].ID)
}

func TestListMedicinesIsTenantScoped(t *testing.T) {
	h := newHarness(t)

	meds, err := h.svc.ListMedicines(h.ctx, cashier2, "")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "m-para", meds[0].ID)

	_, err = h.svc.ListMedicines(h.ctx, cashier2, "ph1")
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)

	all, err := h.svc.ListMedicines(h.ctx, superAdmin, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = h.svc.GetMedicine(h.ctx, cashier2, "m-amox")
	assert.ErrorIs(t, err, domain.ErrCrossTenantAccess)
}
