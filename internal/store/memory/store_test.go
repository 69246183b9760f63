package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New(nil)
	require.NoError(t, s.Seed(context.Background(), Fixtures{
		Pharmacies: []domain.Pharmacy{{ID: "ph1", Name: "One"}, {ID: "ph2", Name: "Two"}},
		Medicines: []domain.Medicine{
			{ID: "m1", PharmacyID: "ph1", Name: "Amoxicillin", StockQuantity: 10},
			{ID: "m2", PharmacyID: "ph2", Name: "Ibuprofen", StockQuantity: 5},
		},
	}))
	return s
}

func TestUpdateCommitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	boom := errors.New("boom")
	err := s.Update(ctx, "ph1", func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, "m1")
		require.NoError(t, err)
		m.StockQuantity = 2
		require.NoError(t, tx.UpdateMedicine(ctx, m))
		require.NoError(t, tx.AppendStockLog(ctx, &domain.StockAdjustmentLog{ID: "l1", MedicineID: "m1"}))

		// the unit sees its own writes
		again, err := tx.GetMedicine(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, 2, again.StockQuantity)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, 10, m.StockQuantity)
		logs, err := tx.ListStockLogs(ctx, "", "m1")
		require.NoError(t, err)
		assert.Empty(t, logs)
		return nil
	}))
	assert.Empty(t, s.Events())
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	err := s.Update(ctx, "ph1", func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, "m1")
		require.NoError(t, err)
		stale := *m
		m.StockQuantity = 9
		require.NoError(t, tx.UpdateMedicine(ctx, m))
		assert.Equal(t, 2, m.Version)

		stale.StockQuantity = 8
		return tx.UpdateMedicine(ctx, &stale)
	})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestCrossScopeConflictDetectedAtCommit(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var slowErr error
	go func() {
		defer wg.Done()
		slowErr = s.Update(ctx, "ph1", func(tx store.Tx) error {
			p, err := tx.GetPharmacy(ctx, "ph1")
			if err != nil {
				return err
			}
			close(entered)
			<-release
			p.Name = "slow"
			return tx.UpdatePharmacy(ctx, p)
		})
	}()

	<-entered
	require.NoError(t, s.Update(ctx, store.PlatformScope, func(tx store.Tx) error {
		p, err := tx.GetPharmacy(ctx, "ph1")
		require.NoError(t, err)
		p.Name = "fast"
		return tx.UpdatePharmacy(ctx, p)
	}))
	close(release)
	wg.Wait()

	assert.ErrorIs(t, slowErr, domain.ErrVersionConflict)
}

func TestListFiltersByTenant(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		mine, err := tx.ListMedicines(ctx, "ph1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "m1", mine[0].ID)

		all, err := tx.ListMedicines(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	}))
}

func TestHeldSaleDeleteAndEvents(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	var seen []domain.Event
	s.OnCommit(func(evs []domain.Event) { seen = append(seen, evs...) })

	require.NoError(t, s.Update(ctx, "ph1", func(tx store.Tx) error {
		return tx.InsertHeldSale(ctx, &domain.Sale{ID: "h1", PharmacyID: "ph1", Status: domain.SaleHeld})
	}))
	require.NoError(t, s.Update(ctx, "ph1", func(tx store.Tx) error {
		if err := tx.DeleteHeldSale(ctx, "h1"); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, &domain.Sale{ID: "s1", PharmacyID: "ph1", Status: domain.SaleCompleted}); err != nil {
			return err
		}
		ev, err := domain.NewEvent(domain.AggregateSale, "s1", "ph1", domain.EventSaleRecorded, nil)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetHeldSale(ctx, "h1")
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
		_, err = tx.GetSale(ctx, "s1")
		assert.NoError(t, err)
		return nil
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, domain.EventSaleRecorded, seen[0].EventType)
}

func TestViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	err := s.View(ctx, func(tx store.Tx) error {
		return tx.InsertSupplier(ctx, &domain.Supplier{ID: "x", PharmacyID: "ph1"})
	})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDuplicateEmailRejected(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.Update(ctx, store.PlatformScope, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{ID: "u1", Email: "a@x.io"})
	}))
	err := s.Update(ctx, store.PlatformScope, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &domain.User{ID: "u2", Email: "A@x.io"})
	})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestInsertThenUpdateInOneUnit(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	err := s.Update(ctx, "ph1", func(tx store.Tx) error {
		m := &domain.Medicine{ID: "m3", PharmacyID: "ph1", Name: "Cetirizine"}
		require.NoError(t, tx.InsertMedicine(ctx, m))
		m.StockQuantity = 12
		return tx.UpdateMedicine(ctx, m)
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, "m3")
		require.NoError(t, err)
		assert.Equal(t, 12, m.StockQuantity)
		assert.Equal(t, 2, m.Version)
		return nil
	}))
}
