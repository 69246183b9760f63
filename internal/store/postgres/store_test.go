package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// testPool connects to TEST_DATABASE_URL and migrates it.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	// a second run is a no-op
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func seedMedicine(t *testing.T, s *Store, stock int) (pharmacyID, medicineID string) {
	t.Helper()
	ctx := context.Background()
	pharmacyID, medicineID = uuid.NewString(), uuid.NewString()
	require.NoError(t, s.Update(ctx, "", func(tx store.Tx) error {
		return tx.InsertPharmacy(ctx, &domain.Pharmacy{ID: pharmacyID, Name: "Harbor"})
	}))
	require.NoError(t, s.Update(ctx, pharmacyID, func(tx store.Tx) error {
		return tx.InsertMedicine(ctx, &domain.Medicine{
			ID: medicineID, PharmacyID: pharmacyID, Name: "Amoxicillin", StockQuantity: stock,
		})
	}))
	return pharmacyID, medicineID
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New(testPool(t), nil)
	pharmacyID, medicineID := seedMedicine(t, s, 10)

	boom := errors.New("boom")
	err := s.Update(ctx, pharmacyID, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, medicineID)
		require.NoError(t, err)
		m.StockQuantity = 1
		require.NoError(t, tx.UpdateMedicine(ctx, m))
		e, err := domain.NewEvent(domain.AggregateMedicine, medicineID, pharmacyID, domain.EventStockAdjusted, map[string]int{"delta": -9})
		require.NoError(t, err)
		require.NoError(t, tx.AppendEvent(ctx, e))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, medicineID)
		require.NoError(t, err)
		assert.Equal(t, 10, m.StockQuantity)
		assert.Equal(t, 1, m.Version)
		return nil
	}))

	var n int
	require.NoError(t, s.Pool().QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1", medicineID).Scan(&n))
	assert.Zero(t, n)
}

func TestUpdateMedicineDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := New(testPool(t), nil)
	pharmacyID, medicineID := seedMedicine(t, s, 10)

	var stale *domain.Medicine
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		var err error
		stale, err = tx.GetMedicine(ctx, medicineID)
		return err
	}))

	require.NoError(t, s.Update(ctx, pharmacyID, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		m.StockQuantity = 7
		return tx.UpdateMedicine(ctx, m)
	}))

	err := s.Update(ctx, pharmacyID, func(tx store.Tx) error {
		stale.StockQuantity = 3
		return tx.UpdateMedicine(ctx, stale)
	})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	err = s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetMedicine(ctx, uuid.NewString())
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentAdjustmentsSerialize(t *testing.T) {
	ctx := context.Background()
	s := New(testPool(t), nil)
	pharmacyID, medicineID := seedMedicine(t, s, 20)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, pharmacyID, func(tx store.Tx) error {
				m, err := tx.GetMedicine(ctx, medicineID)
				if err != nil {
					return err
				}
				m.StockQuantity--
				return tx.UpdateMedicine(ctx, m)
			}))
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		m, err := tx.GetMedicine(ctx, medicineID)
		require.NoError(t, err)
		assert.Equal(t, 10, m.StockQuantity)
		assert.Equal(t, 11, m.Version)
		return nil
	}))
}

type recordingPublisher struct {
	mu      sync.Mutex
	records map[string][]byte
	fail    bool
}

func (p *recordingPublisher) Publish(_ context.Context, _, _ string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	var e domain.Event
	if err := json.Unmarshal(value, &e); err != nil {
		return err
	}
	p.records[e.ID] = value
	return nil
}

func (p *recordingPublisher) seen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[id]
	return ok
}

func TestRelayPublishesCommittedEvents(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)
	s := New(pool, nil)
	pharmacyID, medicineID := seedMedicine(t, s, 10)

	e, err := domain.NewEvent(domain.AggregateMedicine, medicineID, pharmacyID, domain.EventStockAdjusted, map[string]int{"delta": -1})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, pharmacyID, func(tx store.Tx) error {
		return tx.AppendEvent(ctx, e)
	}))

	pub := &recordingPublisher{records: map[string][]byte{}, fail: true}
	cfg := DefaultRelayConfig()
	cfg.BatchSize = 1000
	relay := NewRelay(pool, pub, cfg, nil, nil)

	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, pub.seen(e.ID))

	pub.fail = false
	for i := 0; i < 5 && !pub.seen(e.ID); i++ {
		_, err = relay.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.True(t, pub.seen(e.ID))

	var processed bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT processed_at IS NOT NULL FROM outbox WHERE event_id = $1", e.ID).Scan(&processed))
	assert.True(t, processed)
}
