package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SaleRecorded(12.5)
	m.SaleRecorded(7.5)
	m.StockAdjusted("decrease")
	m.Published("inventory.stock")
	m.Pending(4)
	m.ObserveOp("sales.record", time.Now(), "conflict")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SalesRecorded))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.SalesRevenue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockAdjustments.WithLabelValues("decrease")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("inventory.stock")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationFailures.WithLabelValues("sales.record", "conflict")))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SaleRecorded(1)
		m.LowStock()
		m.Consumed("inventory.stock")
		m.BreakerState("geo", 1)
	})
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.LowStock()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rxledger_low_stock_alerts_total 1")
}
