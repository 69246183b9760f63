// Package alerts raises low-stock alerts from stock movements.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/pkg/idempotency"
	"github.com/drfirst/rxledger/pkg/workerpool"
)

// HandlerName identifies the detector in the inbox.
const HandlerName = "stock-alerts"

// Publisher sends a record to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Observer is told about raised alerts; metrics implement it.
type Observer interface {
	LowStock()
}

// Config holds detector configuration
type Config struct {
	// Threshold applies to medicines without a reorder level.
	Threshold int
	Pool      workerpool.Config
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	pool := workerpool.DefaultConfig()
	pool.Retryable = Retryable
	return Config{Threshold: 10, Pool: pool}
}

// Retryable reports whether a failed event is worth handling again.
func Retryable(err error) bool {
	return !idempotency.IsTerminal(err) && !errors.Is(err, idempotency.ErrPreviouslyFailed)
}

// Detector evaluates StockAdjusted events and publishes a LowStock alert
// when an adjustment leaves a medicine at or below its reorder level. Each
// event is handled at most once per inbox.
type Detector struct {
	config    Config
	inbox     *idempotency.Inbox
	publisher Publisher
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
	pool      *workerpool.Pool[[]byte]
	now       func() time.Time
}

// NewDetector creates a detector. observer may be nil.
func NewDetector(cfg Config, inbox *idempotency.Inbox, publisher Publisher, observer Observer, logger *zap.Logger) (*Detector, error) {
	if inbox == nil || publisher == nil {
		return nil, errors.New("alerts: inbox and publisher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pool.Retryable == nil {
		cfg.Pool.Retryable = Retryable
	}
	d := &Detector{
		config:    cfg,
		inbox:     inbox,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		tracer:    otel.Tracer("stock-alerts"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	pool, err := workerpool.New(cfg.Pool, d.Handle, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Start launches the worker pool.
func (d *Detector) Start() {
	d.pool.Start()
}

// Stop drains queued events.
func (d *Detector) Stop() error {
	return d.pool.Stop()
}

// Enqueue hands committed events to the pool without waiting. Events that
// cannot be queued are logged and dropped.
func (d *Detector) Enqueue(events []domain.Event) {
	for _, e := range events {
		if e.EventType != domain.EventStockAdjusted {
			continue
		}
		raw, err := json.Marshal(e)
		if err != nil {
			d.logger.Error("encode event for alerts", zap.String("event_id", e.ID), zap.Error(err))
			continue
		}
		if err := d.pool.Submit(context.Background(), raw); err != nil {
			d.logger.Warn("alert queue rejected event", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
}

// HandleRecord processes one raw event through the pool and waits for it.
func (d *Detector) HandleRecord(ctx context.Context, raw []byte) error {
	return d.pool.SubmitWait(ctx, raw)
}

// Handle evaluates one encoded event.
func (d *Detector) Handle(ctx context.Context, raw []byte) error {
	var e domain.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return idempotency.Terminal(fmt.Errorf("decode event: %w", err))
	}
	if e.EventType != domain.EventStockAdjusted {
		return nil
	}
	if e.ID == "" {
		return idempotency.Terminal(errors.New("event has no id"))
	}

	ctx, span := d.tracer.Start(ctx, "evaluate_stock",
		trace.WithAttributes(
			attribute.String("event_id", e.ID),
			attribute.String("pharmacy_id", e.PharmacyID),
		))
	defer span.End()

	key := idempotency.Key(HandlerName, e.ID)
	res, err := d.inbox.Process(ctx, key, HandlerName, e.EventData, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return d.evaluate(ctx, e.PharmacyID, payload)
	})
	if errors.Is(err, idempotency.ErrPreviouslyFailed) {
		d.logger.Debug("skipping event that failed before", zap.String("event_id", e.ID))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !res.IsNew && !res.WasRecovered {
		span.SetAttributes(attribute.Bool("duplicate", true))
	}
	return nil
}

type outcome struct {
	Alert   bool   `json:"alert"`
	AlertID string `json:"alertId,omitempty"`
}

func (d *Detector) evaluate(ctx context.Context, pharmacyID string, payload json.RawMessage) (json.RawMessage, error) {
	var data domain.StockAdjustedData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, idempotency.Terminal(fmt.Errorf("decode stock adjustment: %w", err))
	}

	med := domain.Medicine{StockQuantity: data.StockQuantity, ReorderLevel: data.ReorderLevel}
	if data.Delta >= 0 || !med.LowOnStock(d.config.Threshold) {
		return json.Marshal(outcome{})
	}

	level := data.ReorderLevel
	if level <= 0 {
		level = d.config.Threshold
	}
	alert, err := domain.NewEvent(domain.AggregateMedicine, data.MedicineID, pharmacyID, domain.EventLowStock, domain.LowStockData{
		MedicineID:    data.MedicineID,
		PharmacyID:    pharmacyID,
		Name:          data.Name,
		StockQuantity: data.StockQuantity,
		ReorderLevel:  level,
		DetectedAt:    d.now(),
	})
	if err != nil {
		return nil, idempotency.Terminal(err)
	}
	alert.Stream = domain.StreamAlerts

	value, err := json.Marshal(alert)
	if err != nil {
		return nil, idempotency.Terminal(err)
	}
	if err := d.publisher.Publish(ctx, domain.StreamAlerts, pharmacyID, value); err != nil {
		return nil, fmt.Errorf("publish low stock alert: %w", err)
	}

	if d.observer != nil {
		d.observer.LowStock()
	}
	d.logger.Info("low stock alert raised",
		zap.String("pharmacy_id", pharmacyID),
		zap.String("medicine_id", data.MedicineID),
		zap.Int("stock_quantity", data.StockQuantity),
		zap.Int("reorder_level", level))
	return json.Marshal(outcome{Alert: true, AlertID: alert.ID})
}

// LogPublisher writes records to the log. It stands in for the broker when
// none is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

// Publish logs the record.
func (p LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.Logger != nil {
		p.Logger.Info("record published", zap.String("topic", topic), zap.String("key", key), zap.ByteString("value", value))
	}
	return nil
}
