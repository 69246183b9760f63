package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
)

// DeadLetterTopic receives entries that exhausted their retries.
const DeadLetterTopic = "dead.letter"

// OutboxEntry is one event waiting to be published.
type OutboxEntry struct {
	ID            int64
	EventID       string
	AggregateID   string
	AggregateType string
	PharmacyID    string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// RelayConfig holds configuration for the outbox relay
type RelayConfig struct {
	// BatchSize is the number of entries to process per batch
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the number of failed publishes before dead-lettering
	MaxRetries int
	// Retention is how long published entries are kept
	Retention time.Duration
	// LockID is the session advisory lock that elects one active relay
	LockID int64
}

// DefaultRelayConfig returns sensible defaults
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:    100,
		PollInterval: 250 * time.Millisecond,
		MaxRetries:   5,
		Retention:    72 * time.Hour,
		LockID:       7_340_115,
	}
}

// Publisher sends a record to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayObserver receives relay progress; metrics implement it.
type RelayObserver interface {
	Published(topic string)
	PublishFailed(topic string)
	Pending(n int64)
}

type nopObserver struct{}

func (nopObserver) Published(string)     {}
func (nopObserver) PublishFailed(string) {}
func (nopObserver) Pending(int64)        {}

// WriteEvent stages e in the outbox inside tx. The event commits or rolls
// back together with the mutation that produced it.
func WriteEvent(ctx context.Context, tx pgx.Tx, e *domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := e.PharmacyID
	if key == "" {
		key = e.AggregateID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (event_id, aggregate_id, aggregate_type, pharmacy_id, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.AggregateID, e.AggregateType, e.PharmacyID, string(e.EventType), payload, e.Stream, key)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// Relay polls the outbox and publishes pending entries in order.
type Relay struct {
	pool      *pgxpool.Pool
	config    RelayConfig
	publisher Publisher
	observer  RelayObserver
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a relay. observer may be nil.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig, observer RelayObserver, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling.
func (r *Relay) Start() {
	go r.loop()
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop waits for the current batch and stops polling.
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	housekeeping := time.NewTicker(time.Minute)
	defer housekeeping.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(r.ctx); err != nil {
				r.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-housekeeping.C:
			r.housekeep(r.ctx)
		}
	}
}

func (r *Relay) housekeep(ctx context.Context) {
	if n, err := r.MoveToDeadLetter(ctx); err != nil {
		r.logger.Error("dead-letter sweep failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Warn("outbox entries dead-lettered", zap.Int64("count", n))
	}
	if _, err := r.CleanupPublished(ctx); err != nil {
		r.logger.Error("outbox cleanup failed", zap.Error(err))
	}
	if stats, err := r.Stats(ctx); err == nil {
		r.observer.Pending(stats.Pending)
	}
}

// RunOnce publishes one batch if this relay holds the leader lock and
// returns the number of entries published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.batch")
	defer span.End()

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var leader bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", r.config.LockID).Scan(&leader); err != nil {
		return 0, fmt.Errorf("try relay lock: %w", err)
	}
	if !leader {
		return 0, nil
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", r.config.LockID)

	entries, err := r.fetchPending(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	published := 0
	for _, entry := range entries {
		if err := r.publish(ctx, entry); err != nil {
			r.logger.Warn("outbox publish failed",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Int("retry_count", entry.RetryCount+1),
				zap.Error(err))
			// keep per-key order: stop at the first failure
			break
		}
		published++
	}
	return published, nil
}

func (r *Relay) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, aggregate_id, aggregate_type, pharmacy_id, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2
	`, r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateID, &e.AggregateType, &e.PharmacyID,
			&e.EventType, &e.Payload, &e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Relay) publish(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := r.tracer.Start(ctx, "outbox.publish",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("topic", entry.Topic),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		span.RecordError(err)
		r.observer.PublishFailed(entry.Topic)
		if _, uerr := r.pool.Exec(ctx,
			"UPDATE outbox SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW() WHERE id = $2",
			err.Error(), entry.ID); uerr != nil {
			r.logger.Error("failed to record outbox retry", zap.Error(uerr))
		}
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := r.pool.Exec(ctx,
		"UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark published: %w", err)
	}
	r.observer.Published(entry.Topic)
	return nil
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead-letter topic and marks them processed.
func (r *Relay) MoveToDeadLetter(ctx context.Context) (int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, kafka_topic, kafka_key, retry_count, last_error, created_at
		FROM outbox
		WHERE processed_at IS NULL AND retry_count >= $1
		ORDER BY id
	`, r.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query dead entries: %w", err)
	}
	var dead []*OutboxEntry
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateID, &e.EventType, &e.Payload,
			&e.Topic, &e.Key, &e.RetryCount, &e.LastError, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan dead entry: %w", err)
		}
		dead = append(dead, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var moved int64
	for _, e := range dead {
		body, _ := json.Marshal(map[string]any{
			"original_topic": e.Topic,
			"event_id":       e.EventID,
			"event_type":     e.EventType,
			"aggregate_id":   e.AggregateID,
			"payload":        e.Payload,
			"retry_count":    e.RetryCount,
			"last_error":     e.LastError,
			"created_at":     e.CreatedAt,
		})
		if err := r.publisher.Publish(ctx, DeadLetterTopic, e.Key, body); err != nil {
			r.logger.Error("failed to publish to dead letter", zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", e.ID); err != nil {
			r.logger.Error("failed to mark dead-lettered entry", zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		moved++
	}
	return moved, nil
}

// CleanupPublished removes published entries older than the retention.
func (r *Relay) CleanupPublished(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < NOW() - $1::interval
	`, r.config.Retention.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OutboxStats summarises the outbox.
type OutboxStats struct {
	Pending       int64
	Failed        int64
	OldestPending *time.Time
}

// Stats returns current outbox statistics
func (r *Relay) Stats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < $1),
			COUNT(*) FILTER (WHERE retry_count >= $1),
			MIN(created_at)
		FROM outbox
		WHERE processed_at IS NULL
	`, r.config.MaxRetries).Scan(&stats.Pending, &stats.Failed, &stats.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}
