// Package main provides the stock alert consumer entry point. It reads stock
// movements from the broker and publishes low-stock alerts.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/alerts"
	"github.com/drfirst/rxledger/internal/config"
	"github.com/drfirst/rxledger/internal/infrastructure/redpanda"
	"github.com/drfirst/rxledger/internal/observability/logging"
	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/internal/observability/tracing"
	"github.com/drfirst/rxledger/internal/store/postgres"
	"github.com/drfirst/rxledger/pkg/idempotency"
)

const (
	groupID     = "stock-alerts"
	lagInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, tracing.ForService(groupID, "", cfg.AppEnv, cfg.OTLPEndpoint))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	// The inbox is shared across replicas only when it lives in Postgres.
	var inboxStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		inboxStore = idempotency.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, deduplicating in memory")
	}
	inbox := idempotency.NewInbox(inboxStore, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic setup failed", zap.Error(err))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	acfg := alerts.DefaultConfig()
	acfg.Threshold = cfg.LowStockThreshold
	detector, err := alerts.NewDetector(acfg, inbox, producer, m, logger)
	if err != nil {
		logger.Fatal("detector init failed", zap.Error(err))
	}
	detector.Start()
	defer detector.Stop()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = groupID
	consumerCfg.Topics = []string{redpanda.TopicStock}
	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return detector.HandleRecord(ctx, msg.Value)
	}, m, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("stock alerts consumer started", zap.Strings("topics", consumerCfg.Topics))

	go reportLag(ctx, admin, logger)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	consumer.Stop()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	server.Shutdown(sctx)

	stats := consumer.Stats()
	logger.Info("stock alerts consumer stopped",
		zap.Int64("messages_read", stats.MessagesRead),
		zap.Int64("dead_lettered", stats.DeadLettered))
}

func reportLag(ctx context.Context, admin *redpanda.Admin, logger *zap.Logger) {
	ticker := time.NewTicker(lagInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lag, err := admin.ConsumerGroupLag(ctx, groupID)
		if err != nil {
			logger.Warn("lag check failed", zap.Error(err))
			continue
		}
		var total int64
		for _, partitions := range lag {
			for _, l := range partitions {
				total += l
			}
		}
		logger.Info("consumer lag", zap.Int64("records", total))
	}
}
