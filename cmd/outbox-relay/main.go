// Package main provides the outbox relay service entry point.
// Implements the Transactional Outbox pattern relay.
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

	"github.com/drfirst/rxledger/internal/config"
	"github.com/drfirst/rxledger/internal/infrastructure/redpanda"
	"github.com/drfirst/rxledger/internal/observability/logging"
	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/internal/observability/tracing"
	"github.com/drfirst/rxledger/internal/store/postgres"
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

	if cfg.DatabaseURL == "" || len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("DATABASE_URL and KAFKA_BROKERS are required")
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.ForService("outbox-relay", "", cfg.AppEnv, cfg.OTLPEndpoint))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	// Connect to database
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Topics
	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	tctx, tcancel := context.WithTimeout(ctx, 30*time.Second)
	if err := admin.EnsureTopics(tctx); err != nil {
		logger.Fatal("topic setup failed", zap.Error(err))
	}
	tcancel()
	admin.Close()

	// Create Redpanda producer
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	relay := postgres.NewRelay(pool, producer, postgres.DefaultRelayConfig(), m, logger)
	relay.Start()
	logger.Info("outbox relay started")

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           opsRouter(m, pool.Ping, cfg.KafkaBrokers),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	relay.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(sctx)
	logger.Info("outbox relay stopped")
}

// opsRouter serves health, readiness and metrics.
func opsRouter(m *metrics.Metrics, pingDB func(context.Context) error, brokers []string) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDB(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), brokers); err != nil {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", m.Handler())
	return r
}
