// Package main provides the pharmacy API service entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/alerts"
	"github.com/drfirst/rxledger/internal/api"
	"github.com/drfirst/rxledger/internal/config"
	"github.com/drfirst/rxledger/internal/geo"
	"github.com/drfirst/rxledger/internal/infrastructure/redpanda"
	"github.com/drfirst/rxledger/internal/observability/logging"
	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/internal/observability/tracing"
	"github.com/drfirst/rxledger/internal/service"
	"github.com/drfirst/rxledger/internal/store"
	"github.com/drfirst/rxledger/internal/store/memory"
	"github.com/drfirst/rxledger/internal/store/postgres"
	"github.com/drfirst/rxledger/pkg/idempotency"
)

const (
	serviceName   = "pharmacy-api"
	version       = "1.0.0"
	trialInterval = time.Hour
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, tracing.ForService(serviceName, version, cfg.AppEnv, cfg.OTLPEndpoint))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		tp.Shutdown(sctx)
	}()

	m := metrics.New(nil)

	// Store and inbox
	var (
		st         store.Store
		inboxStore idempotency.Store
		mem        *memory.Store
	)
	if cfg.DatabaseURL == "" {
		mem = memory.New(logger)
		st = mem
		inboxStore = idempotency.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using the in-memory store")
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		st = postgres.New(pool, logger)
		inboxStore = idempotency.NewPostgresStore(pool)
		logger.Info("connected to database")
	}
	defer st.Close()

	inbox := idempotency.NewInbox(inboxStore, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	svc := service.New(st, service.Config{
		JWTSecret:          []byte(cfg.JWTSecret),
		TokenTTL:           cfg.TokenTTL,
		LowStockThreshold:  cfg.LowStockThreshold,
		AllowNegativeStock: cfg.AllowNegativeStock,
	}, logger, service.WithMetrics(m))

	if cfg.AdminEmail != "" {
		created, err := svc.EnsureSuperAdmin(ctx, "Super Admin", cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			logger.Fatal("bootstrap admin failed", zap.Error(err))
		}
		if created {
			logger.Info("super admin created", zap.String("email", cfg.AdminEmail))
		}
	}

	// The in-memory store has no outbox, so alerts are raised in-process.
	if mem != nil {
		detector, closeFn, err := inProcessAlerts(cfg, inbox, m, logger)
		if err != nil {
			logger.Fatal("alerts init failed", zap.Error(err))
		}
		defer closeFn()
		mem.OnCommit(detector.Enqueue)
	}

	geoClient, err := geo.New(geo.DefaultConfig(cfg.GeoLookupURL), m, logger)
	if err != nil {
		logger.Fatal("geo client init failed", zap.Error(err))
	}

	go expireTrials(ctx, svc, logger)

	handler := api.NewRouter(api.Deps{
		Service:     svc,
		Inbox:       inbox,
		Geo:         geoClient,
		Metrics:     m,
		Logger:      logger,
		ServiceName: serviceName,
		Version:     version,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer scancel()

		if err := server.Shutdown(sctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting pharmacy API",
		zap.String("port", cfg.HTTPPort),
		zap.Bool("tracing", tp.Enabled()))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// inProcessAlerts starts a detector fed by store commits. Alerts go to the
// broker when one is configured, otherwise to the log.
func inProcessAlerts(cfg config.Config, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) (*alerts.Detector, func(), error) {
	var (
		pub     alerts.Publisher = alerts.LogPublisher{Logger: logger}
		closers []func()
	)
	if len(cfg.KafkaBrokers) > 0 {
		pcfg := redpanda.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		producer, err := redpanda.NewProducer(pcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		pub = producer
		closers = append(closers, func() { producer.Close() })
	}

	acfg := alerts.DefaultConfig()
	acfg.Threshold = cfg.LowStockThreshold
	detector, err := alerts.NewDetector(acfg, inbox, pub, m, logger)
	if err != nil {
		return nil, nil, err
	}
	detector.Start()

	// the detector drains before the producer closes
	return detector, func() {
		detector.Stop()
		for _, c := range closers {
			c()
		}
	}, nil
}

func expireTrials(ctx context.Context, svc *service.Service, logger *zap.Logger) {
	ticker := time.NewTicker(trialInterval)
	defer ticker.Stop()

	for {
		n, err := svc.ExpireTrials(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error("trial expiry failed", zap.Error(err))
		case n > 0:
			logger.Info("trials expired", zap.Int("pharmacies", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
