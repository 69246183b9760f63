// Package service holds the pharmacy domain operations. Every mutating entry
// point authorizes the acting principal and runs as one unit of work scoped
// to a single pharmacy.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/internal/store"
)

// Config holds service configuration
type Config struct {
	// JWTSecret signs session tokens.
	JWTSecret []byte
	// TokenTTL is the lifetime of a login session.
	TokenTTL time.Duration
	// ImpersonationTTL is the lifetime of an impersonation session.
	ImpersonationTTL time.Duration
	// LowStockThreshold applies to medicines without a reorder level.
	LowStockThreshold int
	// AllowNegativeStock lets every ledger decrease overdraw stock.
	AllowNegativeStock bool
	// ConflictRetries is how often a unit is retried on a version conflict.
	ConflictRetries int
	// TrialPeriod is the trial length of a newly onboarded pharmacy.
	TrialPeriod time.Duration
	// SettingsTTL bounds how stale cached platform settings may be.
	SettingsTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TokenTTL:          12 * time.Hour,
		ImpersonationTTL:  time.Hour,
		LowStockThreshold: 10,
		ConflictRetries:   3,
		TrialPeriod:       14 * 24 * time.Hour,
		SettingsTTL:       5 * time.Second,
	}
}

// Service implements the domain operations on top of a store.Store.
type Service struct {
	store   store.Store
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string

	settingsMu     sync.RWMutex
	settings       *domain.PlatformSettings
	settingsLoaded time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records operation metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the id generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates a service.
func New(st store.Store, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.ImpersonationTTL <= 0 {
		cfg.ImpersonationTTL = def.ImpersonationTTL
	}
	if cfg.TrialPeriod <= 0 {
		cfg.TrialPeriod = def.TrialPeriod
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = def.LowStockThreshold
	}
	s := &Service{
		store:  st,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("rxledger/service"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// unit is the handle an operation body works with: the store transaction,
// the acting principal, and callbacks to run once the unit has committed.
type unit struct {
	store.Tx
	s     *Service
	p     domain.Principal
	op    string
	after []func()
}

func (u *unit) onCommit(fn func()) {
	u.after = append(u.after, fn)
}

// update runs fn as a unit for scope, retrying on version conflicts. The
// body may run more than once and must not leak state between attempts.
func (s *Service) update(ctx context.Context, op string, p domain.Principal, scope string, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("pharmacy_id", scope),
		attribute.String("actor_id", p.UserID),
		attribute.String("actor_role", string(p.Role)),
	))
	defer span.End()

	var (
		err error
		u   *unit
	)
	for attempt := 0; ; attempt++ {
		u = &unit{s: s, p: p, op: op}
		err = s.store.Update(ctx, scope, func(tx store.Tx) error {
			u.Tx = tx
			return fn(ctx, u)
		})
		if err == nil || !errors.Is(err, domain.ErrVersionConflict) || attempt >= s.cfg.ConflictRetries {
			break
		}
		s.logger.Debug("retrying unit after version conflict",
			zap.String("op", op), zap.Int("attempt", attempt+1))
	}

	s.finish(op, start, span, err)
	if err != nil {
		return err
	}
	for _, fn := range u.after {
		fn()
	}
	return nil
}

// view runs fn against a read-only snapshot.
func (s *Service) view(ctx context.Context, op string, p domain.Principal, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()

	err := s.store.View(ctx, func(tx store.Tx) error {
		return fn(ctx, &unit{Tx: tx, s: s, p: p, op: op})
	})
	s.finish(op, start, span, err)
	return err
}

func (s *Service) finish(op string, start time.Time, span trace.Span, err error) {
	if err == nil {
		s.metrics.ObserveOp(op, start, "")
		return
	}
	kind := domain.KindOf(err)
	s.metrics.ObserveOp(op, start, string(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	if kind == domain.KindInternal {
		s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
		return
	}
	s.logger.Debug("operation rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
}

// authorize checks perm against the stored permission table and, for
// tenant principals, that pharmacyID is their own.
func (u *unit) authorize(ctx context.Context, perm domain.Permission, pharmacyID string) error {
	table, err := u.RolePermissions(ctx)
	if err != nil {
		return err
	}
	if !table.Has(u.p.Role, perm) {
		return domain.Forbidden(u.op, "role %s lacks %s", u.p.Role, perm)
	}
	return u.owns(pharmacyID)
}

// owns checks tenant isolation without a permission check.
func (u *unit) owns(pharmacyID string) error {
	if u.p.IsPlatform() || pharmacyID == "" {
		return nil
	}
	if u.p.PharmacyID != pharmacyID {
		return domain.E(u.op, domain.ErrCrossTenantAccess)
	}
	return nil
}

// emit appends a domain event to the unit.
func (u *unit) emit(ctx context.Context, aggregateType, aggregateID, pharmacyID string, typ domain.EventType, data any) error {
	ev, err := domain.NewEvent(aggregateType, aggregateID, pharmacyID, typ, data)
	if err != nil {
		return err
	}
	ev.Timestamp = u.s.now()
	return u.AppendEvent(ctx, ev.WithActor(u.p.UserID))
}

// tenantScope resolves the pharmacy a tenant-scoped mutation targets. Tenant
// principals always act on their own pharmacy; platform principals must name
// one.
func tenantScope(op string, p domain.Principal, requested string) (string, error) {
	if p.IsPlatform() {
		if requested == "" {
			return "", domain.Invalid(op, "pharmacyId is required")
		}
		return requested, nil
	}
	if p.PharmacyID == "" {
		return "", domain.Forbidden(op, "principal has no pharmacy")
	}
	if requested != "" && requested != p.PharmacyID {
		return "", domain.E(op, domain.ErrCrossTenantAccess)
	}
	return p.PharmacyID, nil
}

// readScope resolves the pharmacy filter of a listing. Platform principals
// may list every tenant by leaving it empty.
func readScope(op string, p domain.Principal, requested string) (string, error) {
	if p.IsPlatform() {
		return requested, nil
	}
	return tenantScope(op, p, requested)
}

// scopeOf finds the pharmacy an existing entity belongs to so the unit can
// lock the right scope. Tenant principals never need the lookup.
func (s *Service) scopeOf(ctx context.Context, p domain.Principal, lookup func(ctx context.Context, tx store.Tx) (string, error)) (string, error) {
	if !p.IsPlatform() && p.PharmacyID != "" {
		return p.PharmacyID, nil
	}
	var scope string
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		scope, err = lookup(ctx, tx)
		return err
	})
	return scope, err
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
