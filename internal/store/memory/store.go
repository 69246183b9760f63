// Package memory is the in-process Store used for development and tests.
// A unit stages its writes in private overlays and publishes them under the
// store write lock; units of the same scope are serialized by a scope mutex.
package memory

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	scopes sync.Map // scope -> *sync.Mutex
	logger *zap.Logger

	pharmacies    *table[domain.Pharmacy]
	users         *table[domain.User]
	medicines     *table[domain.Medicine]
	stockLogs     *table[domain.StockAdjustmentLog]
	sales         *table[domain.Sale]
	heldSales     *table[domain.Sale]
	returns       *table[domain.Return]
	prescriptions *table[domain.Prescription]
	expenses      *table[domain.Expense]
	suppliers     *table[domain.Supplier]
	payments      *table[domain.PaymentTransaction]
	tickets       *table[domain.SupportTicket]

	settings domain.PlatformSettings
	roles    domain.PermissionTable
	events   []domain.Event
	onCommit []func([]domain.Event)
}

var _ store.Store = (*Store)(nil)

// New creates an empty store seeded with default settings and role permissions.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:        logger,
		pharmacies:    newTable("pharmacy", domain.Pharmacy.Clone, func(p domain.Pharmacy) int { return p.Version }),
		users:         newTable[domain.User]("user", nil, nil),
		medicines:     newTable("medicine", domain.Medicine.Clone, func(m domain.Medicine) int { return m.Version }),
		stockLogs:     newTable[domain.StockAdjustmentLog]("stock log", nil, nil),
		sales:         newTable("sale", domain.Sale.Clone, nil),
		heldSales:     newTable("held sale", domain.Sale.Clone, nil),
		returns:       newTable("return", domain.Return.Clone, nil),
		prescriptions: newTable("prescription", domain.Prescription.Clone, nil),
		expenses:      newTable[domain.Expense]("expense", nil, nil),
		suppliers:     newTable[domain.Supplier]("supplier", nil, nil),
		payments:      newTable[domain.PaymentTransaction]("payment transaction", nil, nil),
		tickets:       newTable("support ticket", domain.SupportTicket.Clone, nil),
		settings:      domain.DefaultSettings(),
		roles:         domain.DefaultRolePermissions(),
	}
}

func (s *Store) scopeLock(scope string) *sync.Mutex {
	m, _ := s.scopes.LoadOrStore(scope, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Update runs fn as one unit for scope.
func (s *Store) Update(ctx context.Context, scope string, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	t := s.begin(func(f func()) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		f()
	}, false)
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.begin(func(f func()) { f() }, true))
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	overlays := t.overlays()
	for _, o := range overlays {
		if err := o.check(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	for _, id := range t.users.inserted {
		u := t.users.writes[id]
		for _, existing := range s.users.rows {
			if strings.EqualFold(existing.Email, u.Email) && existing.ID != u.ID {
				s.mu.Unlock()
				return domain.Detail("memory.commit", domain.ErrEmailTaken, "%s", u.Email)
			}
		}
	}
	for _, o := range overlays {
		o.apply()
	}
	if t.settings != nil {
		s.settings = t.settings.Clone()
	}
	if t.roles != nil {
		s.roles = t.roles.Clone()
	}
	s.events = append(s.events, t.events...)
	hooks := s.onCommit
	s.mu.Unlock()

	if len(t.events) > 0 {
		for _, h := range hooks {
			h(append([]domain.Event(nil), t.events...))
		}
	}
	return nil
}

// OnCommit registers a callback receiving the events of every committed unit.
func (s *Store) OnCommit(fn func([]domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

// Events returns every committed event in commit order.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.events...)
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close() {
	s.logger.Debug("memory store closed", zap.Int("events", len(s.Events())))
}
