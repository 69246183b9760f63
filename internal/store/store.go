// Package store defines the storage contract the domain services run against.
// Every mutation happens inside a unit of work scoped to one pharmacy; either
// all staged writes and events of a unit commit or none do.
package store

import (
	"context"

	"github.com/drfirst/rxledger/internal/domain"
)

// PlatformScope is the scope of units that touch no single tenant.
const PlatformScope = ""

// Store runs units of work.
type Store interface {
	// Update runs fn as one serializable unit for scope. Units with the same
	// scope never interleave. If fn returns an error nothing is committed.
	Update(ctx context.Context, scope string, fn func(Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// Tx is the set of reads and staged writes available inside a unit.
// Get methods return an error of kind NotFound when the id does not resolve.
// Updates of versioned entities fail with domain.ErrVersionConflict when the
// stored version differs from the one read, and bump the version on success.
// List methods return every tenant's rows when pharmacyID is empty.
type Tx interface {
	GetPharmacy(ctx context.Context, id string) (*domain.Pharmacy, error)
	ListPharmacies(ctx context.Context) ([]domain.Pharmacy, error)
	InsertPharmacy(ctx context.Context, p *domain.Pharmacy) error
	UpdatePharmacy(ctx context.Context, p *domain.Pharmacy) error

	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, pharmacyID string) ([]domain.User, error)
	InsertUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, u *domain.User) error

	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	ListMedicines(ctx context.Context, pharmacyID string) ([]domain.Medicine, error)
	InsertMedicine(ctx context.Context, m *domain.Medicine) error
	UpdateMedicine(ctx context.Context, m *domain.Medicine) error
	AppendStockLog(ctx context.Context, l *domain.StockAdjustmentLog) error
	ListStockLogs(ctx context.Context, pharmacyID, medicineID string) ([]domain.StockAdjustmentLog, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, pharmacyID string) ([]domain.Sale, error)
	InsertSale(ctx context.Context, s *domain.Sale) error
	UpdateSale(ctx context.Context, s *domain.Sale) error

	GetHeldSale(ctx context.Context, id string) (*domain.Sale, error)
	ListHeldSales(ctx context.Context, pharmacyID string) ([]domain.Sale, error)
	InsertHeldSale(ctx context.Context, s *domain.Sale) error
	DeleteHeldSale(ctx context.Context, id string) error

	ListReturns(ctx context.Context, pharmacyID string) ([]domain.Return, error)
	InsertReturn(ctx context.Context, r *domain.Return) error

	GetPrescription(ctx context.Context, id string) (*domain.Prescription, error)
	ListPrescriptions(ctx context.Context, pharmacyID string) ([]domain.Prescription, error)
	InsertPrescription(ctx context.Context, p *domain.Prescription) error
	UpdatePrescription(ctx context.Context, p *domain.Prescription) error

	ListExpenses(ctx context.Context, pharmacyID string) ([]domain.Expense, error)
	InsertExpense(ctx context.Context, e *domain.Expense) error
	ListSuppliers(ctx context.Context, pharmacyID string) ([]domain.Supplier, error)
	InsertSupplier(ctx context.Context, s *domain.Supplier) error

	GetPaymentTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error)
	ListPaymentTransactions(ctx context.Context, pharmacyID string) ([]domain.PaymentTransaction, error)
	InsertPaymentTransaction(ctx context.Context, t *domain.PaymentTransaction) error
	UpdatePaymentTransaction(ctx context.Context, t *domain.PaymentTransaction) error

	GetTicket(ctx context.Context, id string) (*domain.SupportTicket, error)
	ListTickets(ctx context.Context, pharmacyID string) ([]domain.SupportTicket, error)
	InsertTicket(ctx context.Context, t *domain.SupportTicket) error
	UpdateTicket(ctx context.Context, t *domain.SupportTicket) error

	GetSettings(ctx context.Context) (domain.PlatformSettings, error)
	SaveSettings(ctx context.Context, s domain.PlatformSettings) error

	RolePermissions(ctx context.Context) (domain.PermissionTable, error)
	SaveRolePermissions(ctx context.Context, role domain.Role, perms []domain.Permission) error

	// AppendEvent records a domain event in the same unit as the mutation.
	AppendEvent(ctx context.Context, e *domain.Event) error
}
