package memory

import (
	"context"
	"strings"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

type tx struct {
	store    *Store
	readOnly bool

	pharmacies    *staged[domain.Pharmacy]
	users         *staged[domain.User]
	medicines     *staged[domain.Medicine]
	stockLogs     *staged[domain.StockAdjustmentLog]
	sales         *staged[domain.Sale]
	heldSales     *staged[domain.Sale]
	returns       *staged[domain.Return]
	prescriptions *staged[domain.Prescription]
	expenses      *staged[domain.Expense]
	suppliers     *staged[domain.Supplier]
	payments      *staged[domain.PaymentTransaction]
	tickets       *staged[domain.SupportTicket]

	read     func(func())
	settings *domain.PlatformSettings
	roles    domain.PermissionTable
	events   []domain.Event
}

var _ store.Tx = (*tx)(nil)

func (s *Store) begin(read func(func()), readOnly bool) *tx {
	return &tx{
		store:         s,
		readOnly:      readOnly,
		read:          read,
		pharmacies:    newStaged(s.pharmacies, read),
		users:         newStaged(s.users, read),
		medicines:     newStaged(s.medicines, read),
		stockLogs:     newStaged(s.stockLogs, read),
		sales:         newStaged(s.sales, read),
		heldSales:     newStaged(s.heldSales, read),
		returns:       newStaged(s.returns, read),
		prescriptions: newStaged(s.prescriptions, read),
		expenses:      newStaged(s.expenses, read),
		suppliers:     newStaged(s.suppliers, read),
		payments:      newStaged(s.payments, read),
		tickets:       newStaged(s.tickets, read),
	}
}

func (t *tx) overlays() []overlay {
	return []overlay{
		t.pharmacies, t.users, t.medicines, t.stockLogs, t.sales, t.heldSales,
		t.returns, t.prescriptions, t.expenses, t.suppliers, t.payments, t.tickets,
	}
}

func (t *tx) writable(op string) error {
	if t.readOnly {
		return domain.Invalid(op, "write in read-only unit")
	}
	return nil
}

func byTenant[T any](pharmacyID string, tenant func(T) string) func(T) bool {
	if pharmacyID == "" {
		return nil
	}
	return func(v T) bool { return tenant(v) == pharmacyID }
}

// Pharmacies

func (t *tx) GetPharmacy(_ context.Context, id string) (*domain.Pharmacy, error) {
	p, err := t.pharmacies.get("GetPharmacy", id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) ListPharmacies(_ context.Context) ([]domain.Pharmacy, error) {
	return t.pharmacies.list(nil), nil
}

func (t *tx) InsertPharmacy(_ context.Context, p *domain.Pharmacy) error {
	const op = "InsertPharmacy"
	if err := t.writable(op); err != nil {
		return err
	}
	p.Version = 1
	return t.pharmacies.insert(op, p.ID, *p)
}

func (t *tx) UpdatePharmacy(_ context.Context, p *domain.Pharmacy) error {
	const op = "UpdatePharmacy"
	if err := t.writable(op); err != nil {
		return err
	}
	next := p.Clone()
	next.Version++
	if err := t.pharmacies.update(op, p.ID, next, p.Version); err != nil {
		return err
	}
	p.Version = next.Version
	return nil
}

// Users

func (t *tx) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, err := t.users.get("GetUser", id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *tx) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	found := t.users.list(func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
	if len(found) == 0 {
		return nil, domain.NotFound("GetUserByEmail", "user", email)
	}
	return &found[0], nil
}

func (t *tx) ListUsers(_ context.Context, pharmacyID string) ([]domain.User, error) {
	return t.users.list(byTenant(pharmacyID, func(u domain.User) string { return u.PharmacyID })), nil
}

func (t *tx) InsertUser(ctx context.Context, u *domain.User) error {
	const op = "InsertUser"
	if err := t.writable(op); err != nil {
		return err
	}
	if _, err := t.GetUserByEmail(ctx, u.Email); err == nil {
		return domain.Detail(op, domain.ErrEmailTaken, "%s", u.Email)
	}
	return t.users.insert(op, u.ID, *u)
}

func (t *tx) UpdateUser(_ context.Context, u *domain.User) error {
	const op = "UpdateUser"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.users.update(op, u.ID, *u, 0)
}

// Medicines and the stock log

func (t *tx) GetMedicine(_ context.Context, id string) (*domain.Medicine, error) {
	m, err := t.medicines.get("GetMedicine", id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *tx) ListMedicines(_ context.Context, pharmacyID string) ([]domain.Medicine, error) {
	return t.medicines.list(byTenant(pharmacyID, func(m domain.Medicine) string { return m.PharmacyID })), nil
}

func (t *tx) InsertMedicine(_ context.Context, m *domain.Medicine) error {
	const op = "InsertMedicine"
	if err := t.writable(op); err != nil {
		return err
	}
	m.Version = 1
	return t.medicines.insert(op, m.ID, *m)
}

func (t *tx) UpdateMedicine(_ context.Context, m *domain.Medicine) error {
	const op = "UpdateMedicine"
	if err := t.writable(op); err != nil {
		return err
	}
	next := m.Clone()
	next.Version++
	if err := t.medicines.update(op, m.ID, next, m.Version); err != nil {
		return err
	}
	m.Version = next.Version
	return nil
}

func (t *tx) AppendStockLog(_ context.Context, l *domain.StockAdjustmentLog) error {
	const op = "AppendStockLog"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.stockLogs.insert(op, l.ID, *l)
}

func (t *tx) ListStockLogs(_ context.Context, pharmacyID, medicineID string) ([]domain.StockAdjustmentLog, error) {
	return t.stockLogs.list(func(l domain.StockAdjustmentLog) bool {
		return (pharmacyID == "" || l.PharmacyID == pharmacyID) && (medicineID == "" || l.MedicineID == medicineID)
	}), nil
}

// Sales

func (t *tx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s, err := t.sales.get("GetSale", id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) ListSales(_ context.Context, pharmacyID string) ([]domain.Sale, error) {
	return t.sales.list(byTenant(pharmacyID, func(s domain.Sale) string { return s.PharmacyID })), nil
}

func (t *tx) InsertSale(_ context.Context, s *domain.Sale) error {
	const op = "InsertSale"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.sales.insert(op, s.ID, *s)
}

func (t *tx) UpdateSale(_ context.Context, s *domain.Sale) error {
	const op = "UpdateSale"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.sales.update(op, s.ID, *s, 0)
}

func (t *tx) GetHeldSale(_ context.Context, id string) (*domain.Sale, error) {
	s, err := t.heldSales.get("GetHeldSale", id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) ListHeldSales(_ context.Context, pharmacyID string) ([]domain.Sale, error) {
	return t.heldSales.list(byTenant(pharmacyID, func(s domain.Sale) string { return s.PharmacyID })), nil
}

func (t *tx) InsertHeldSale(_ context.Context, s *domain.Sale) error {
	const op = "InsertHeldSale"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.heldSales.insert(op, s.ID, *s)
}

func (t *tx) DeleteHeldSale(_ context.Context, id string) error {
	const op = "DeleteHeldSale"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.heldSales.delete(op, id)
}

// Returns

func (t *tx) ListReturns(_ context.Context, pharmacyID string) ([]domain.Return, error) {
	return t.returns.list(byTenant(pharmacyID, func(r domain.Return) string { return r.PharmacyID })), nil
}

func (t *tx) InsertReturn(_ context.Context, r *domain.Return) error {
	const op = "InsertReturn"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.returns.insert(op, r.ID, *r)
}

// Prescriptions

func (t *tx) GetPrescription(_ context.Context, id string) (*domain.Prescription, error) {
	p, err := t.prescriptions.get("GetPrescription", id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) ListPrescriptions(_ context.Context, pharmacyID string) ([]domain.Prescription, error) {
	return t.prescriptions.list(byTenant(pharmacyID, func(p domain.Prescription) string { return p.PharmacyID })), nil
}

func (t *tx) InsertPrescription(_ context.Context, p *domain.Prescription) error {
	const op = "InsertPrescription"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.prescriptions.insert(op, p.ID, *p)
}

func (t *tx) UpdatePrescription(_ context.Context, p *domain.Prescription) error {
	const op = "UpdatePrescription"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.prescriptions.update(op, p.ID, *p, 0)
}

// Expenses and suppliers

func (t *tx) ListExpenses(_ context.Context, pharmacyID string) ([]domain.Expense, error) {
	return t.expenses.list(byTenant(pharmacyID, func(e domain.Expense) string { return e.PharmacyID })), nil
}

func (t *tx) InsertExpense(_ context.Context, e *domain.Expense) error {
	const op = "InsertExpense"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.expenses.insert(op, e.ID, *e)
}

func (t *tx) ListSuppliers(_ context.Context, pharmacyID string) ([]domain.Supplier, error) {
	return t.suppliers.list(byTenant(pharmacyID, func(s domain.Supplier) string { return s.PharmacyID })), nil
}

func (t *tx) InsertSupplier(_ context.Context, s *domain.Supplier) error {
	const op = "InsertSupplier"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.suppliers.insert(op, s.ID, *s)
}

// Billing

func (t *tx) GetPaymentTransaction(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	p, err := t.payments.get("GetPaymentTransaction", id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) ListPaymentTransactions(_ context.Context, pharmacyID string) ([]domain.PaymentTransaction, error) {
	return t.payments.list(byTenant(pharmacyID, func(p domain.PaymentTransaction) string { return p.PharmacyID })), nil
}

func (t *tx) InsertPaymentTransaction(_ context.Context, p *domain.PaymentTransaction) error {
	const op = "InsertPaymentTransaction"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.payments.insert(op, p.ID, *p)
}

func (t *tx) UpdatePaymentTransaction(_ context.Context, p *domain.PaymentTransaction) error {
	const op = "UpdatePaymentTransaction"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.payments.update(op, p.ID, *p, 0)
}

// Support

func (t *tx) GetTicket(_ context.Context, id string) (*domain.SupportTicket, error) {
	tk, err := t.tickets.get("GetTicket", id)
	if err != nil {
		return nil, err
	}
	return &tk, nil
}

func (t *tx) ListTickets(_ context.Context, pharmacyID string) ([]domain.SupportTicket, error) {
	return t.tickets.list(byTenant(pharmacyID, func(tk domain.SupportTicket) string { return tk.PharmacyID })), nil
}

func (t *tx) InsertTicket(_ context.Context, tk *domain.SupportTicket) error {
	const op = "InsertTicket"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.tickets.insert(op, tk.ID, *tk)
}

func (t *tx) UpdateTicket(_ context.Context, tk *domain.SupportTicket) error {
	const op = "UpdateTicket"
	if err := t.writable(op); err != nil {
		return err
	}
	return t.tickets.update(op, tk.ID, *tk, 0)
}

// Settings and roles

func (t *tx) GetSettings(_ context.Context) (domain.PlatformSettings, error) {
	if t.settings != nil {
		return t.settings.Clone(), nil
	}
	var out domain.PlatformSettings
	t.read(func() { out = t.store.settings.Clone() })
	return out, nil
}

func (t *tx) SaveSettings(_ context.Context, s domain.PlatformSettings) error {
	if err := t.writable("SaveSettings"); err != nil {
		return err
	}
	c := s.Clone()
	t.settings = &c
	return nil
}

func (t *tx) RolePermissions(_ context.Context) (domain.PermissionTable, error) {
	if t.roles != nil {
		return t.roles.Clone(), nil
	}
	var out domain.PermissionTable
	t.read(func() { out = t.store.roles.Clone() })
	return out, nil
}

func (t *tx) SaveRolePermissions(ctx context.Context, role domain.Role, perms []domain.Permission) error {
	const op = "SaveRolePermissions"
	if err := t.writable(op); err != nil {
		return err
	}
	table, err := t.RolePermissions(ctx)
	if err != nil {
		return err
	}
	if err := table.Set(role, perms); err != nil {
		return domain.Invalid(op, "%v", err)
	}
	t.roles = table
	return nil
}

// Events

func (t *tx) AppendEvent(_ context.Context, e *domain.Event) error {
	if err := t.writable("AppendEvent"); err != nil {
		return err
	}
	t.events = append(t.events, *e)
	return nil
}
