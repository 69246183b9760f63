package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/internal/store"
)

type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

// Pharmacies

func (t *pgTx) GetPharmacy(ctx context.Context, id string) (*domain.Pharmacy, error) {
	return getDoc[domain.Pharmacy](ctx, t.tx, tblPharmacies, id)
}

func (t *pgTx) ListPharmacies(ctx context.Context) ([]domain.Pharmacy, error) {
	return listDocs[domain.Pharmacy](ctx, t.tx, tblPharmacies, "")
}

func (t *pgTx) InsertPharmacy(ctx context.Context, p *domain.Pharmacy) error {
	p.Version = 1
	return insertDoc(ctx, t.tx, tblPharmacies, p.ID, p.ID, p)
}

func (t *pgTx) UpdatePharmacy(ctx context.Context, p *domain.Pharmacy) error {
	next := p.Clone()
	next.Version++
	if err := updateDoc(ctx, t.tx, tblPharmacies, p.ID, p.Version, next); err != nil {
		return err
	}
	p.Version = next.Version
	return nil
}

// Users keep the password hash out of the json body.

const userColumns = "password_hash, body"

func scanUser(row pgx.Row, op, key string) (*domain.User, error) {
	var (
		hash string
		body []byte
	)
	err := row.Scan(&hash, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound(op, "user", key)
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	var u domain.User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	u.PasswordHash = hash
	return &u, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(t.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id), "GetUser", id)
}

func (t *pgTx) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(t.tx.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email), "GetUserByEmail", email)
}

func (t *pgTx) ListUsers(ctx context.Context, pharmacyID string) ([]domain.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	var args []any
	if pharmacyID != "" {
		query += " WHERE pharmacy_id = $1"
		args = append(args, pharmacyID)
	}
	rows, err := t.tx.Query(ctx, query+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows, "ListUsers", pharmacyID)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		"INSERT INTO users (id, pharmacy_id, email, password_hash, body) VALUES ($1, $2, $3, $4, $5)",
		u.ID, u.PharmacyID, u.Email, u.PasswordHash, body)
	if isUniqueViolation(err) {
		return domain.Detail("InsertUser", domain.ErrEmailTaken, "%s", u.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateUser(ctx context.Context, u *domain.User) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		"UPDATE users SET email = $1, password_hash = $2, body = $3, updated_at = NOW() WHERE id = $4",
		u.Email, u.PasswordHash, body, u.ID)
	if isUniqueViolation(err) {
		return domain.Detail("UpdateUser", domain.ErrEmailTaken, "%s", u.Email)
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("UpdateUser", "user", u.ID)
	}
	return nil
}

// Medicines and the stock log

func (t *pgTx) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	return getDoc[domain.Medicine](ctx, t.tx, tblMedicines, id)
}

func (t *pgTx) ListMedicines(ctx context.Context, pharmacyID string) ([]domain.Medicine, error) {
	return listDocs[domain.Medicine](ctx, t.tx, tblMedicines, pharmacyID)
}

func (t *pgTx) InsertMedicine(ctx context.Context, m *domain.Medicine) error {
	m.Version = 1
	return insertDoc(ctx, t.tx, tblMedicines, m.ID, m.PharmacyID, m)
}

func (t *pgTx) UpdateMedicine(ctx context.Context, m *domain.Medicine) error {
	next := m.Clone()
	next.Version++
	if err := updateDoc(ctx, t.tx, tblMedicines, m.ID, m.Version, next); err != nil {
		return err
	}
	m.Version = next.Version
	return nil
}

func (t *pgTx) AppendStockLog(ctx context.Context, l *domain.StockAdjustmentLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_adjustment_logs (id, pharmacy_id, medicine_id, staff_id, type, quantity, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.PharmacyID, l.MedicineID, l.StaffID, string(l.Type), l.Quantity, l.Reason, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("append stock log: %w", err)
	}
	return nil
}

func (t *pgTx) ListStockLogs(ctx context.Context, pharmacyID, medicineID string) ([]domain.StockAdjustmentLog, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, pharmacy_id, medicine_id, staff_id, type, quantity, reason, created_at
		FROM stock_adjustment_logs
		WHERE ($1 = '' OR pharmacy_id = $1) AND ($2 = '' OR medicine_id = $2)
		ORDER BY created_at, id
	`, pharmacyID, medicineID)
	if err != nil {
		return nil, fmt.Errorf("query stock logs: %w", err)
	}
	defer rows.Close()

	var out []domain.StockAdjustmentLog
	for rows.Next() {
		var (
			l   domain.StockAdjustmentLog
			typ string
		)
		if err := rows.Scan(&l.ID, &l.PharmacyID, &l.MedicineID, &l.StaffID, &typ, &l.Quantity, &l.Reason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock log: %w", err)
		}
		l.Type = domain.AdjustmentType(typ)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Sales

func (t *pgTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getDoc[domain.Sale](ctx, t.tx, tblSales, id)
}

func (t *pgTx) ListSales(ctx context.Context, pharmacyID string) ([]domain.Sale, error) {
	return listDocs[domain.Sale](ctx, t.tx, tblSales, pharmacyID)
}

func (t *pgTx) InsertSale(ctx context.Context, s *domain.Sale) error {
	return insertDoc(ctx, t.tx, tblSales, s.ID, s.PharmacyID, s)
}

func (t *pgTx) UpdateSale(ctx context.Context, s *domain.Sale) error {
	return updateDoc(ctx, t.tx, tblSales, s.ID, 0, s)
}

func (t *pgTx) GetHeldSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getDoc[domain.Sale](ctx, t.tx, tblHeldSales, id)
}

func (t *pgTx) ListHeldSales(ctx context.Context, pharmacyID string) ([]domain.Sale, error) {
	return listDocs[domain.Sale](ctx, t.tx, tblHeldSales, pharmacyID)
}

func (t *pgTx) InsertHeldSale(ctx context.Context, s *domain.Sale) error {
	return insertDoc(ctx, t.tx, tblHeldSales, s.ID, s.PharmacyID, s)
}

func (t *pgTx) DeleteHeldSale(ctx context.Context, id string) error {
	return deleteDoc(ctx, t.tx, tblHeldSales, id)
}

// Returns

func (t *pgTx) ListReturns(ctx context.Context, pharmacyID string) ([]domain.Return, error) {
	return listDocs[domain.Return](ctx, t.tx, tblReturns, pharmacyID)
}

func (t *pgTx) InsertReturn(ctx context.Context, r *domain.Return) error {
	return insertDoc(ctx, t.tx, tblReturns, r.ID, r.PharmacyID, r)
}

// Prescriptions

func (t *pgTx) GetPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return getDoc[domain.Prescription](ctx, t.tx, tblPrescriptions, id)
}

func (t *pgTx) ListPrescriptions(ctx context.Context, pharmacyID string) ([]domain.Prescription, error) {
	return listDocs[domain.Prescription](ctx, t.tx, tblPrescriptions, pharmacyID)
}

func (t *pgTx) InsertPrescription(ctx context.Context, p *domain.Prescription) error {
	return insertDoc(ctx, t.tx, tblPrescriptions, p.ID, p.PharmacyID, p)
}

func (t *pgTx) UpdatePrescription(ctx context.Context, p *domain.Prescription) error {
	return updateDoc(ctx, t.tx, tblPrescriptions, p.ID, 0, p)
}

// Expenses and suppliers

func (t *pgTx) ListExpenses(ctx context.Context, pharmacyID string) ([]domain.Expense, error) {
	return listDocs[domain.Expense](ctx, t.tx, tblExpenses, pharmacyID)
}

func (t *pgTx) InsertExpense(ctx context.Context, e *domain.Expense) error {
	return insertDoc(ctx, t.tx, tblExpenses, e.ID, e.PharmacyID, e)
}

func (t *pgTx) ListSuppliers(ctx context.Context, pharmacyID string) ([]domain.Supplier, error) {
	return listDocs[domain.Supplier](ctx, t.tx, tblSuppliers, pharmacyID)
}

func (t *pgTx) InsertSupplier(ctx context.Context, s *domain.Supplier) error {
	return insertDoc(ctx, t.tx, tblSuppliers, s.ID, s.PharmacyID, s)
}

// Billing

func (t *pgTx) GetPaymentTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	return getDoc[domain.PaymentTransaction](ctx, t.tx, tblPayments, id)
}

func (t *pgTx) ListPaymentTransactions(ctx context.Context, pharmacyID string) ([]domain.PaymentTransaction, error) {
	return listDocs[domain.PaymentTransaction](ctx, t.tx, tblPayments, pharmacyID)
}

func (t *pgTx) InsertPaymentTransaction(ctx context.Context, p *domain.PaymentTransaction) error {
	return insertDoc(ctx, t.tx, tblPayments, p.ID, p.PharmacyID, p)
}

func (t *pgTx) UpdatePaymentTransaction(ctx context.Context, p *domain.PaymentTransaction) error {
	return updateDoc(ctx, t.tx, tblPayments, p.ID, 0, p)
}

// Support

func (t *pgTx) GetTicket(ctx context.Context, id string) (*domain.SupportTicket, error) {
	return getDoc[domain.SupportTicket](ctx, t.tx, tblTickets, id)
}

func (t *pgTx) ListTickets(ctx context.Context, pharmacyID string) ([]domain.SupportTicket, error) {
	return listDocs[domain.SupportTicket](ctx, t.tx, tblTickets, pharmacyID)
}

func (t *pgTx) InsertTicket(ctx context.Context, tk *domain.SupportTicket) error {
	return insertDoc(ctx, t.tx, tblTickets, tk.ID, tk.PharmacyID, tk)
}

func (t *pgTx) UpdateTicket(ctx context.Context, tk *domain.SupportTicket) error {
	return updateDoc(ctx, t.tx, tblTickets, tk.ID, 0, tk)
}

// Settings and roles

func (t *pgTx) GetSettings(ctx context.Context) (domain.PlatformSettings, error) {
	var body []byte
	err := t.tx.QueryRow(ctx, "SELECT body FROM platform_settings WHERE id = 1").Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.PlatformSettings{}, fmt.Errorf("select settings: %w", err)
	}
	var s domain.PlatformSettings
	if err := json.Unmarshal(body, &s); err != nil {
		return domain.PlatformSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (t *pgTx) SaveSettings(ctx context.Context, s domain.PlatformSettings) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO platform_settings (id, body) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`, body)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RolePermissions reads the table. An empty table means it was never
// written, and the defaults apply.
func (t *pgTx) RolePermissions(ctx context.Context) (domain.PermissionTable, error) {
	rows, err := t.tx.Query(ctx, "SELECT role, permission FROM role_permissions")
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	table := domain.PermissionTable{}
	seen := false
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		seen = true
		set := table[domain.Role(role)]
		if set == nil {
			set = map[domain.Permission]bool{}
			table[domain.Role(role)] = set
		}
		set[domain.Permission(perm)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !seen {
		return domain.DefaultRolePermissions(), nil
	}
	return table, nil
}

func (t *pgTx) SaveRolePermissions(ctx context.Context, role domain.Role, perms []domain.Permission) error {
	table, err := t.RolePermissions(ctx)
	if err != nil {
		return err
	}
	if err := table.Set(role, perms); err != nil {
		return domain.Invalid("SaveRolePermissions", "%v", err)
	}

	// rewrite the whole table so a first save also persists the defaults
	if _, err := t.tx.Exec(ctx, "DELETE FROM role_permissions"); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	batch := &pgx.Batch{}
	for r := range table {
		for _, p := range table.List(r) {
			batch.Queue("INSERT INTO role_permissions (role, permission) VALUES ($1, $2)", string(r), string(p))
		}
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert role permissions: %w", err)
	}
	return nil
}

// Events

func (t *pgTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	return WriteEvent(ctx, t.tx, e)
}
