package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/rxledger/internal/domain"
)

// ExpenseInput records an operating cost.
type ExpenseInput struct {
	PharmacyID  string          `json:"pharmacyId,omitempty"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Date        time.Time       `json:"date"`
}

// SupplierInput registers a supplier.
type SupplierInput struct {
	PharmacyID string `json:"pharmacyId,omitempty"`
	Name       string `json:"name"`
	Contact    string `json:"contact,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// CreateExpense records an expense dated today unless a date is given.
func (s *Service) CreateExpense(ctx context.Context, p domain.Principal, in ExpenseInput) (*domain.Expense, error) {
	const op = "expenses.Create"
	scope, err := tenantScope(op, p, in.PharmacyID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, domain.Invalid(op, "category is required")
	}
	if !in.Amount.IsPositive() {
		return nil, domain.Invalid(op, "amount must be positive")
	}

	var out *domain.Expense
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageExpenses, scope); err != nil {
			return err
		}
		now := s.now()
		date := in.Date
		if date.IsZero() {
			date = now
		}
		e := &domain.Expense{
			ID:          s.newID(),
			PharmacyID:  scope,
			Category:    strings.TrimSpace(in.Category),
			Amount:      in.Amount,
			Description: in.Description,
			Date:        date,
			StaffID:     p.UserID,
			CreatedAt:   now,
		}
		if err := u.InsertExpense(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListExpenses lists expenses, newest first.
func (s *Service) ListExpenses(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Expense, error) {
	const op = "expenses.List"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Expense
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageExpenses, scope); err != nil {
			return err
		}
		var err error
		out, err = u.ListExpenses(ctx, scope)
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, err
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, p domain.Principal, in SupplierInput) (*domain.Supplier, error) {
	const op = "suppliers.Create"
	scope, err := tenantScope(op, p, in.PharmacyID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, domain.Invalid(op, "name is required")
	}
	var out *domain.Supplier
	err = s.update(ctx, op, p, scope, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageSuppliers, scope); err != nil {
			return err
		}
		sup := &domain.Supplier{
			ID:         s.newID(),
			PharmacyID: scope,
			Name:       strings.TrimSpace(in.Name),
			Contact:    in.Contact,
			Phone:      in.Phone,
			Email:      in.Email,
			CreatedAt:  s.now(),
		}
		if err := u.InsertSupplier(ctx, sup); err != nil {
			return err
		}
		out = sup
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListSuppliers lists suppliers by name.
func (s *Service) ListSuppliers(ctx context.Context, p domain.Principal, pharmacyID string) ([]domain.Supplier, error) {
	const op = "suppliers.List"
	scope, err := tenantScope(op, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	var out []domain.Supplier
	err = s.view(ctx, op, p, func(ctx context.Context, u *unit) error {
		if err := u.authorize(ctx, domain.PermManageSuppliers, scope); err != nil {
			return err
		}
		var err error
		out, err = u.ListSuppliers(ctx, scope)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}
