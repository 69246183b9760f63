package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drfirst/rxledger/internal/domain"
)

// docTable is an entity table storing the row as a jsonb body next to the
// columns used for lookup and concurrency control.
type docTable struct {
	name      string
	entity    string
	versioned bool
}

var (
	tblPharmacies    = docTable{name: "pharmacies", entity: "pharmacy", versioned: true}
	tblMedicines     = docTable{name: "medicines", entity: "medicine", versioned: true}
	tblSales         = docTable{name: "sales", entity: "sale"}
	tblHeldSales     = docTable{name: "held_sales", entity: "held sale"}
	tblReturns       = docTable{name: "returns", entity: "return"}
	tblPrescriptions = docTable{name: "prescriptions", entity: "prescription"}
	tblExpenses      = docTable{name: "expenses", entity: "expense"}
	tblSuppliers     = docTable{name: "suppliers", entity: "supplier"}
	tblPayments      = docTable{name: "payment_transactions", entity: "payment transaction"}
	tblTickets       = docTable{name: "support_tickets", entity: "support ticket"}
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func getDoc[T any](ctx context.Context, tx pgx.Tx, t docTable, id string) (*T, error) {
	var body []byte
	err := tx.QueryRow(ctx, "SELECT body FROM "+t.name+" WHERE id = $1", id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("get "+t.entity, t.entity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", t.entity, id, err)
	}
	return &v, nil
}

func listDocs[T any](ctx context.Context, tx pgx.Tx, t docTable, pharmacyID string) ([]T, error) {
	query := "SELECT body FROM " + t.name
	var args []any
	if pharmacyID != "" {
		query += " WHERE pharmacy_id = $1"
		args = append(args, pharmacyID)
	}
	query += " ORDER BY created_at, id"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t.entity, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func insertDoc(ctx context.Context, tx pgx.Tx, t docTable, id, pharmacyID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.entity, err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO "+t.name+" (id, pharmacy_id, version, body) VALUES ($1, $2, 1, $3)",
		id, pharmacyID, body)
	if isUniqueViolation(err) {
		return domain.Conflict("insert "+t.entity, "%s %q already exists", t.entity, id)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.name, err)
	}
	return nil
}

// updateDoc replaces the body. For versioned tables the row must still carry
// version expect; it is bumped to expect+1.
func updateDoc(ctx context.Context, tx pgx.Tx, t docTable, id string, expect int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.entity, err)
	}
	var tag pgconn.CommandTag
	if t.versioned {
		tag, err = tx.Exec(ctx,
			"UPDATE "+t.name+" SET body = $1, version = version + 1, updated_at = NOW() WHERE id = $2 AND version = $3",
			body, id, expect)
	} else {
		tag, err = tx.Exec(ctx,
			"UPDATE "+t.name+" SET body = $1, updated_at = NOW() WHERE id = $2",
			body, id)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getDoc[json.RawMessage](ctx, tx, t, id); err != nil {
			return err
		}
		return domain.Detail("update "+t.entity, domain.ErrVersionConflict, "%s %q", t.entity, id)
	}
	return nil
}

func deleteDoc(ctx context.Context, tx pgx.Tx, t docTable, id string) error {
	tag, err := tx.Exec(ctx, "DELETE FROM "+t.name+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("delete "+t.entity, t.entity, id)
	}
	return nil
}
