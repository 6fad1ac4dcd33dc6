package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const balanceColumns = `id, contact_person_id, balance, version, created_at, updated_at`

// BalanceTotals pairs a contact person's stored balance with the sum of
// their live payments.
type BalanceTotals struct {
	ContactPersonID uuid.UUID
	PaymentsTotal   decimal.Decimal
	Balance         decimal.Decimal
	HasBalance      bool
}

type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// EnsureExists creates a zero balance for the contact person unless one is
// already there. Concurrent callers converge on the same row.
func (r *BalanceRepository) EnsureExists(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balances (id, contact_person_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 1, $3, $3)
		ON CONFLICT (contact_person_id) WHERE deleted_at IS NULL DO NOTHING`,
		uuid.New(), contactPersonID, now,
	)
	if err != nil {
		return fmt.Errorf("EnsureExists: %w", err)
	}
	return nil
}

func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID) (*domain.Balance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM balances
		WHERE contact_person_id = $1 AND deleted_at IS NULL FOR UPDATE`, contactPersonID,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) GetByContactPerson(ctx context.Context, contactPersonID uuid.UUID) (*domain.Balance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM balances
		WHERE contact_person_id = $1 AND deleted_at IS NULL`, contactPersonID,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByContactPerson: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByContactPerson: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE balances SET balance = $1, version = $2, updated_at = $3 WHERE id = $4 AND version = $5`,
		newBalance, newVersion, now, id, newVersion-1,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}

	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("UpdateBalance: rows affected: %w", err)
	}
	if !ok {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrVersionConflict)
	}
	return nil
}

// PaymentsTotal sums the contact person's live payments inside tx. Callers
// hold the balance row lock so the sum and the balance are read together.
func (r *BalanceRepository) PaymentsTotal(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE contact_person_id = $1 AND deleted_at IS NULL`,
		contactPersonID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("PaymentsTotal: %w", err)
	}
	return total, nil
}

// ListTotals joins live payment sums with stored balances. Contact persons
// that appear on only one side are included with zero on the other.
func (r *BalanceRepository) ListTotals(ctx context.Context) ([]BalanceTotals, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT COALESCE(p.contact_person_id, b.contact_person_id),
			COALESCE(p.total, 0), COALESCE(b.balance, 0), b.contact_person_id IS NOT NULL
		FROM (
			SELECT contact_person_id, SUM(amount) AS total FROM payments
			WHERE deleted_at IS NULL GROUP BY contact_person_id
		) p
		FULL OUTER JOIN (
			SELECT contact_person_id, balance FROM balances WHERE deleted_at IS NULL
		) b ON b.contact_person_id = p.contact_person_id
		ORDER BY 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListTotals: %w", err)
	}
	defer rows.Close()

	var out []BalanceTotals
	for rows.Next() {
		var t BalanceTotals
		if err := rows.Scan(&t.ContactPersonID, &t.PaymentsTotal, &t.Balance, &t.HasBalance); err != nil {
			return nil, fmt.Errorf("ListTotals: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTotals: rows: %w", err)
	}
	return out, nil
}

func scanBalance(s scanner) (*domain.Balance, error) {
	var b domain.Balance
	err := s.Scan(&b.ID, &b.ContactPersonID, &b.Balance, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
