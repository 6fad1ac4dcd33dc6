package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const paymentColumns = `id, stable_id, contact_person_id, amount, payment_date,
	version, created_at, updated_at, deleted_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, stable_id, contact_person_id, amount, payment_date,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.StableID, p.ContactPersonID, p.Amount, dateParam(p.PaymentDate),
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND deleted_at IS NULL`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// GetForUpdate locks the payment row so the pre-image used for delta
// derivation cannot change before the overwrite commits.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) ListByContactPerson(ctx context.Context, contactPersonID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE contact_person_id = $1 AND deleted_at IS NULL
		ORDER BY payment_date DESC, created_at DESC`, contactPersonID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByContactPerson: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByContactPerson: scan: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByContactPerson: rows: %w", err)
	}
	return payments, nil
}

// Update overwrites the mutable fields. p.Version must already hold the new
// version; the row is matched on p.Version-1.
func (r *PaymentRepository) Update(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET stable_id = $1, contact_person_id = $2, amount = $3, payment_date = $4,
			version = $5, updated_at = $6
		WHERE id = $7 AND version = $8 AND deleted_at IS NULL`,
		p.StableID, p.ContactPersonID, p.Amount, dateParam(p.PaymentDate),
		p.Version, p.UpdatedAt, p.ID, p.Version-1,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if !ok {
		return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
	}
	return nil
}

func (r *PaymentRepository) SoftDelete(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET deleted_at = $1, updated_at = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND deleted_at IS NULL`,
		at, id, version,
	)
	if err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}

	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("SoftDelete: rows affected: %w", err)
	}
	if !ok {
		return fmt.Errorf("SoftDelete: %w", domain.ErrVersionConflict)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var paymentDate time.Time
	err := s.Scan(
		&p.ID, &p.StableID, &p.ContactPersonID, &p.Amount, &paymentDate,
		&p.Version, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentDate = toDate(paymentDate)
	return &p, nil
}
