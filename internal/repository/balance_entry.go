package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const balanceEntryColumns = `id, contact_person_id, job_id, value, balance_before, balance_after, created_at`

type BalanceEntryRepository struct {
	db *sql.DB
}

func NewBalanceEntryRepository(db *sql.DB) *BalanceEntryRepository {
	return &BalanceEntryRepository{db: db}
}

func (r *BalanceEntryRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.BalanceEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO balance_entries (
			id, contact_person_id, job_id, value, balance_before, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ContactPersonID, entry.JobID, entry.Value,
		entry.BalanceBefore, entry.BalanceAfter, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BalanceEntryRepository) ListByContactPerson(ctx context.Context, contactPersonID uuid.UUID, limit, offset int) ([]domain.BalanceEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balance_entries WHERE contact_person_id = $1`, contactPersonID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByContactPerson: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+balanceEntryColumns+` FROM balance_entries
		WHERE contact_person_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		contactPersonID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByContactPerson: %w", err)
	}
	defer rows.Close()

	var entries []domain.BalanceEntry
	for rows.Next() {
		e, err := scanBalanceEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListByContactPerson: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListByContactPerson: rows: %w", err)
	}
	return entries, total, nil
}

func scanBalanceEntry(s scanner) (*domain.BalanceEntry, error) {
	var e domain.BalanceEntry
	err := s.Scan(
		&e.ID, &e.ContactPersonID, &e.JobID, &e.Value,
		&e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
