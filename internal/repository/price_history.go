package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const priceHistoryColumns = `id, price_list_id, kind, stable_id, item_id, instructor_id, participant_id,
	price, currency, is_active, date_from, date_to, version, created_at, updated_at`

// keyPredicate matches every column of a PriceKey, treating NULL as a value.
const keyPredicate = `kind = $1 AND stable_id = $2 AND item_id = $3
	AND instructor_id IS NOT DISTINCT FROM $4
	AND participant_id IS NOT DISTINCT FROM $5`

type PriceHistoryRepository struct {
	db *sql.DB
}

func NewPriceHistoryRepository(db *sql.DB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

func keyArgs(k domain.PriceKey) []any {
	return []any{k.Kind, k.StableID, k.ItemID, k.InstructorID, k.ParticipantID}
}

func (r *PriceHistoryRepository) Create(ctx context.Context, tx *sql.Tx, h *domain.PriceHistoryEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_list_history (
			id, price_list_id, kind, stable_id, item_id, instructor_id, participant_id,
			price, currency, is_active, date_from, date_to, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		h.ID, h.PriceListID, h.Key.Kind, h.Key.StableID, h.Key.ItemID, h.Key.InstructorID, h.Key.ParticipantID,
		h.Price, h.Currency, h.IsActive, dateParam(h.DateFrom), nullableDateParam(h.DateTo),
		h.Version, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrHistoryOpen)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetOpenForUpdate locks the open interval of a key. Returns ErrNotFound when
// the key has no open interval.
func (r *PriceHistoryRepository) GetOpenForUpdate(ctx context.Context, tx *sql.Tx, key domain.PriceKey) (*domain.PriceHistoryEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+priceHistoryColumns+` FROM price_list_history
		WHERE `+keyPredicate+` AND date_to IS NULL AND deleted_at IS NULL
		FOR UPDATE`,
		keyArgs(key)...,
	)
	h, err := scanPriceHistory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetOpenForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetOpenForUpdate: %w", err)
	}
	return h, nil
}

// Close sets date_to on an open interval. h.Version must already hold the
// new version.
func (r *PriceHistoryRepository) Close(ctx context.Context, tx *sql.Tx, h *domain.PriceHistoryEntry) error {
	if h.DateTo == nil {
		return fmt.Errorf("Close: missing date_to")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE price_list_history SET date_to = $1, version = $2, updated_at = $3
		WHERE id = $4 AND version = $5 AND date_to IS NULL`,
		dateParam(*h.DateTo), h.Version, h.UpdatedAt, h.ID, h.Version-1,
	)
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}

	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("Close: rows affected: %w", err)
	}
	if !ok {
		return fmt.Errorf("Close: %w", domain.ErrVersionConflict)
	}
	return nil
}

// ListByKey returns every interval of a key, newest first. Intervals that
// start on the same day are ordered by insertion, latest first.
func (r *PriceHistoryRepository) ListByKey(ctx context.Context, key domain.PriceKey) ([]domain.PriceHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+priceHistoryColumns+` FROM price_list_history
		WHERE `+keyPredicate+` AND deleted_at IS NULL
		ORDER BY date_from DESC, created_at DESC`,
		keyArgs(key)...,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByKey: %w", err)
	}
	defer rows.Close()

	var entries []domain.PriceHistoryEntry
	for rows.Next() {
		h, err := scanPriceHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByKey: scan: %w", err)
		}
		entries = append(entries, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByKey: rows: %w", err)
	}
	return entries, nil
}

func scanPriceHistory(s scanner) (*domain.PriceHistoryEntry, error) {
	var h domain.PriceHistoryEntry
	var dateFrom time.Time
	var dateTo sql.NullTime
	err := s.Scan(
		&h.ID, &h.PriceListID, &h.Key.Kind, &h.Key.StableID, &h.Key.ItemID, &h.Key.InstructorID, &h.Key.ParticipantID,
		&h.Price, &h.Currency, &h.IsActive, &dateFrom, &dateTo, &h.Version, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.DateFrom = toDate(dateFrom)
	if dateTo.Valid {
		d := toDate(dateTo.Time)
		h.DateTo = &d
	}
	return &h, nil
}

// toDate normalises a scanned DATE to midnight UTC.
func toDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
