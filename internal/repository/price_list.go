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

const priceListColumns = `id, kind, stable_id, item_id, instructor_id, participant_id,
	price, currency, is_active, version, created_at, updated_at, deleted_at`

type PriceListRepository struct {
	db *sql.DB
}

func NewPriceListRepository(db *sql.DB) *PriceListRepository {
	return &PriceListRepository{db: db}
}

func (r *PriceListRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.PriceListEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO price_lists (
			id, kind, stable_id, item_id, instructor_id, participant_id,
			price, currency, is_active, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Key.Kind, e.Key.StableID, e.Key.ItemID, e.Key.InstructorID, e.Key.ParticipantID,
		e.Price, e.Currency, e.IsActive, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrPriceListExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PriceListRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PriceListEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+priceListColumns+` FROM price_lists WHERE id = $1 AND deleted_at IS NULL`, id,
	)
	e, err := scanPriceList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

func (r *PriceListRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PriceListEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+priceListColumns+` FROM price_lists
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id,
	)
	e, err := scanPriceList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return e, nil
}

// FindIndividual looks up the live individual row for the full key. The
// active flag is not consulted: a negotiated price stays in force until the
// row is deleted.
func (r *PriceListRepository) FindIndividual(ctx context.Context, key domain.PriceKey) (*domain.PriceListEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+priceListColumns+` FROM price_lists
		WHERE kind = $1 AND stable_id = $2 AND item_id = $3
			AND instructor_id IS NOT DISTINCT FROM $4
			AND participant_id = $5
			AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1`,
		key.Kind, key.StableID, key.ItemID, key.InstructorID, key.ParticipantID,
	)
	e, err := scanPriceList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindIndividual: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindIndividual: %w", err)
	}
	return e, nil
}

func (r *PriceListRepository) FindActiveStandard(ctx context.Context, kind domain.ItemKind, stableID, itemID uuid.UUID) (*domain.PriceListEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+priceListColumns+` FROM price_lists
		WHERE kind = $1 AND stable_id = $2 AND item_id = $3
			AND participant_id IS NULL
			AND is_active AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1`,
		kind, stableID, itemID,
	)
	e, err := scanPriceList(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindActiveStandard: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindActiveStandard: %w", err)
	}
	return e, nil
}

func (r *PriceListRepository) ListByStable(ctx context.Context, stableID uuid.UUID) ([]domain.PriceListEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+priceListColumns+` FROM price_lists
		WHERE stable_id = $1 AND deleted_at IS NULL
		ORDER BY kind, item_id, participant_id NULLS FIRST, created_at`, stableID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByStable: %w", err)
	}
	defer rows.Close()

	var entries []domain.PriceListEntry
	for rows.Next() {
		e, err := scanPriceList(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByStable: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByStable: rows: %w", err)
	}
	return entries, nil
}

// Update persists price, currency and the active flag. e.Version must
// already hold the new version; the row is matched on e.Version-1.
func (r *PriceListRepository) Update(ctx context.Context, tx *sql.Tx, e *domain.PriceListEntry) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE price_lists SET price = $1, currency = $2, is_active = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7 AND deleted_at IS NULL`,
		e.Price, e.Currency, e.IsActive, e.Version, e.UpdatedAt, e.ID, e.Version-1,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Update: %w", domain.ErrPriceListExists)
		}
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

func (r *PriceListRepository) SoftDelete(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE price_lists SET deleted_at = $1, updated_at = $1, version = version + 1
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

func scanPriceList(s scanner) (*domain.PriceListEntry, error) {
	var e domain.PriceListEntry
	err := s.Scan(
		&e.ID, &e.Key.Kind, &e.Key.StableID, &e.Key.ItemID, &e.Key.InstructorID, &e.Key.ParticipantID,
		&e.Price, &e.Currency, &e.IsActive, &e.Version, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
