package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const scheduleEntryColumns = `id, kind, stable_id, item_id, instructor_id, entry_date, entry_time,
	duration_minutes, duration_label, is_active, version, created_at, updated_at`

type ScheduleEntryRepository struct {
	db *sql.DB
}

func NewScheduleEntryRepository(db *sql.DB) *ScheduleEntryRepository {
	return &ScheduleEntryRepository{db: db}
}

func (r *ScheduleEntryRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.ScheduleEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schedule_entries (
			id, kind, stable_id, item_id, instructor_id, entry_date, entry_time,
			duration_minutes, duration_label, is_active, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Kind, e.StableID, e.ItemID, e.InstructorID, dateParam(e.Date), e.Time,
		e.DurationMinutes, e.DurationLabel, e.IsActive, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	for _, pid := range e.ParticipantIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_entry_participants (schedule_entry_id, participant_id, created_at)
			VALUES ($1, $2, $3)`,
			e.ID, pid, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("Create: participant %s: %w", pid, err)
		}
	}
	return nil
}

func (r *ScheduleEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduleEntryColumns+` FROM schedule_entries WHERE id = $1 AND deleted_at IS NULL`, id,
	)
	e, err := scanScheduleEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}

	participants, err := r.participantsFor(ctx, []uuid.UUID{e.ID})
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	e.ParticipantIDs = participants[e.ID]
	return e, nil
}

// ListByStableAndRange returns the live entries of a stable dated within
// [from, to], both inclusive, with their participant sets.
func (r *ScheduleEntryRepository) ListByStableAndRange(ctx context.Context, stableID uuid.UUID, from, to time.Time) ([]domain.ScheduleEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleEntryColumns+` FROM schedule_entries
		WHERE stable_id = $1 AND entry_date BETWEEN $2 AND $3 AND deleted_at IS NULL
		ORDER BY entry_date, entry_time NULLS FIRST, created_at`,
		stableID, dateParam(from), dateParam(to),
	)
	if err != nil {
		return nil, fmt.Errorf("ListByStableAndRange: %w", err)
	}
	defer rows.Close()

	var entries []domain.ScheduleEntry
	var ids []uuid.UUID
	for rows.Next() {
		e, err := scanScheduleEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByStableAndRange: scan: %w", err)
		}
		entries = append(entries, *e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByStableAndRange: rows: %w", err)
	}

	participants, err := r.participantsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ListByStableAndRange: %w", err)
	}
	for i := range entries {
		entries[i].ParticipantIDs = participants[entries[i].ID]
	}
	return entries, nil
}

func (r *ScheduleEntryRepository) participantsFor(ctx context.Context, entryIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT schedule_entry_id, participant_id FROM schedule_entry_participants
		WHERE schedule_entry_id = ANY($1::uuid[])
		ORDER BY schedule_entry_id, created_at, participant_id`,
		pq.Array(uuidStrings(entryIDs)),
	)
	if err != nil {
		return nil, fmt.Errorf("participantsFor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entryID, participantID uuid.UUID
		if err := rows.Scan(&entryID, &participantID); err != nil {
			return nil, fmt.Errorf("participantsFor: scan: %w", err)
		}
		out[entryID] = append(out[entryID], participantID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participantsFor: rows: %w", err)
	}
	return out, nil
}

func scanScheduleEntry(s scanner) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	var date time.Time
	err := s.Scan(
		&e.ID, &e.Kind, &e.StableID, &e.ItemID, &e.InstructorID, &date, &e.Time,
		&e.DurationMinutes, &e.DurationLabel, &e.IsActive, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Date = toDate(date)
	return &e, nil
}
