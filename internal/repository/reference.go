package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

var referenceTables = map[domain.ReferenceKind]string{
	domain.ReferenceStable:        "stables",
	domain.ReferenceActivity:      "activities",
	domain.ReferenceService:       "services",
	domain.ReferenceInstructor:    "instructors",
	domain.ReferenceParticipant:   "participants",
	domain.ReferenceContactPerson: "contact_persons",
}

// ReferenceRepository reads the simple CRUD entities that prices, schedule
// entries and payments point at.
type ReferenceRepository struct {
	db *sql.DB
}

func NewReferenceRepository(db *sql.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

func (r *ReferenceRepository) Get(ctx context.Context, kind domain.ReferenceKind, id uuid.UUID) (*domain.Reference, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return nil, fmt.Errorf("Get: unknown reference kind %q", kind)
	}

	ref := domain.Reference{Kind: kind}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, is_active, deleted_at FROM `+table+` WHERE id = $1`, id,
	).Scan(&ref.ID, &ref.Name, &ref.IsActive, &ref.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %s %s: %w", kind, id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &ref, nil
}

// RequireUsable distinguishes a missing row (ErrNotFound) from one that
// exists but is inactive or soft-deleted (ErrInvalidReference).
func (r *ReferenceRepository) RequireUsable(ctx context.Context, kind domain.ReferenceKind, id uuid.UUID) (*domain.Reference, error) {
	ref, err := r.Get(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("RequireUsable: %w", err)
	}
	if !ref.Usable() {
		return nil, fmt.Errorf("RequireUsable: %s %s: %w", kind, id, domain.ErrInvalidReference)
	}
	return ref, nil
}

// Names returns display names for a set of ids of one kind. Missing ids are
// simply absent from the map.
func (r *ReferenceRepository) Names(ctx context.Context, kind domain.ReferenceKind, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return nil, fmt.Errorf("Names: unknown reference kind %q", kind)
	}
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM `+table+` WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)),
	)
	if err != nil {
		return nil, fmt.Errorf("Names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("Names: scan: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Names: rows: %w", err)
	}
	return names, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
