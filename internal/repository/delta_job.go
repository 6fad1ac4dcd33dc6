package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

const deltaJobColumns = `id, contact_person_id, value, status, attempts, last_error,
	available_at, created_at, updated_at`

// DeltaJobRepository is the durable store behind the Postgres dispatch
// queue. Jobs of one contact person are handed out strictly in enqueue
// order: only the oldest open job of a key is ever claimable.
type DeltaJobRepository struct {
	db *sql.DB
}

func NewDeltaJobRepository(db *sql.DB) *DeltaJobRepository {
	return &DeltaJobRepository{db: db}
}

func (r *DeltaJobRepository) Insert(ctx context.Context, job *domain.DeltaJob) error {
	if err := insertDeltaJob(ctx, r.db, job); err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// InsertTx enqueues inside the caller's transaction, so the job becomes
// visible only if the write that produced the delta commits.
func (r *DeltaJobRepository) InsertTx(ctx context.Context, tx *sql.Tx, job *domain.DeltaJob) error {
	if err := insertDeltaJob(ctx, tx, job); err != nil {
		return fmt.Errorf("InsertTx: %w", err)
	}
	return nil
}

func insertDeltaJob(ctx context.Context, exec execer, job *domain.DeltaJob) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO balance_delta_jobs (
			id, contact_person_id, value, status, attempts, available_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, job.Delta.ContactPersonID, job.Delta.Value, domain.DeltaJobStatusPending,
		job.Attempts, job.AvailableAt, job.CreatedAt,
	)
	return err
}

// Claim moves up to limit head-of-key jobs to processing and returns them in
// enqueue order. A job is claimable when it is pending and due, or when a
// previous claim's lock expired without an ack.
func (r *DeltaJobRepository) Claim(ctx context.Context, limit int, lockFor time.Duration) ([]domain.DeltaJob, error) {
	// Eligibility must be tested on j: after waiting on a row lock Postgres
	// rechecks only the locked row, so a job another dispatcher just claimed
	// drops out instead of being claimed twice.
	rows, err := r.db.QueryContext(ctx,
		`WITH heads AS (
			SELECT DISTINCT ON (contact_person_id) id
			FROM balance_delta_jobs
			WHERE status IN ('pending', 'processing')
			ORDER BY contact_person_id, seq
		), claimable AS (
			SELECT j.id FROM balance_delta_jobs j
			JOIN heads h ON h.id = j.id
			WHERE (j.status = 'pending' AND j.available_at <= now())
				OR (j.status = 'processing' AND j.locked_until < now())
			ORDER BY j.seq
			LIMIT $1
			FOR UPDATE OF j SKIP LOCKED
		)
		UPDATE balance_delta_jobs SET status = 'processing',
			locked_until = now() + make_interval(secs => $2),
			updated_at = now()
		WHERE id IN (SELECT id FROM claimable)
		RETURNING seq, `+deltaJobColumns,
		limit, lockFor.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		seq int64
		job domain.DeltaJob
	}
	var out []claimed
	for rows.Next() {
		var c claimed
		if err := scanDeltaJobWithSeq(rows, &c.seq, &c.job); err != nil {
			return nil, fmt.Errorf("Claim: scan: %w", err)
		}
		c.job.Receipt = c.job.ID.String()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Claim: rows: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	jobs := make([]domain.DeltaJob, len(out))
	for i := range out {
		jobs[i] = out[i].job
	}
	return jobs, nil
}

func (r *DeltaJobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, "Complete",
		`UPDATE balance_delta_jobs SET status = 'completed', locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id)
}

func (r *DeltaJobRepository) Retry(ctx context.Context, id uuid.UUID, availableAt time.Time, cause string) error {
	return r.transition(ctx, "Retry",
		`UPDATE balance_delta_jobs SET status = 'pending', attempts = attempts + 1, last_error = $2,
			available_at = $3, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id, cause, availableAt)
}

func (r *DeltaJobRepository) Bury(ctx context.Context, id uuid.UUID, cause string) error {
	return r.transition(ctx, "Bury",
		`UPDATE balance_delta_jobs SET status = 'dead', attempts = attempts + 1, last_error = $2,
			locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id, cause)
}

// Requeue returns a dead job to the head of its key with a fresh attempt
// budget.
func (r *DeltaJobRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, "Requeue",
		`UPDATE balance_delta_jobs SET status = 'pending', attempts = 0, available_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'dead'`, id)
}

func (r *DeltaJobRepository) transition(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := rowsAffectedOne(res)
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *DeltaJobRepository) ListDead(ctx context.Context, limit int) ([]domain.DeltaJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deltaJobColumns+` FROM balance_delta_jobs
		WHERE status = 'dead' ORDER BY updated_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListDead: %w", err)
	}
	defer rows.Close()

	var jobs []domain.DeltaJob
	for rows.Next() {
		j, err := scanDeltaJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDead: scan: %w", err)
		}
		j.Receipt = j.ID.String()
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDead: rows: %w", err)
	}
	return jobs, nil
}

func (r *DeltaJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeltaJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deltaJobColumns+` FROM balance_delta_jobs WHERE id = $1`, id,
	)
	j, err := scanDeltaJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return j, nil
}

// HasOpen reports whether the contact person has jobs that are not yet
// applied or buried.
func (r *DeltaJobRepository) HasOpen(ctx context.Context, contactPersonID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM balance_delta_jobs
			WHERE contact_person_id = $1 AND status IN ('pending', 'processing')
		)`, contactPersonID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasOpen: %w", err)
	}
	return exists, nil
}

func scanDeltaJob(s scanner) (*domain.DeltaJob, error) {
	var j domain.DeltaJob
	err := s.Scan(
		&j.ID, &j.Delta.ContactPersonID, &j.Delta.Value, &j.Status, &j.Attempts, &j.LastError,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanDeltaJobWithSeq(s scanner, seq *int64, j *domain.DeltaJob) error {
	return s.Scan(
		seq, &j.ID, &j.Delta.ContactPersonID, &j.Delta.Value, &j.Status, &j.Attempts, &j.LastError,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt,
	)
}
