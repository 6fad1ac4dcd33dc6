package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

type jobStore interface {
	Insert(ctx context.Context, job *domain.DeltaJob) error
	InsertTx(ctx context.Context, tx *sql.Tx, job *domain.DeltaJob) error
	Claim(ctx context.Context, limit int, lockFor time.Duration) ([]domain.DeltaJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, availableAt time.Time, cause string) error
	Bury(ctx context.Context, id uuid.UUID, cause string) error
	ListDead(ctx context.Context, limit int) ([]domain.DeltaJob, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	HasOpen(ctx context.Context, contactPersonID uuid.UUID) (bool, error)
}

// PostgresQueue keeps jobs in balance_delta_jobs. Only the oldest open job
// of each contact person is claimable, which preserves per-key order across
// any number of dispatcher processes. A claim that is not acknowledged
// within the visibility timeout becomes claimable again.
type PostgresQueue struct {
	store      jobStore
	visibility time.Duration
	now        func() time.Time
}

func NewPostgresQueue(store jobStore, visibility time.Duration) *PostgresQueue {
	if visibility <= 0 {
		visibility = time.Minute
	}
	return &PostgresQueue{store: store, visibility: visibility, now: time.Now}
}

// WithClock replaces the clock that stamps enqueued jobs.
func (q *PostgresQueue) WithClock(now func() time.Time) *PostgresQueue {
	q.now = now
	return q
}

func (q *PostgresQueue) Enqueue(ctx context.Context, delta domain.BalanceDelta) (*domain.DeltaJob, error) {
	job := newJob(delta, q.now().UTC())
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("Enqueue: %w: %w", domain.ErrQueueDispatch, err)
	}
	return job, nil
}

func (q *PostgresQueue) EnqueueTx(ctx context.Context, tx *sql.Tx, delta domain.BalanceDelta) (*domain.DeltaJob, error) {
	job := newJob(delta, q.now().UTC())
	if err := q.store.InsertTx(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("EnqueueTx: %w: %w", domain.ErrQueueDispatch, err)
	}
	return job, nil
}

func (q *PostgresQueue) Claim(ctx context.Context, limit int) ([]domain.DeltaJob, error) {
	jobs, err := q.store.Claim(ctx, limit, q.visibility)
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return jobs, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, job *domain.DeltaJob) error {
	if err := q.store.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Retry(ctx context.Context, job *domain.DeltaJob, availableAt time.Time, cause error) error {
	if err := q.store.Retry(ctx, job.ID, availableAt, errString(cause)); err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Bury(ctx context.Context, job *domain.DeltaJob, cause error) error {
	if err := q.store.Bury(ctx, job.ID, errString(cause)); err != nil {
		return fmt.Errorf("Bury: %w", err)
	}
	return nil
}

func (q *PostgresQueue) DeadLetters(ctx context.Context, limit int) ([]domain.DeltaJob, error) {
	jobs, err := q.store.ListDead(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("DeadLetters: %w", err)
	}
	return jobs, nil
}

func (q *PostgresQueue) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Requeue(ctx, id); err != nil {
		return fmt.Errorf("Requeue: %w", err)
	}
	return nil
}

func (q *PostgresQueue) HasPending(ctx context.Context, contactPersonID uuid.UUID) (bool, error) {
	ok, err := q.store.HasOpen(ctx, contactPersonID)
	if err != nil {
		return false, fmt.Errorf("HasPending: %w", err)
	}
	return ok, nil
}
