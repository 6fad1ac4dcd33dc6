// Package queue carries balance deltas from payment writes to the ledger.
// Delivery is at least once: a job is acknowledged only after its delta is
// applied, and a crash between apply and ack replays it.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

type Queue interface {
	Enqueue(ctx context.Context, delta domain.BalanceDelta) (*domain.DeltaJob, error)
	// Claim hands out up to limit jobs for processing, oldest first.
	Claim(ctx context.Context, limit int) ([]domain.DeltaJob, error)
	Complete(ctx context.Context, job *domain.DeltaJob) error
	// Retry returns a claimed job to the queue, not before availableAt.
	Retry(ctx context.Context, job *domain.DeltaJob, availableAt time.Time, cause error) error
	// Bury moves a claimed job to the dead-letter area.
	Bury(ctx context.Context, job *domain.DeltaJob, cause error) error
	DeadLetters(ctx context.Context, limit int) ([]domain.DeltaJob, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	// HasPending reports queued or in-flight jobs for a contact person.
	HasPending(ctx context.Context, contactPersonID uuid.UUID) (bool, error)
}

// TxEnqueuer is implemented by backends that can enqueue inside the caller's
// database transaction.
type TxEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, delta domain.BalanceDelta) (*domain.DeltaJob, error)
}

func newJob(delta domain.BalanceDelta, now time.Time) *domain.DeltaJob {
	return &domain.DeltaJob{
		ID:          uuid.New(),
		Delta:       delta,
		Status:      domain.DeltaJobStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
