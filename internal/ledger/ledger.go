package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

type balanceRepo interface {
	EnsureExists(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID, now time.Time) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID) (*domain.Balance, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, newVersion int64, now time.Time) error
	GetByContactPerson(ctx context.Context, contactPersonID uuid.UUID) (*domain.Balance, error)
	PaymentsTotal(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID) (decimal.Decimal, error)
}

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.BalanceEntry) error
}

// Ledger holds one running balance per contact person. Balances only move by
// signed deltas; nothing here recomputes a balance from its sources.
type Ledger struct {
	db       *sql.DB
	balances balanceRepo
	entries  entryRepo
	now      func() time.Time
}

func New(db *sql.DB, balances balanceRepo, entries entryRepo) *Ledger {
	return &Ledger{db: db, balances: balances, entries: entries, now: time.Now}
}

// WithClock replaces the clock that stamps balances and audit entries.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// ApplyDelta adds value to the contact person's balance, creating the
// balance at zero first if needed. Applying the same delta twice moves the
// balance twice.
func (l *Ledger) ApplyDelta(ctx context.Context, contactPersonID uuid.UUID, value decimal.Decimal) (*domain.Balance, error) {
	b, err := l.apply(ctx, contactPersonID, value, nil)
	if err != nil {
		return nil, fmt.Errorf("ApplyDelta: %w", err)
	}
	return b, nil
}

// ApplyJob applies a queued delta and records the job on the audit entry.
func (l *Ledger) ApplyJob(ctx context.Context, job *domain.DeltaJob) (*domain.Balance, error) {
	id := job.ID
	b, err := l.apply(ctx, job.Delta.ContactPersonID, job.Delta.Value, &id)
	if err != nil {
		return nil, fmt.Errorf("ApplyJob: %w", err)
	}
	return b, nil
}

func (l *Ledger) apply(ctx context.Context, contactPersonID uuid.UUID, value decimal.Decimal, jobID *uuid.UUID) (*domain.Balance, error) {
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback()

	b, err := l.lock(ctx, tx, contactPersonID, now)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	if err := l.write(ctx, tx, b, value, jobID, now); err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("apply: commit: %w", err)
	}
	return b, nil
}

// lock creates the balance at zero if needed and takes its row lock, which
// serializes every writer of the contact person's balance.
func (l *Ledger) lock(ctx context.Context, tx *sql.Tx, contactPersonID uuid.UUID, now time.Time) (*domain.Balance, error) {
	if err := l.balances.EnsureExists(ctx, tx, contactPersonID, now); err != nil {
		return nil, err
	}
	return l.balances.GetForUpdate(ctx, tx, contactPersonID)
}

// write moves a locked balance by value and records the audit entry. b is
// updated in place.
func (l *Ledger) write(ctx context.Context, tx *sql.Tx, b *domain.Balance, value decimal.Decimal, jobID *uuid.UUID, now time.Time) error {
	before := b.Balance
	after := before.Add(value)
	if err := l.balances.UpdateBalance(ctx, tx, b.ID, after, b.Version+1, now); err != nil {
		return err
	}

	entry := &domain.BalanceEntry{
		ID:              uuid.New(),
		ContactPersonID: b.ContactPersonID,
		JobID:           jobID,
		Value:           value,
		BalanceBefore:   before,
		BalanceAfter:    after,
		CreatedAt:       now,
	}
	if err := l.entries.Create(ctx, tx, entry); err != nil {
		return err
	}

	logging.FromContext(ctx).Debug("balance delta applied",
		"contact_person_id", b.ContactPersonID,
		"value", value.String(),
		"balance_before", before.String(),
		"balance_after", after.String(),
	)

	b.Balance = after
	b.Version++
	b.UpdatedAt = now
	return nil
}

// PendingChecker reports whether a contact person still has deltas queued
// or in flight.
type PendingChecker interface {
	HasPending(ctx context.Context, contactPersonID uuid.UUID) (bool, error)
}

// Correction is the outcome of Correct. Expected and Actual are read under
// the balance row lock.
type Correction struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Pending  bool
	Applied  bool
}

// Correct re-reads the balance and the live payment sum while holding the
// balance row lock and, if they differ and no delta is queued for the
// contact person, writes the difference as an ordinary delta. The open-job
// check runs after both reads, so a job that was applied between an earlier
// snapshot and this call is already reflected in Actual.
func (l *Ledger) Correct(ctx context.Context, contactPersonID uuid.UUID, pending PendingChecker) (*Correction, error) {
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Correct: begin tx: %w", err)
	}
	defer tx.Rollback()

	b, err := l.lock(ctx, tx, contactPersonID, now)
	if err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}
	expected, err := l.balances.PaymentsTotal(ctx, tx, contactPersonID)
	if err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}

	c := &Correction{Expected: expected, Actual: b.Balance}
	if expected.Equal(b.Balance) {
		return c, nil
	}

	c.Pending, err = pending.HasPending(ctx, contactPersonID)
	if err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}
	if c.Pending {
		return c, nil
	}

	if err := l.write(ctx, tx, b, expected.Sub(b.Balance), nil, now); err != nil {
		return nil, fmt.Errorf("Correct: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Correct: commit: %w", err)
	}
	c.Applied = true
	return c, nil
}

// GetBalance returns nil without error when the contact person has never
// had a delta applied.
func (l *Ledger) GetBalance(ctx context.Context, contactPersonID uuid.UUID) (*domain.Balance, error) {
	b, err := l.balances.GetByContactPerson(ctx, contactPersonID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return b, nil
}
