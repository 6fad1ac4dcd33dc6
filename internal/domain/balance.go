package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Balance struct {
	ID              uuid.UUID
	ContactPersonID uuid.UUID
	Balance         decimal.Decimal
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BalanceEntry records one applied delta and the balance it moved.
type BalanceEntry struct {
	ID              uuid.UUID
	ContactPersonID uuid.UUID
	JobID           *uuid.UUID
	Value           decimal.Decimal
	BalanceBefore   decimal.Decimal
	BalanceAfter    decimal.Decimal
	CreatedAt       time.Time
}

// BalanceDelta is the unit of work carried by the dispatch queue.
type BalanceDelta struct {
	ContactPersonID uuid.UUID
	Value           decimal.Decimal
}

type DeltaJobStatus string

const (
	DeltaJobStatusPending    DeltaJobStatus = "pending"
	DeltaJobStatusProcessing DeltaJobStatus = "processing"
	DeltaJobStatusCompleted  DeltaJobStatus = "completed"
	DeltaJobStatusDead       DeltaJobStatus = "dead"
)

type DeltaJob struct {
	ID          uuid.UUID
	Delta       BalanceDelta
	Status      DeltaJobStatus
	Attempts    int
	LastError   *string
	AvailableAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Receipt is an opaque backend handle for acknowledging the claim.
	Receipt string
}
