package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID              uuid.UUID
	StableID        uuid.UUID
	ContactPersonID uuid.UUID
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}
