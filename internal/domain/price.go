package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Currency string

const DefaultCurrency Currency = "PLN"

// IsValid accepts any three-letter upper-case ISO 4217 style code. No
// conversion happens between currencies; the code is carried as a label.
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

type ItemKind string

const (
	ItemKindActivity ItemKind = "activity"
	ItemKindService  ItemKind = "service"
)

func (k ItemKind) IsValid() bool {
	return k == ItemKindActivity || k == ItemKindService
}

func (k ItemKind) ReferenceKind() ReferenceKind {
	if k == ItemKindService {
		return ReferenceService
	}
	return ReferenceActivity
}

// PriceKey identifies a catalog row. A nil ParticipantID marks a standard
// price; individual activity prices also carry the instructor.
type PriceKey struct {
	Kind          ItemKind
	StableID      uuid.UUID
	ItemID        uuid.UUID
	InstructorID  *uuid.UUID
	ParticipantID *uuid.UUID
}

func (k PriceKey) IsIndividual() bool {
	return k.ParticipantID != nil
}

func (k PriceKey) Standard() PriceKey {
	return PriceKey{Kind: k.Kind, StableID: k.StableID, ItemID: k.ItemID}
}

func (k PriceKey) Equal(o PriceKey) bool {
	return k.Kind == o.Kind &&
		k.StableID == o.StableID &&
		k.ItemID == o.ItemID &&
		uuidPtrEqual(k.InstructorID, o.InstructorID) &&
		uuidPtrEqual(k.ParticipantID, o.ParticipantID)
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type PriceListEntry struct {
	ID        uuid.UUID
	Key       PriceKey
	Price     decimal.Decimal
	Currency  Currency
	IsActive  bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// PriceHistoryEntry is one validity interval of a catalog key. DateTo is nil
// while the interval is open.
type PriceHistoryEntry struct {
	ID          uuid.UUID
	PriceListID uuid.UUID
	Key         PriceKey
	Price       decimal.Decimal
	Currency    Currency
	IsActive    bool
	DateFrom    time.Time
	DateTo      *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (h *PriceHistoryEntry) IsOpen() bool {
	return h.DateTo == nil
}
