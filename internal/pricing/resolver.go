package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

type Source string

const (
	SourceIndividual Source = "individual"
	SourceStandard   Source = "standard"
	// SourceNone means no price is configured. The price is zero and callers
	// must not treat it as a failure.
	SourceNone Source = "none"
)

var minutesPerHour = decimal.NewFromInt(60)

// Resolution explains a resolved price. Total is UnitPrice scaled by the
// entry duration for activities, and equal to UnitPrice for services.
type Resolution struct {
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	Currency    domain.Currency
	Source      Source
	FromHistory bool
	PriceListID *uuid.UUID
	HistoryID   *uuid.UUID
}

type priceListStore interface {
	FindIndividual(ctx context.Context, key domain.PriceKey) (*domain.PriceListEntry, error)
	FindActiveStandard(ctx context.Context, kind domain.ItemKind, stableID, itemID uuid.UUID) (*domain.PriceListEntry, error)
}

type historyStore interface {
	ListByKey(ctx context.Context, key domain.PriceKey) ([]domain.PriceHistoryEntry, error)
}

type Resolver struct {
	prices  priceListStore
	history historyStore
	clock   Clock
}

func NewResolver(prices priceListStore, history historyStore, clock Clock) *Resolver {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Resolver{prices: prices, history: history, clock: clock}
}

// ResolvePrice returns the amount owed by a participant for a schedule entry.
func (r *Resolver) ResolvePrice(ctx context.Context, entry *domain.ScheduleEntry, participantID uuid.UUID) (decimal.Decimal, error) {
	res, err := r.Resolve(ctx, entry, participantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ResolvePrice: %w", err)
	}
	return res.Total, nil
}

// Resolve picks the individual price for the participant when one exists,
// otherwise the active standard price. Entries dated before now are priced
// from the key's history.
func (r *Resolver) Resolve(ctx context.Context, entry *domain.ScheduleEntry, participantID uuid.UUID) (*Resolution, error) {
	now := r.clock.Now()
	isPast := entry.Date.Before(now)

	individual, err := r.prices.FindIndividual(ctx, IndividualKey(entry, participantID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Resolve: individual: %w", err)
	}
	if individual != nil {
		res, err := r.fromRow(ctx, individual, entry, isPast)
		if err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		res.Source = SourceIndividual
		return r.finish(res, entry), nil
	}

	standard, err := r.prices.FindActiveStandard(ctx, entry.Kind, entry.StableID, entry.ItemID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Resolve: standard: %w", err)
	}
	if standard != nil {
		res, err := r.fromRow(ctx, standard, entry, isPast)
		if err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		res.Source = SourceStandard
		return r.finish(res, entry), nil
	}

	logging.FromContext(ctx).Debug("no price configured",
		"schedule_entry_id", entry.ID,
		"participant_id", participantID,
		"kind", entry.Kind,
	)
	return r.finish(&Resolution{
		UnitPrice: decimal.Zero,
		Currency:  domain.DefaultCurrency,
		Source:    SourceNone,
	}, entry), nil
}

func (r *Resolver) fromRow(ctx context.Context, row *domain.PriceListEntry, entry *domain.ScheduleEntry, isPast bool) (*Resolution, error) {
	id := row.ID
	res := &Resolution{
		UnitPrice:   row.Price,
		Currency:    row.Currency,
		PriceListID: &id,
	}
	if !isPast {
		return res, nil
	}

	intervals, err := r.history.ListByKey(ctx, row.Key)
	if err != nil {
		return nil, fmt.Errorf("fromRow: history: %w", err)
	}
	h, ok := Match(intervals, entry.Date, r.clock.Now())
	if !ok {
		return res, nil
	}
	hid := h.ID
	res.UnitPrice = h.Price
	res.Currency = h.Currency
	res.FromHistory = true
	res.HistoryID = &hid
	return res, nil
}

func (r *Resolver) finish(res *Resolution, entry *domain.ScheduleEntry) *Resolution {
	res.Total = Total(res.UnitPrice, entry)
	return res
}

// Total scales an hourly activity price by the entry duration. Service
// durations are labels and leave the price unchanged.
func Total(unit decimal.Decimal, entry *domain.ScheduleEntry) decimal.Decimal {
	if entry.Kind != domain.ItemKindActivity {
		return unit
	}
	return unit.Mul(decimal.NewFromInt(int64(entry.DurationMinutes))).Div(minutesPerHour).Round(2)
}

// IndividualKey builds the individual catalog key for an entry. Activity
// prices are negotiated per instructor; service prices are not.
func IndividualKey(entry *domain.ScheduleEntry, participantID uuid.UUID) domain.PriceKey {
	pid := participantID
	key := domain.PriceKey{
		Kind:          entry.Kind,
		StableID:      entry.StableID,
		ItemID:        entry.ItemID,
		ParticipantID: &pid,
	}
	if entry.Kind == domain.ItemKindActivity && entry.InstructorID != nil {
		iid := *entry.InstructorID
		key.InstructorID = &iid
	}
	return key
}
