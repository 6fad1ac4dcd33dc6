// Package billing prices a stable's schedule over a date range and exports
// the result as CSV.
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
)

type scheduleSource interface {
	ListByStableAndRange(ctx context.Context, stableID uuid.UUID, from, to time.Time) ([]domain.ScheduleEntry, error)
}

type priceResolver interface {
	Resolve(ctx context.Context, entry *domain.ScheduleEntry, participantID uuid.UUID) (*pricing.Resolution, error)
}

type nameLookup interface {
	Names(ctx context.Context, kind domain.ReferenceKind, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// Line is one billed (schedule entry, participant) pair.
type Line struct {
	ScheduleEntryID uuid.UUID
	ParticipantID   uuid.UUID
	Date            time.Time
	Time            string
	Kind            domain.ItemKind
	Item            string
	Instructor      string
	Participant     string
	Duration        string
	UnitPrice       decimal.Decimal
	Total           decimal.Decimal
	Currency        domain.Currency
	Source          pricing.Source
}

type Statement struct {
	StableID uuid.UUID
	From     time.Time
	To       time.Time
	Lines    []Line
	// Totals sums line totals per currency.
	Totals map[domain.Currency]decimal.Decimal
	// Unpriced counts lines with no configured price.
	Unpriced int
}

type Builder struct {
	schedule scheduleSource
	resolver priceResolver
	names    nameLookup
}

func NewBuilder(schedule scheduleSource, resolver priceResolver, names nameLookup) *Builder {
	return &Builder{schedule: schedule, resolver: resolver, names: names}
}

// Build resolves the price of every participant of every active entry of
// the stable dated within [from, to].
func (b *Builder) Build(ctx context.Context, stableID uuid.UUID, from, to time.Time) (*Statement, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("Build: date range: %w", domain.ErrInvalidRequest)
	}

	entries, err := b.schedule.ListByStableAndRange(ctx, stableID, from, to)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	names, err := b.lookupNames(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	st := &Statement{
		StableID: stableID,
		From:     from,
		To:       to,
		Totals:   map[domain.Currency]decimal.Decimal{},
	}
	for i := range entries {
		e := &entries[i]
		if !e.IsActive {
			continue
		}
		for _, pid := range e.ParticipantIDs {
			res, err := b.resolver.Resolve(ctx, e, pid)
			if err != nil {
				return nil, fmt.Errorf("Build: entry %s: %w", e.ID, err)
			}
			line := Line{
				ScheduleEntryID: e.ID,
				ParticipantID:   pid,
				Date:            e.Date,
				Kind:            e.Kind,
				Item:            names[e.Kind.ReferenceKind()][e.ItemID],
				Participant:     names[domain.ReferenceParticipant][pid],
				Duration:        durationText(e),
				UnitPrice:       res.UnitPrice,
				Total:           res.Total,
				Currency:        res.Currency,
				Source:          res.Source,
			}
			if e.Time != nil {
				line.Time = *e.Time
			}
			if e.InstructorID != nil {
				line.Instructor = names[domain.ReferenceInstructor][*e.InstructorID]
			}
			if res.Source == pricing.SourceNone {
				st.Unpriced++
			}
			st.Lines = append(st.Lines, line)
			st.Totals[line.Currency] = st.Totals[line.Currency].Add(line.Total)
		}
	}

	sort.SliceStable(st.Lines, func(i, j int) bool {
		a, b := st.Lines[i], st.Lines[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Time < b.Time
	})
	return st, nil
}

func (b *Builder) lookupNames(ctx context.Context, entries []domain.ScheduleEntry) (map[domain.ReferenceKind]map[uuid.UUID]string, error) {
	ids := map[domain.ReferenceKind][]uuid.UUID{}
	for _, e := range entries {
		ids[e.Kind.ReferenceKind()] = append(ids[e.Kind.ReferenceKind()], e.ItemID)
		if e.InstructorID != nil {
			ids[domain.ReferenceInstructor] = append(ids[domain.ReferenceInstructor], *e.InstructorID)
		}
		ids[domain.ReferenceParticipant] = append(ids[domain.ReferenceParticipant], e.ParticipantIDs...)
	}

	out := make(map[domain.ReferenceKind]map[uuid.UUID]string, len(ids))
	for kind, list := range ids {
		m, err := b.names.Names(ctx, kind, list)
		if err != nil {
			return nil, err
		}
		out[kind] = m
	}
	return out, nil
}

func durationText(e *domain.ScheduleEntry) string {
	if e.Kind == domain.ItemKindService {
		return e.DurationLabel
	}
	return fmt.Sprintf("%d min", e.DurationMinutes)
}
