package pricing

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

// A key's history moves through two states: no open interval, or exactly one
// open interval [dateFrom, nil). Every catalog event maps to at most one close
// and one open, applied together.
//
//	created:  none            -> Open(today)
//	changed:  Open(from)      -> Closed(from, today), Open(today)
//	deleted:  Open(from)      -> Closed(from, today)

type Event int

const (
	EventCreated Event = iota
	EventChanged
	EventDeleted
)

func (e Event) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Transition is the pair of writes that moves a key's history forward. Either
// side may be nil.
type Transition struct {
	Close *domain.PriceHistoryEntry
	Open  *domain.PriceHistoryEntry
}

func (t Transition) IsZero() bool {
	return t.Close == nil && t.Open == nil
}

// Plan computes the transition for an event. open is the key's current open
// interval, or nil. entry holds the post-event catalog state.
func Plan(ev Event, open *domain.PriceHistoryEntry, entry *domain.PriceListEntry, now time.Time) Transition {
	today := DateOf(now)
	var t Transition

	// A deleted row only closes the interval it opened itself.
	closes := open != nil && (ev != EventDeleted || open.PriceListID == entry.ID)
	if closes {
		closed := *open
		closed.DateTo = &today
		closed.Version = open.Version + 1
		closed.UpdatedAt = now
		t.Close = &closed
	}

	if ev == EventCreated || ev == EventChanged {
		t.Open = &domain.PriceHistoryEntry{
			ID:          uuid.New(),
			PriceListID: entry.ID,
			Key:         entry.Key,
			Price:       entry.Price,
			Currency:    entry.Currency,
			IsActive:    entry.IsActive,
			DateFrom:    today,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return t
}

// NeedsHistory reports whether an update touched a field that history tracks.
func NeedsHistory(before, after *domain.PriceListEntry) bool {
	return !before.Price.Equal(after.Price) || before.IsActive != after.IsActive
}

// Match scans intervals ordered newest first and returns the first whose
// [dateFrom, dateTo-or-now] range contains date. If intervals overlap, the
// first in order wins.
func Match(intervals []domain.PriceHistoryEntry, date, now time.Time) (*domain.PriceHistoryEntry, bool) {
	for i := range intervals {
		h := &intervals[i]
		end := now
		if h.DateTo != nil {
			end = *h.DateTo
		}
		if !date.Before(h.DateFrom) && !date.After(end) {
			return h, true
		}
	}
	return nil, false
}

// Coverage summarises how a key's intervals tile time.
type Coverage struct {
	Gaps     int
	Overlaps int
	Open     int
}

func (c Coverage) Contiguous() bool {
	return c.Gaps == 0 && c.Overlaps == 0 && c.Open <= 1
}

// CheckCoverage walks intervals oldest first and counts places where an
// interval does not start on the day its predecessor closed.
func CheckCoverage(intervals []domain.PriceHistoryEntry) Coverage {
	sorted := make([]domain.PriceHistoryEntry, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DateFrom.Equal(sorted[j].DateFrom) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].DateFrom.Before(sorted[j].DateFrom)
	})

	var c Coverage
	for i, h := range sorted {
		if h.IsOpen() {
			c.Open++
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.DateTo == nil {
			c.Overlaps++
			continue
		}
		switch {
		case h.DateFrom.After(*prev.DateTo):
			c.Gaps++
		case h.DateFrom.Before(*prev.DateTo):
			c.Overlaps++
		}
	}
	return c
}
