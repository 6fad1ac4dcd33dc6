package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleEntry is an activity lesson or a service booking at a stable.
// Activities carry a duration in minutes; services carry a free-text label
// such as "day" or "month".
type ScheduleEntry struct {
	ID              uuid.UUID
	Kind            ItemKind
	StableID        uuid.UUID
	ItemID          uuid.UUID
	InstructorID    *uuid.UUID
	Date            time.Time
	Time            *string
	DurationMinutes int
	DurationLabel   string
	IsActive        bool
	ParticipantIDs  []uuid.UUID
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *ScheduleEntry) HasParticipant(id uuid.UUID) bool {
	for _, p := range e.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}
