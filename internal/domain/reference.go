package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReferenceKind names the simple CRUD entities the billing core depends on.
// Their full lifecycle is owned by the CRUD services; here they are read only.
type ReferenceKind string

const (
	ReferenceStable        ReferenceKind = "stable"
	ReferenceActivity      ReferenceKind = "activity"
	ReferenceService       ReferenceKind = "service"
	ReferenceInstructor    ReferenceKind = "instructor"
	ReferenceParticipant   ReferenceKind = "participant"
	ReferenceContactPerson ReferenceKind = "contact_person"
)

type Reference struct {
	ID        uuid.UUID
	Kind      ReferenceKind
	Name      string
	IsActive  bool
	DeletedAt *time.Time
}

func (r *Reference) Usable() bool {
	return r.IsActive && r.DeletedAt == nil
}
