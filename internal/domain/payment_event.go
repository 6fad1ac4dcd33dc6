package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentEventType string

const (
	PaymentEventTypeCreated PaymentEventType = "created"
	PaymentEventTypeUpdated PaymentEventType = "updated"
	PaymentEventTypeDeleted PaymentEventType = "deleted"
)

type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EventType PaymentEventType
	Actor     string
	Payload   json.RawMessage
	CreatedAt time.Time
}
