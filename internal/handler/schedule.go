package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
)

type scheduleReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleEntry, error)
}

type priceResolver interface {
	Resolve(ctx context.Context, entry *domain.ScheduleEntry, participantID uuid.UUID) (*pricing.Resolution, error)
}

type ScheduleHandler struct {
	entries  scheduleReader
	resolver priceResolver
}

func NewScheduleHandler(entries scheduleReader, resolver priceResolver) *ScheduleHandler {
	return &ScheduleHandler{entries: entries, resolver: resolver}
}

type resolutionDTO struct {
	ScheduleEntryID uuid.UUID       `json:"schedule_entry_id"`
	ParticipantID   uuid.UUID       `json:"participant_id"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Source          string          `json:"source"`
	FromHistory     bool            `json:"from_history"`
	PriceListID     *uuid.UUID      `json:"price_list_id,omitempty"`
	HistoryID       *uuid.UUID      `json:"history_id,omitempty"`
}

func (h *ScheduleHandler) Price(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	participantID, err := uuid.Parse(r.URL.Query().Get("participant_id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "participant_id", Message: "must be a UUID"}})
		return
	}

	entry, err := h.entries.GetByID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !entry.HasParticipant(participantID) {
		RespondValidationError(w, []FieldError{{Field: "participant_id", Message: "not a participant of this schedule entry"}})
		return
	}

	res, err := h.resolver.Resolve(r.Context(), entry, participantID)
	if err != nil {
		log.Error("price resolution failed", "error", err, "schedule_entry_id", id)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, resolutionDTO{
		ScheduleEntryID: entry.ID,
		ParticipantID:   participantID,
		UnitPrice:       res.UnitPrice,
		Total:           res.Total,
		Currency:        string(res.Currency),
		Source:          string(res.Source),
		FromHistory:     res.FromHistory,
		PriceListID:     res.PriceListID,
		HistoryID:       res.HistoryID,
	})
}
