package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/catalog"
	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
)

type catalogService interface {
	Create(ctx context.Context, req catalog.CreateRequest) (*domain.PriceListEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PriceListEntry, error)
	Update(ctx context.Context, req catalog.UpdateRequest) (*domain.PriceListEntry, error)
	Delete(ctx context.Context, id uuid.UUID, version int64) error
	History(ctx context.Context, id uuid.UUID) ([]domain.PriceHistoryEntry, pricing.Coverage, error)
}

type PriceListHandler struct {
	catalog catalogService
}

func NewPriceListHandler(c catalogService) *PriceListHandler {
	return &PriceListHandler{catalog: c}
}

type priceKeyDTO struct {
	Kind          string  `json:"kind" validate:"required,oneof=activity service"`
	StableID      string  `json:"stable_id" validate:"required,uuid"`
	ItemID        string  `json:"item_id" validate:"required,uuid"`
	InstructorID  *string `json:"instructor_id,omitempty" validate:"omitempty,uuid"`
	ParticipantID *string `json:"participant_id,omitempty" validate:"omitempty,uuid"`
}

func (k priceKeyDTO) toDomain() domain.PriceKey {
	key := domain.PriceKey{
		Kind:     domain.ItemKind(k.Kind),
		StableID: uuid.MustParse(k.StableID),
		ItemID:   uuid.MustParse(k.ItemID),
	}
	if k.InstructorID != nil {
		v := uuid.MustParse(*k.InstructorID)
		key.InstructorID = &v
	}
	if k.ParticipantID != nil {
		v := uuid.MustParse(*k.ParticipantID)
		key.ParticipantID = &v
	}
	return key
}

func keyDTO(k domain.PriceKey) priceKeyDTO {
	dto := priceKeyDTO{Kind: string(k.Kind), StableID: k.StableID.String(), ItemID: k.ItemID.String()}
	if k.InstructorID != nil {
		s := k.InstructorID.String()
		dto.InstructorID = &s
	}
	if k.ParticipantID != nil {
		s := k.ParticipantID.String()
		dto.ParticipantID = &s
	}
	return dto
}

type createPriceListRequest struct {
	Key      priceKeyDTO     `json:"key"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	IsActive *bool           `json:"is_active"`
}

type updatePriceListRequest struct {
	Version  int64            `json:"version" validate:"required,min=1"`
	Key      *priceKeyDTO     `json:"key"`
	Price    *decimal.Decimal `json:"price"`
	Currency *string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	IsActive *bool            `json:"is_active"`
}

type priceListDTO struct {
	ID         uuid.UUID       `json:"id"`
	Key        priceKeyDTO     `json:"key"`
	Individual bool            `json:"individual"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	IsActive   bool            `json:"is_active"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toPriceListDTO(e *domain.PriceListEntry) priceListDTO {
	return priceListDTO{
		ID:         e.ID,
		Key:        keyDTO(e.Key),
		Individual: e.Key.IsIndividual(),
		Price:      e.Price,
		Currency:   string(e.Currency),
		IsActive:   e.IsActive,
		Version:    e.Version,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

type historyIntervalDTO struct {
	ID          uuid.UUID       `json:"id"`
	PriceListID uuid.UUID       `json:"price_list_id"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	IsActive    bool            `json:"is_active"`
	DateFrom    string          `json:"date_from"`
	DateTo      *string         `json:"date_to"`
}

type historyDTO struct {
	Intervals  []historyIntervalDTO `json:"intervals"`
	Contiguous bool                 `json:"contiguous"`
	Gaps       int                  `json:"gaps"`
	Overlaps   int                  `json:"overlaps"`
}

func (h *PriceListHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createPriceListRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	e, err := h.catalog.Create(r.Context(), catalog.CreateRequest{
		Key:      req.Key.toDomain(),
		Price:    req.Price,
		Currency: domain.Currency(req.Currency),
		IsActive: isActive,
	})
	if err != nil {
		log.Warn("price list creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/price-lists/%s", e.ID))
	RespondSuccess(w, http.StatusCreated, toPriceListDTO(e))
}

func (h *PriceListHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPriceListDTO(e))
}

func (h *PriceListHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updatePriceListRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := catalog.UpdateRequest{ID: id, Version: req.Version, Price: req.Price, IsActive: req.IsActive}
	if req.Key != nil {
		k := req.Key.toDomain()
		upd.Key = &k
	}
	if req.Currency != nil {
		c := domain.Currency(*req.Currency)
		upd.Currency = &c
	}

	e, err := h.catalog.Update(r.Context(), upd)
	if err != nil {
		logging.FromContext(r.Context()).Warn("price list update failed", "error", err, "price_list_id", id)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPriceListDTO(e))
}

func (h *PriceListHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, ok := versionParam(w, r)
	if !ok {
		return
	}

	if err := h.catalog.Delete(r.Context(), id, version); err != nil {
		logging.FromContext(r.Context()).Warn("price list delete failed", "error", err, "price_list_id", id)
		RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PriceListHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	intervals, cov, err := h.catalog.History(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dto := historyDTO{
		Intervals:  make([]historyIntervalDTO, len(intervals)),
		Contiguous: cov.Contiguous(),
		Gaps:       cov.Gaps,
		Overlaps:   cov.Overlaps,
	}
	for i, iv := range intervals {
		d := historyIntervalDTO{
			ID:          iv.ID,
			PriceListID: iv.PriceListID,
			Price:       iv.Price,
			Currency:    string(iv.Currency),
			IsActive:    iv.IsActive,
			DateFrom:    iv.DateFrom.Format(dateLayout),
		}
		if iv.DateTo != nil {
			s := iv.DateTo.Format(dateLayout)
			d.DateTo = &s
		}
		dto.Intervals[i] = d
	}
	RespondSuccess(w, http.StatusOK, dto)
}
