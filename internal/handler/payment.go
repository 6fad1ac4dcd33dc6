package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/auth"
	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/service/payment"
)

const dateLayout = "2006-01-02"

type paymentService interface {
	Create(ctx context.Context, req payment.CreateRequest) (*domain.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	Update(ctx context.Context, req payment.UpdateRequest) (*domain.Payment, error)
	Delete(ctx context.Context, id uuid.UUID, version int64, actor string) error
}

type PaymentHandler struct {
	payments paymentService
}

func NewPaymentHandler(payments paymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createPaymentRequest struct {
	StableID        string          `json:"stable_id" validate:"required,uuid"`
	ContactPersonID string          `json:"contact_person_id" validate:"required,uuid"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     string          `json:"payment_date" validate:"required,datetime=2006-01-02"`
}

type updatePaymentRequest struct {
	Version         int64            `json:"version" validate:"required,min=1"`
	StableID        *string          `json:"stable_id" validate:"omitempty,uuid"`
	ContactPersonID *string          `json:"contact_person_id" validate:"omitempty,uuid"`
	Amount          *decimal.Decimal `json:"amount"`
	PaymentDate     *string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

type paymentDTO struct {
	ID              uuid.UUID       `json:"id"`
	StableID        uuid.UUID       `json:"stable_id"`
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     string          `json:"payment_date"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:              p.ID,
		StableID:        p.StableID,
		ContactPersonID: p.ContactPersonID,
		Amount:          p.Amount,
		PaymentDate:     p.PaymentDate.Format(dateLayout),
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.payments.Create(r.Context(), payment.CreateRequest{
		StableID:        uuid.MustParse(req.StableID),
		ContactPersonID: uuid.MustParse(req.ContactPersonID),
		Amount:          req.Amount,
		PaymentDate:     mustDate(req.PaymentDate),
		Actor:           actor(r),
	})
	if err != nil {
		log.Warn("payment creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	RespondSuccess(w, http.StatusCreated, toPaymentDTO(p))
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := payment.UpdateRequest{ID: id, Version: req.Version, Amount: req.Amount, Actor: actor(r)}
	if req.StableID != nil {
		v := uuid.MustParse(*req.StableID)
		upd.StableID = &v
	}
	if req.ContactPersonID != nil {
		v := uuid.MustParse(*req.ContactPersonID)
		upd.ContactPersonID = &v
	}
	if req.PaymentDate != nil {
		v := mustDate(*req.PaymentDate)
		upd.PaymentDate = &v
	}

	p, err := h.payments.Update(r.Context(), upd)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment update failed", "error", err, "payment_id", id)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

func (h *PaymentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	version, ok := versionParam(w, r)
	if !ok {
		return
	}

	if err := h.payments.Delete(r.Context(), id, version, actor(r)); err != nil {
		logging.FromContext(r.Context()).Warn("payment delete failed", "error", err, "payment_id", id)
		RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return uuid.Nil, false
	}
	return id, true
}

func versionParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || v < 1 {
		RespondValidationError(w, []FieldError{{Field: "version", Message: "must be a positive integer"}})
		return 0, false
	}
	return v, true
}

// mustDate parses a date already checked by the validator.
func mustDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func actor(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return id.String()
	}
	return ""
}
