package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

type balanceReader interface {
	GetBalance(ctx context.Context, contactPersonID uuid.UUID) (*domain.Balance, error)
}

type pendingChecker interface {
	HasPending(ctx context.Context, contactPersonID uuid.UUID) (bool, error)
}

type BalanceHandler struct {
	balances balanceReader
	pending  pendingChecker
}

func NewBalanceHandler(balances balanceReader, pending pendingChecker) *BalanceHandler {
	return &BalanceHandler{balances: balances, pending: pending}
}

// balanceDTO reports a nil balance when nothing was ever applied. Pending
// tells the caller that queued deltas have not reached the balance yet.
type balanceDTO struct {
	ContactPersonID uuid.UUID        `json:"contact_person_id"`
	Balance         *decimal.Decimal `json:"balance"`
	Version         int64            `json:"version"`
	UpdatedAt       *time.Time       `json:"updated_at"`
	Pending         bool             `json:"pending"`
}

func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	cp, ok := pathID(w, r)
	if !ok {
		return
	}

	b, err := h.balances.GetBalance(r.Context(), cp)
	if err != nil {
		log.Error("balance lookup failed", "error", err, "contact_person_id", cp)
		RespondDomainError(w, err)
		return
	}

	pending, err := h.pending.HasPending(r.Context(), cp)
	if err != nil {
		log.Warn("pending delta check failed", "error", err, "contact_person_id", cp)
	}

	dto := balanceDTO{ContactPersonID: cp, Pending: pending}
	if b != nil {
		dto.Balance = &b.Balance
		dto.Version = b.Version
		dto.UpdatedAt = &b.UpdatedAt
	}
	RespondSuccess(w, http.StatusOK, dto)
}
