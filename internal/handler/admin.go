package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/ledger"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

type deadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]domain.DeltaJob, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

type reconciler interface {
	Run(ctx context.Context, apply bool) (*ledger.Report, error)
}

type AdminHandler struct {
	queue      deadLetterQueue
	reconciler reconciler
}

func NewAdminHandler(q deadLetterQueue, r reconciler) *AdminHandler {
	return &AdminHandler{queue: q, reconciler: r}
}

type deadLetterDTO struct {
	ID              uuid.UUID       `json:"id"`
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Value           decimal.Decimal `json:"value"`
	Attempts        int             `json:"attempts"`
	LastError       *string         `json:"last_error"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 1000
)

func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDeadLetterLimit {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be between 1 and 1000"}})
			return
		}
		limit = n
	}

	jobs, err := h.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("dead letter listing failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	out := make([]deadLetterDTO, len(jobs))
	for i, j := range jobs {
		out[i] = deadLetterDTO{
			ID:              j.ID,
			ContactPersonID: j.Delta.ContactPersonID,
			Value:           j.Delta.Value,
			Attempts:        j.Attempts,
			LastError:       j.LastError,
			CreatedAt:       j.CreatedAt,
			UpdatedAt:       j.UpdatedAt,
		}
	}
	RespondSuccess(w, http.StatusOK, out)
}

func (h *AdminHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.queue.Requeue(r.Context(), id); err != nil {
		logging.FromContext(r.Context()).Warn("dead letter requeue failed", "error", err, "job_id", id)
		RespondDomainError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("dead letter requeued", "job_id", id)
	RespondSuccess(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": "pending"})
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))

	report, err := h.reconciler.Run(r.Context(), apply)
	if err != nil {
		logging.FromContext(r.Context()).Error("reconciliation failed", "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, report)
}
