package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/billing"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

type exporter interface {
	Export(ctx context.Context, stableID uuid.UUID, from, to time.Time) (*billing.Export, error)
}

type BillingHandler struct {
	exports exporter
}

func NewBillingHandler(exports exporter) *BillingHandler {
	return &BillingHandler{exports: exports}
}

type createExportRequest struct {
	StableID string `json:"stable_id" validate:"required,uuid"`
	From     string `json:"from" validate:"required,datetime=2006-01-02"`
	To       string `json:"to" validate:"required,datetime=2006-01-02"`
}

type exportDTO struct {
	Key       string                     `json:"key"`
	URL       string                     `json:"url"`
	ExpiresAt time.Time                  `json:"expires_at"`
	Lines     int                        `json:"lines"`
	Unpriced  int                        `json:"unpriced"`
	Totals    map[string]decimal.Decimal `json:"totals"`
}

func (h *BillingHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, to := mustDate(req.From), mustDate(req.To)
	if to.Before(from) {
		RespondValidationError(w, []FieldError{{Field: "to", Message: "must not be before from"}})
		return
	}

	exp, err := h.exports.Export(r.Context(), uuid.MustParse(req.StableID), from, to)
	if err != nil {
		log.Warn("billing export failed", "error", err, "stable_id", req.StableID)
		RespondDomainError(w, err)
		return
	}

	totals := make(map[string]decimal.Decimal, len(exp.Statement.Totals))
	for c, v := range exp.Statement.Totals {
		totals[string(c)] = v
	}
	RespondSuccess(w, http.StatusCreated, exportDTO{
		Key:       exp.Key,
		URL:       exp.URL,
		ExpiresAt: exp.ExpiresAt,
		Lines:     len(exp.Statement.Lines),
		Unpriced:  exp.Statement.Unpriced,
		Totals:    totals,
	})
}
