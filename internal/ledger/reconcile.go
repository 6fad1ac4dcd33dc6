package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
)

const reconcileConcurrency = 4

type totalsSource interface {
	ListTotals(ctx context.Context) ([]repository.BalanceTotals, error)
}

type corrector interface {
	Correct(ctx context.Context, contactPersonID uuid.UUID, pending PendingChecker) (*Correction, error)
}

type Discrepancy struct {
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Expected        decimal.Decimal `json:"expected"`
	Actual          decimal.Decimal `json:"actual"`
	Difference      decimal.Decimal `json:"difference"`
	Pending         bool            `json:"pending"`
	Corrected       bool            `json:"corrected"`
}

type Report struct {
	Checked       int           `json:"checked"`
	Corrected     int           `json:"corrected"`
	Skipped       int           `json:"skipped"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Outstanding counts discrepancies that were neither corrected nor resolved
// by the queue before the locked re-check.
func (r *Report) Outstanding() int {
	n := 0
	for _, d := range r.Discrepancies {
		if !d.Corrected && !d.Difference.IsZero() {
			n++
		}
	}
	return n
}

// Reconciler compares each stored balance with the sum of the contact
// person's live payments. Corrections are applied as ordinary deltas so the
// audit trail stays additive.
type Reconciler struct {
	totals  totalsSource
	pending PendingChecker
	ledger  corrector
	logger  *slog.Logger
}

func NewReconciler(totals totalsSource, pending PendingChecker, ledger corrector, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		totals:  totals,
		pending: pending,
		ledger:  ledger,
		logger:  logging.Component(logger, "reconciler"),
	}
}

// Run reports every mismatch found in a snapshot of all totals. With apply
// set, each mismatch is re-checked under the balance row lock and corrected
// only if it still holds and no delta is queued for the contact person.
func (r *Reconciler) Run(ctx context.Context, apply bool) (*Report, error) {
	rows, err := r.totals.ListTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	report := &Report{Checked: len(rows)}
	for _, row := range rows {
		if row.PaymentsTotal.Equal(row.Balance) {
			continue
		}
		d := Discrepancy{
			ContactPersonID: row.ContactPersonID,
			Expected:        row.PaymentsTotal,
			Actual:          row.Balance,
			Difference:      row.PaymentsTotal.Sub(row.Balance),
		}
		if !apply {
			d.Pending, err = r.pending.HasPending(ctx, row.ContactPersonID)
			if err != nil {
				return nil, fmt.Errorf("Run: %w", err)
			}
		}
		report.Discrepancies = append(report.Discrepancies, d)
	}

	if apply {
		if err := r.correct(ctx, report); err != nil {
			return report, fmt.Errorf("Run: %w", err)
		}
	}

	for _, d := range report.Discrepancies {
		r.logger.Warn("balance discrepancy",
			"contact_person_id", d.ContactPersonID,
			"expected", d.Expected.String(),
			"actual", d.Actual.String(),
			"pending", d.Pending,
			"corrected", d.Corrected,
		)
	}
	r.logger.Info("reconciliation finished",
		"checked", report.Checked,
		"discrepancies", len(report.Discrepancies),
		"corrected", report.Corrected,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (r *Reconciler) correct(ctx context.Context, report *Report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)

	var mu sync.Mutex
	for i := range report.Discrepancies {
		d := &report.Discrepancies[i]
		g.Go(func() error {
			c, err := r.ledger.Correct(gctx, d.ContactPersonID, r.pending)
			if err != nil {
				return fmt.Errorf("correct %s: %w", d.ContactPersonID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			d.Expected = c.Expected
			d.Actual = c.Actual
			d.Difference = c.Expected.Sub(c.Actual)
			d.Pending = c.Pending
			d.Corrected = c.Applied
			switch {
			case c.Applied:
				report.Corrected++
			case c.Pending:
				report.Skipped++
			}
			return nil
		})
	}
	return g.Wait()
}
