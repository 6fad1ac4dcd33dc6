package billing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

const (
	csvContentType = "text/csv"
	dateLayout     = "2006-01-02"
)

var csvHeader = []string{
	"date", "time", "kind", "item", "instructor", "participant",
	"duration", "unit_price", "total", "currency", "source",
}

type objectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Export struct {
	Key       string
	URL       string
	ExpiresAt time.Time
	Statement *Statement
}

type Exporter struct {
	builder *Builder
	store   objectStore
	linkTTL time.Duration
	now     func() time.Time
}

// NewExporter returns an exporter; a nil store disables exports.
func NewExporter(builder *Builder, store objectStore, linkTTL time.Duration) *Exporter {
	if linkTTL <= 0 {
		linkTTL = time.Hour
	}
	return &Exporter{builder: builder, store: store, linkTTL: linkTTL, now: time.Now}
}

func (x *Exporter) Enabled() bool {
	return x.store != nil
}

func (x *Exporter) Export(ctx context.Context, stableID uuid.UUID, from, to time.Time) (*Export, error) {
	if !x.Enabled() {
		return nil, fmt.Errorf("Export: %w", domain.ErrExportDisabled)
	}

	st, err := x.builder.Build(ctx, stableID, from, to)
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	data, err := WriteCSV(st)
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	now := x.now().UTC()
	key := fmt.Sprintf("statements/%s/%s_%s_%s.csv",
		stableID, from.Format(dateLayout), to.Format(dateLayout), now.Format("20060102T150405Z"))
	if err := x.store.Upload(ctx, key, data, csvContentType); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	link, err := x.store.PresignedURL(ctx, key, x.linkTTL)
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	logging.FromContext(ctx).Info("billing statement exported",
		"stable_id", stableID,
		"from", from.Format(dateLayout),
		"to", to.Format(dateLayout),
		"lines", len(st.Lines),
		"unpriced", st.Unpriced,
		"object_key", key,
	)
	return &Export{Key: key, URL: link, ExpiresAt: now.Add(x.linkTTL), Statement: st}, nil
}

// WriteCSV renders a statement with a header row, one row per line.
func WriteCSV(st *Statement) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("WriteCSV: %w", err)
	}
	for _, l := range st.Lines {
		row := []string{
			l.Date.Format(dateLayout),
			l.Time,
			string(l.Kind),
			l.Item,
			l.Instructor,
			l.Participant,
			l.Duration,
			l.UnitPrice.StringFixed(2),
			l.Total.StringFixed(2),
			string(l.Currency),
			string(l.Source),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("WriteCSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("WriteCSV: %w", err)
	}
	return buf.Bytes(), nil
}
