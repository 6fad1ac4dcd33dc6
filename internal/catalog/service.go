package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/pricing"
)

type referenceLookup interface {
	RequireUsable(ctx context.Context, kind domain.ReferenceKind, id uuid.UUID) (*domain.Reference, error)
}

type priceListRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.PriceListEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PriceListEntry, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.PriceListEntry, error)
	Update(ctx context.Context, tx *sql.Tx, e *domain.PriceListEntry) error
	SoftDelete(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, at time.Time) error
}

type historyRepo interface {
	Create(ctx context.Context, tx *sql.Tx, h *domain.PriceHistoryEntry) error
	GetOpenForUpdate(ctx context.Context, tx *sql.Tx, key domain.PriceKey) (*domain.PriceHistoryEntry, error)
	Close(ctx context.Context, tx *sql.Tx, h *domain.PriceHistoryEntry) error
	ListByKey(ctx context.Context, key domain.PriceKey) ([]domain.PriceHistoryEntry, error)
}

// Service owns writes to the price catalog. Every write that changes a
// tracked field moves the key's history in the same transaction.
type Service struct {
	db      *sql.DB
	refs    referenceLookup
	prices  priceListRepo
	history historyRepo
	clock   pricing.Clock
}

func NewService(db *sql.DB, refs referenceLookup, prices priceListRepo, history historyRepo, clock pricing.Clock) *Service {
	if clock == nil {
		clock = pricing.SystemClock{}
	}
	return &Service{db: db, refs: refs, prices: prices, history: history, clock: clock}
}

type CreateRequest struct {
	Key      domain.PriceKey
	Price    decimal.Decimal
	Currency domain.Currency
	IsActive bool
}

// UpdateRequest carries the expected version and the fields to change. A
// non-nil Key must equal the stored key.
type UpdateRequest struct {
	ID       uuid.UUID
	Version  int64
	Key      *domain.PriceKey
	Price    *decimal.Decimal
	Currency *domain.Currency
	IsActive *bool
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.PriceListEntry, error) {
	e, err := s.prices.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return e, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.PriceListEntry, error) {
	log := logging.FromContext(ctx)

	if req.Currency == "" {
		req.Currency = domain.DefaultCurrency
	}
	if err := validateKey(req.Key); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if err := validatePrice(req.Price, req.Currency); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if err := s.checkReferences(ctx, req.Key); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	now := s.clock.Now()
	entry := &domain.PriceListEntry{
		ID:        uuid.New(),
		Key:       req.Key,
		Price:     req.Price,
		Currency:  req.Currency,
		IsActive:  req.IsActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Create: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.prices.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if err := s.moveHistory(ctx, tx, pricing.EventCreated, entry, now); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Create: commit: %w", err)
	}

	log.Info("price list created",
		"price_list_id", entry.ID,
		"kind", entry.Key.Kind,
		"stable_id", entry.Key.StableID,
		"item_id", entry.Key.ItemID,
		"individual", entry.Key.IsIndividual(),
		"price", entry.Price.String(),
	)
	return entry, nil
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (*domain.PriceListEntry, error) {
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Update: begin tx: %w", err)
	}
	defer tx.Rollback()

	before, err := s.prices.GetForUpdate(ctx, tx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	if before.Version != req.Version {
		return nil, fmt.Errorf("Update: %w", domain.ErrVersionConflict)
	}
	if req.Key != nil && !req.Key.Equal(before.Key) {
		return nil, fmt.Errorf("Update: %w", domain.ErrImmutableKey)
	}

	after := *before
	if req.Price != nil {
		after.Price = *req.Price
	}
	if req.Currency != nil {
		after.Currency = *req.Currency
	}
	if req.IsActive != nil {
		after.IsActive = *req.IsActive
	}
	if err := validatePrice(after.Price, after.Currency); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	now := s.clock.Now()
	after.Version = before.Version + 1
	after.UpdatedAt = now

	if err := s.prices.Update(ctx, tx, &after); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	tracked := pricing.NeedsHistory(before, &after)
	if tracked {
		if err := s.moveHistory(ctx, tx, pricing.EventChanged, &after, now); err != nil {
			return nil, fmt.Errorf("Update: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Update: commit: %w", err)
	}

	log.Info("price list updated",
		"price_list_id", after.ID,
		"version", after.Version,
		"price", after.Price.String(),
		"is_active", after.IsActive,
		"history_moved", tracked,
	)
	return &after, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Delete: begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.prices.GetForUpdate(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if entry.Version != version {
		return fmt.Errorf("Delete: %w", domain.ErrVersionConflict)
	}

	now := s.clock.Now()
	if err := s.prices.SoftDelete(ctx, tx, id, version, now); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := s.moveHistory(ctx, tx, pricing.EventDeleted, entry, now); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Delete: commit: %w", err)
	}

	log.Info("price list deleted", "price_list_id", id)
	return nil
}

// History returns every interval of the row's key, newest first, with a
// coverage summary.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]domain.PriceHistoryEntry, pricing.Coverage, error) {
	entry, err := s.prices.GetByID(ctx, id)
	if err != nil {
		return nil, pricing.Coverage{}, fmt.Errorf("History: %w", err)
	}
	intervals, err := s.history.ListByKey(ctx, entry.Key)
	if err != nil {
		return nil, pricing.Coverage{}, fmt.Errorf("History: %w", err)
	}
	return intervals, pricing.CheckCoverage(intervals), nil
}

// moveHistory applies the close/open pair for an event inside tx.
func (s *Service) moveHistory(ctx context.Context, tx *sql.Tx, ev pricing.Event, entry *domain.PriceListEntry, now time.Time) error {
	open, err := s.history.GetOpenForUpdate(ctx, tx, entry.Key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("moveHistory: %w", err)
	}

	t := pricing.Plan(ev, open, entry, now)
	if t.Close != nil {
		if err := s.history.Close(ctx, tx, t.Close); err != nil {
			return fmt.Errorf("moveHistory: close: %w", err)
		}
	}
	if t.Open != nil {
		if err := s.history.Create(ctx, tx, t.Open); err != nil {
			return fmt.Errorf("moveHistory: open: %w", err)
		}
	}
	return nil
}

func (s *Service) checkReferences(ctx context.Context, key domain.PriceKey) error {
	checks := []struct {
		kind domain.ReferenceKind
		id   *uuid.UUID
	}{
		{domain.ReferenceStable, &key.StableID},
		{key.Kind.ReferenceKind(), &key.ItemID},
		{domain.ReferenceInstructor, key.InstructorID},
		{domain.ReferenceParticipant, key.ParticipantID},
	}
	for _, c := range checks {
		if c.id == nil {
			continue
		}
		if _, err := s.refs.RequireUsable(ctx, c.kind, *c.id); err != nil {
			return fmt.Errorf("checkReferences: %w", err)
		}
	}
	return nil
}

func validateKey(k domain.PriceKey) error {
	if !k.Kind.IsValid() {
		return fmt.Errorf("validateKey: kind %q: %w", k.Kind, domain.ErrInvalidRequest)
	}
	if k.StableID == uuid.Nil || k.ItemID == uuid.Nil {
		return fmt.Errorf("validateKey: stable and item are required: %w", domain.ErrInvalidRequest)
	}
	if k.InstructorID != nil && !k.IsIndividual() {
		return fmt.Errorf("validateKey: standard prices carry no instructor: %w", domain.ErrInvalidRequest)
	}
	if k.Kind == domain.ItemKindService && k.InstructorID != nil {
		return fmt.Errorf("validateKey: service prices carry no instructor: %w", domain.ErrInvalidRequest)
	}
	if k.Kind == domain.ItemKindActivity && k.IsIndividual() && k.InstructorID == nil {
		return fmt.Errorf("validateKey: individual activity prices need an instructor: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func validatePrice(price decimal.Decimal, currency domain.Currency) error {
	if price.IsNegative() {
		return fmt.Errorf("validatePrice: %w", domain.ErrInvalidPrice)
	}
	if !currency.IsValid() {
		return fmt.Errorf("validatePrice: %q: %w", currency, domain.ErrInvalidCurrency)
	}
	return nil
}
