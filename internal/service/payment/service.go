package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
)

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Payment, error)
	Update(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	SoftDelete(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, at time.Time) error
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) error
}

type referenceLookup interface {
	RequireUsable(ctx context.Context, kind domain.ReferenceKind, id uuid.UUID) (*domain.Reference, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, delta domain.BalanceDelta) (*domain.DeltaJob, error)
}

// Service is the payment producer: it persists payment rows and hands the
// resulting balance deltas to the dispatch queue. Balances themselves are
// only ever written by the ledger.
type Service struct {
	db       *sql.DB
	payments paymentRepo
	events   eventRepo
	refs     referenceLookup
	queue    enqueuer
	now      func() time.Time
}

func NewService(db *sql.DB, payments paymentRepo, events eventRepo, refs referenceLookup, q enqueuer) *Service {
	return &Service{
		db:       db,
		payments: payments,
		events:   events,
		refs:     refs,
		queue:    q,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	StableID        uuid.UUID
	ContactPersonID uuid.UUID
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Actor           string
}

// UpdateRequest changes the non-nil fields of a payment at Version.
type UpdateRequest struct {
	ID              uuid.UUID
	Version         int64
	StableID        *uuid.UUID
	ContactPersonID *uuid.UUID
	Amount          *decimal.Decimal
	PaymentDate     *time.Time
	Actor           string
}

type eventPayload struct {
	Amount          decimal.Decimal `json:"amount"`
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Deltas          []deltaPayload  `json:"deltas"`
}

type deltaPayload struct {
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Value           decimal.Decimal `json:"value"`
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Payment, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if req.PaymentDate.IsZero() {
		return nil, fmt.Errorf("Create: payment date: %w", domain.ErrInvalidRequest)
	}
	if err := s.checkReferences(ctx, req.StableID, req.ContactPersonID); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	now := s.now()
	p := &domain.Payment{
		ID:              uuid.New(),
		StableID:        req.StableID,
		ContactPersonID: req.ContactPersonID,
		Amount:          req.Amount,
		PaymentDate:     req.PaymentDate,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.write(ctx, "Create", domain.PaymentEventTypeCreated, req.Actor, nil, p, func(tx *sql.Tx) error {
		return s.payments.Create(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (*domain.Payment, error) {
	if req.Amount != nil {
		if err := validateAmount(*req.Amount); err != nil {
			return nil, fmt.Errorf("Update: %w", err)
		}
	}

	var after *domain.Payment
	err := s.writeLocked(ctx, "Update", req.ID, domain.PaymentEventTypeUpdated, req.Actor,
		func(tx *sql.Tx, before *domain.Payment) (*domain.Payment, error) {
			if before.Version != req.Version {
				return nil, domain.ErrVersionConflict
			}

			next := *before
			if req.StableID != nil {
				next.StableID = *req.StableID
			}
			if req.ContactPersonID != nil {
				next.ContactPersonID = *req.ContactPersonID
			}
			if req.Amount != nil {
				next.Amount = *req.Amount
			}
			if req.PaymentDate != nil {
				next.PaymentDate = *req.PaymentDate
			}
			if next.StableID != before.StableID || next.ContactPersonID != before.ContactPersonID {
				if err := s.checkReferences(ctx, next.StableID, next.ContactPersonID); err != nil {
					return nil, err
				}
			}

			next.Version = before.Version + 1
			next.UpdatedAt = s.now()
			if err := s.payments.Update(ctx, tx, &next); err != nil {
				return nil, err
			}
			after = &next
			return after, nil
		})
	if err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, version int64, actor string) error {
	return s.writeLocked(ctx, "Delete", id, domain.PaymentEventTypeDeleted, actor,
		func(tx *sql.Tx, before *domain.Payment) (*domain.Payment, error) {
			if before.Version != version {
				return nil, domain.ErrVersionConflict
			}
			if err := s.payments.SoftDelete(ctx, tx, id, version, s.now()); err != nil {
				return nil, err
			}
			return nil, nil
		})
}

// writeLocked loads the pre-image under a row lock and lets mutate produce
// the post-image (nil for a delete) inside the same transaction.
func (s *Service) writeLocked(
	ctx context.Context,
	op string,
	id uuid.UUID,
	eventType domain.PaymentEventType,
	actor string,
	mutate func(tx *sql.Tx, before *domain.Payment) (*domain.Payment, error),
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	before, err := s.payments.GetForUpdate(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	after, err := mutate(tx, before)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.finish(ctx, tx, op, eventType, actor, before, after)
}

func (s *Service) write(
	ctx context.Context,
	op string,
	eventType domain.PaymentEventType,
	actor string,
	before, after *domain.Payment,
	mutate func(tx *sql.Tx) error,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	if err := mutate(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.finish(ctx, tx, op, eventType, actor, before, after)
}

// finish records the audit event, enqueues the deltas and commits. With a
// transactional queue the jobs commit together with the payment; otherwise
// they are enqueued after commit and a failure is logged, not returned.
func (s *Service) finish(
	ctx context.Context,
	tx *sql.Tx,
	op string,
	eventType domain.PaymentEventType,
	actor string,
	before, after *domain.Payment,
) error {
	log := logging.FromContext(ctx)

	subject := after
	if subject == nil {
		subject = before
	}
	deltas := DeriveDeltas(before, after)

	if err := s.recordEvent(ctx, tx, subject, eventType, actor, deltas); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	txq, transactional := s.queue.(queue.TxEnqueuer)
	if transactional {
		for _, d := range deltas {
			if _, err := txq.EnqueueTx(ctx, tx, d); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	if !transactional {
		for _, d := range deltas {
			if _, err := s.queue.Enqueue(ctx, d); err != nil {
				log.Error("balance delta enqueue failed, balance will drift until reconciled",
					"payment_id", subject.ID,
					"contact_person_id", d.ContactPersonID,
					"value", d.Value.String(),
					"error", err,
				)
			}
		}
	}

	log.Info("payment "+string(eventType),
		"payment_id", subject.ID,
		"contact_person_id", subject.ContactPersonID,
		"amount", subject.Amount.String(),
		"deltas", len(deltas),
	)
	return nil
}

func (s *Service) recordEvent(
	ctx context.Context,
	tx *sql.Tx,
	p *domain.Payment,
	eventType domain.PaymentEventType,
	actor string,
	deltas []domain.BalanceDelta,
) error {
	payload := eventPayload{
		Amount:          p.Amount,
		ContactPersonID: p.ContactPersonID,
		Deltas:          make([]deltaPayload, len(deltas)),
	}
	for i, d := range deltas {
		payload.Deltas[i] = deltaPayload{ContactPersonID: d.ContactPersonID, Value: d.Value}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	if actor == "" {
		actor = "system"
	}
	return s.events.Create(ctx, tx, &domain.PaymentEvent{
		ID:        uuid.New(),
		PaymentID: p.ID,
		EventType: eventType,
		Actor:     actor,
		Payload:   raw,
		CreatedAt: s.now(),
	})
}

func (s *Service) checkReferences(ctx context.Context, stableID, contactPersonID uuid.UUID) error {
	if _, err := s.refs.RequireUsable(ctx, domain.ReferenceStable, stableID); err != nil {
		return err
	}
	if _, err := s.refs.RequireUsable(ctx, domain.ReferenceContactPerson, contactPersonID); err != nil {
		return err
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return domain.ErrInvalidAmount
	}
	return nil
}
