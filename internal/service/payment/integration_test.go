package payment_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/ledger"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
	"github.com/josh-kwaku/horse-sheet/internal/repository"
	"github.com/josh-kwaku/horse-sheet/internal/service/payment"
	"github.com/josh-kwaku/horse-sheet/internal/testutil"
)

type harness struct {
	db         *sql.DB
	svc        *payment.Service
	dispatcher *queue.Dispatcher
	stable     testutil.Stable
}

func setupPayments(t *testing.T) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	l := ledger.New(db, repository.NewBalanceRepository(db), repository.NewBalanceEntryRepository(db))
	return &harness{
		db: db,
		svc: payment.NewService(db,
			repository.NewPaymentRepository(db),
			repository.NewPaymentEventRepository(db),
			repository.NewReferenceRepository(db),
			q,
		),
		dispatcher: queue.NewDispatcher(q, l, queue.DispatcherConfig{BatchSize: 50, Partitions: 4}, slog.Default()),
		stable:     testutil.SeedStable(t, db),
	}
}

// drain runs dispatch passes until nothing is left to claim.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for range 20 {
		stats, err := h.dispatcher.RunOnce(context.Background())
		require.NoError(t, err)
		if stats.Claimed == 0 {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPayment_CreateUpdateDeleteMovesBalance(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	cp := h.stable.ContactID

	p, err := h.svc.Create(ctx, payment.CreateRequest{
		StableID:        h.stable.StableID,
		ContactPersonID: cp,
		Amount:          amount("50"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Actor:           "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)
	h.drain(t)
	assert.True(t, amount("50").Equal(testutil.GetBalance(t, h.db, cp)))

	newAmount := amount("80")
	p, err = h.svc.Update(ctx, payment.UpdateRequest{ID: p.ID, Version: p.Version, Amount: &newAmount})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)
	h.drain(t)
	assert.True(t, amount("80").Equal(testutil.GetBalance(t, h.db, cp)), "balance is 80, not 130")

	require.NoError(t, h.svc.Delete(ctx, p.ID, p.Version, "tester"))
	h.drain(t)
	assert.True(t, decimal.Zero.Equal(testutil.GetBalance(t, h.db, cp)))

	_, err = h.svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := repository.NewPaymentEventRepository(h.db).ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestPayment_ContactPersonChangeMovesBothBalances(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	other := testutil.SeedReference(t, h.db, domain.ReferenceContactPerson, "Other")

	p, err := h.svc.Create(ctx, payment.CreateRequest{
		StableID:        h.stable.StableID,
		ContactPersonID: h.stable.ContactID,
		Amount:          amount("50"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	newAmount := amount("70")
	_, err = h.svc.Update(ctx, payment.UpdateRequest{
		ID: p.ID, Version: p.Version, ContactPersonID: &other, Amount: &newAmount,
	})
	require.NoError(t, err)
	h.drain(t)

	assert.True(t, decimal.Zero.Equal(testutil.GetBalance(t, h.db, h.stable.ContactID)))
	assert.True(t, amount("70").Equal(testutil.GetBalance(t, h.db, other)))
}

func TestPayment_JobsCommitWithPayment(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, payment.CreateRequest{
		StableID:        h.stable.StableID,
		ContactPersonID: h.stable.ContactID,
		Amount:          amount("12.50"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CountDeltaJobs(t, h.db, h.stable.ContactID, domain.DeltaJobStatusPending))
}

func TestPayment_RejectsBeforeWriting(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.svc.Create(ctx, payment.CreateRequest{
		StableID: h.stable.StableID, ContactPersonID: h.stable.ContactID, Amount: amount("0"), PaymentDate: date,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.svc.Create(ctx, payment.CreateRequest{
		StableID: h.stable.StableID, ContactPersonID: uuid.New(), Amount: amount("10"), PaymentDate: date,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	testutil.DeactivateReference(t, h.db, domain.ReferenceContactPerson, h.stable.ContactID)
	_, err = h.svc.Create(ctx, payment.CreateRequest{
		StableID: h.stable.StableID, ContactPersonID: h.stable.ContactID, Amount: amount("10"), PaymentDate: date,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidReference)

	assert.Equal(t, 0, testutil.CountDeltaJobs(t, h.db, h.stable.ContactID, domain.DeltaJobStatusPending))
}

func TestPayment_StaleVersionConflicts(t *testing.T) {
	h := setupPayments(t)
	ctx := context.Background()

	p, err := h.svc.Create(ctx, payment.CreateRequest{
		StableID:        h.stable.StableID,
		ContactPersonID: h.stable.ContactID,
		Amount:          amount("50"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	newAmount := amount("60")
	_, err = h.svc.Update(ctx, payment.UpdateRequest{ID: p.ID, Version: p.Version + 5, Amount: &newAmount})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	err = h.svc.Delete(ctx, p.ID, 99, "")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	assert.Equal(t, 1, testutil.CountDeltaJobs(t, h.db, h.stable.ContactID, domain.DeltaJobStatusPending))
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, domain.BalanceDelta) (*domain.DeltaJob, error) {
	return nil, errors.New("redis: connection refused")
}

func TestPayment_EnqueueFailureDoesNotFailWrite(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := testutil.SeedStable(t, db)
	svc := payment.NewService(db,
		repository.NewPaymentRepository(db),
		repository.NewPaymentEventRepository(db),
		repository.NewReferenceRepository(db),
		brokenQueue{},
	)

	p, err := svc.Create(context.Background(), payment.CreateRequest{
		StableID:        s.StableID,
		ContactPersonID: s.ContactID,
		Amount:          amount("40"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stored, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, amount("40").Equal(stored.Amount))
}

func TestPayment_RedisBackendEventuallyAppliesDeltas(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := testutil.SeedStable(t, db)
	q := queue.NewRedisQueue(testutil.SetupTestRedis(t), "test:balance")
	l := ledger.New(db, repository.NewBalanceRepository(db), repository.NewBalanceEntryRepository(db))
	svc := payment.NewService(db,
		repository.NewPaymentRepository(db),
		repository.NewPaymentEventRepository(db),
		repository.NewReferenceRepository(db),
		q,
	)
	d := queue.NewDispatcher(q, l, queue.DispatcherConfig{BatchSize: 10, Partitions: 2}, slog.Default())
	ctx := context.Background()

	p, err := svc.Create(ctx, payment.CreateRequest{
		StableID:        s.StableID,
		ContactPersonID: s.ContactID,
		Amount:          amount("50"),
		PaymentDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	newAmount := amount("80")
	_, err = svc.Update(ctx, payment.UpdateRequest{ID: p.ID, Version: p.Version, Amount: &newAmount})
	require.NoError(t, err)

	stats, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Applied)
	assert.True(t, amount("80").Equal(testutil.GetBalance(t, db, s.ContactID)))
}
