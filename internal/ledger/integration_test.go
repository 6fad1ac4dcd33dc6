package ledger_test

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
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
	"github.com/josh-kwaku/horse-sheet/internal/testutil"
)

func setupLedger(t *testing.T, db *sql.DB) *ledger.Ledger {
	t.Helper()
	return ledger.New(db, repository.NewBalanceRepository(db), repository.NewBalanceEntryRepository(db))
}

type noPending struct{}

func (noPending) HasPending(context.Context, uuid.UUID) (bool, error) { return false, nil }

func TestApplyDelta_CreatesBalanceLazily(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	cp := testutil.SeedReference(t, db, domain.ReferenceContactPerson, "Marta")
	ctx := context.Background()

	b, err := l.GetBalance(ctx, cp)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = l.ApplyDelta(ctx, cp, decimal.RequireFromString("50"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50").Equal(b.Balance))

	stored, err := l.GetBalance(ctx, cp)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, decimal.RequireFromString("50").Equal(stored.Balance))
	assert.Equal(t, 1, testutil.CountBalanceEntries(t, db, cp))
}

func TestApplyDelta_IsNotIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	cp := testutil.SeedReference(t, db, domain.ReferenceContactPerson, "Marta")
	ctx := context.Background()

	job := &domain.DeltaJob{ID: uuid.New(), Delta: domain.BalanceDelta{ContactPersonID: cp, Value: decimal.NewFromInt(30)}}
	_, err := l.ApplyJob(ctx, job)
	require.NoError(t, err)
	_, err = l.ApplyJob(ctx, job)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(60).Equal(testutil.GetBalance(t, db, cp)))
}

func TestApplyDelta_ConcurrentDeltasAreAdditive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	cp := testutil.SeedReference(t, db, domain.ReferenceContactPerson, "Marta")
	ctx := context.Background()

	deltas := []string{"10", "-4.50", "25.25", "-0.75", "100", "-30", "7", "12.5", "-8", "3"}
	want := decimal.Zero
	for _, d := range deltas {
		want = want.Add(decimal.RequireFromString(d))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(deltas))
	for _, d := range deltas {
		wg.Add(1)
		go func(v decimal.Decimal) {
			defer wg.Done()
			if _, err := l.ApplyDelta(ctx, cp, v); err != nil {
				errs <- err
			}
		}(decimal.RequireFromString(d))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, want.Equal(testutil.GetBalance(t, db, cp)), "want %s got %s", want, testutil.GetBalance(t, db, cp))
	assert.Equal(t, len(deltas), testutil.CountBalanceEntries(t, db, cp))
}

func TestReconciler_CorrectsDrift(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	_, err := db.Exec(
		`INSERT INTO payments (id, stable_id, contact_person_id, amount, payment_date)
		VALUES ($1, $2, $3, 80, '2024-03-01')`,
		uuid.New(), s.StableID, s.ContactID,
	)
	require.NoError(t, err)
	_, err = l.ApplyDelta(ctx, s.ContactID, decimal.NewFromInt(130))
	require.NoError(t, err)

	r := ledger.NewReconciler(repository.NewBalanceRepository(db), noPending{}, l, nil)
	report, err := r.Run(ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.True(t, report.Discrepancies[0].Corrected)
	assert.True(t, decimal.NewFromInt(80).Equal(testutil.GetBalance(t, db, s.ContactID)))

	report, err = r.Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

// drainingTotals takes the real snapshot and then lets the dispatcher apply
// everything that was queued at snapshot time.
type drainingTotals struct {
	balances *repository.BalanceRepository
	drain    func(ctx context.Context) error
}

func (d drainingTotals) ListTotals(ctx context.Context) ([]repository.BalanceTotals, error) {
	rows, err := d.balances.ListTotals(ctx)
	if err != nil {
		return nil, err
	}
	return rows, d.drain(ctx)
}

func TestReconciler_QueueDrainedAfterSnapshot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	_, err := db.Exec(
		`INSERT INTO payments (id, stable_id, contact_person_id, amount, payment_date)
		VALUES ($1, $2, $3, 50, '2024-03-01')`,
		uuid.New(), s.StableID, s.ContactID,
	)
	require.NoError(t, err)

	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	_, err = q.Enqueue(ctx, domain.BalanceDelta{ContactPersonID: s.ContactID, Value: decimal.NewFromInt(50)})
	require.NoError(t, err)

	d := queue.NewDispatcher(q, l, queue.DispatcherConfig{BatchSize: 10}, slog.Default())
	balances := repository.NewBalanceRepository(db)
	src := drainingTotals{balances: balances, drain: func(ctx context.Context) error {
		_, err := d.RunOnce(ctx)
		return err
	}}

	r := ledger.NewReconciler(src, q, l, nil)
	report, err := r.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Corrected)
	assert.Equal(t, 0, report.Outstanding())
	assert.True(t, decimal.NewFromInt(50).Equal(testutil.GetBalance(t, db, s.ContactID)))
	assert.Equal(t, 1, testutil.CountBalanceEntries(t, db, s.ContactID))
}

func TestCorrect_SkipsWhileDeltaIsQueued(t *testing.T) {
	db := testutil.SetupTestDB(t)
	l := setupLedger(t, db)
	s := testutil.SeedStable(t, db)
	ctx := context.Background()

	_, err := db.Exec(
		`INSERT INTO payments (id, stable_id, contact_person_id, amount, payment_date)
		VALUES ($1, $2, $3, 25, '2024-03-01')`,
		uuid.New(), s.StableID, s.ContactID,
	)
	require.NoError(t, err)

	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	_, err = q.Enqueue(ctx, domain.BalanceDelta{ContactPersonID: s.ContactID, Value: decimal.NewFromInt(25)})
	require.NoError(t, err)

	c, err := l.Correct(ctx, s.ContactID, q)
	require.NoError(t, err)
	assert.True(t, c.Pending)
	assert.False(t, c.Applied)
	assert.True(t, decimal.NewFromInt(25).Equal(c.Expected))
	assert.True(t, decimal.Zero.Equal(testutil.GetBalance(t, db, s.ContactID)))

	c, err = l.Correct(ctx, s.ContactID, noPending{})
	require.NoError(t, err)
	assert.True(t, c.Applied)
	assert.True(t, decimal.NewFromInt(25).Equal(testutil.GetBalance(t, db, s.ContactID)))
}

func TestApplyDelta_StampsWithInjectedClock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := setupLedger(t, db).WithClock(func() time.Time { return at })
	cp := testutil.SeedReference(t, db, domain.ReferenceContactPerson, "Ewa")
	ctx := context.Background()

	b, err := l.ApplyDelta(ctx, cp, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, at, b.UpdatedAt)

	var created time.Time
	require.NoError(t, db.QueryRow(
		`SELECT created_at FROM balance_entries WHERE contact_person_id = $1`, cp,
	).Scan(&created))
	assert.True(t, at.Equal(created))
}
