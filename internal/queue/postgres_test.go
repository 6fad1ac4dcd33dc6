package queue_test

import (
	"context"
	"errors"
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

func delta(cp uuid.UUID, v string) domain.BalanceDelta {
	return domain.BalanceDelta{ContactPersonID: cp, Value: decimal.RequireFromString(v)}
}

func ids(jobs []domain.DeltaJob) []uuid.UUID {
	out := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestPostgresQueue_ClaimsOnlyHeadPerContactPerson(t *testing.T) {
	db := testutil.SetupTestDB(t)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	a1, err := q.Enqueue(ctx, delta(a, "10"))
	require.NoError(t, err)
	a2, err := q.Enqueue(ctx, delta(a, "20"))
	require.NoError(t, err)
	b1, err := q.Enqueue(ctx, delta(b, "5"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a1.ID, b1.ID}, ids(claimed))

	again, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "a2 waits behind the in-flight a1")

	require.NoError(t, q.Complete(ctx, &claimed[0]))
	next, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a2.ID}, ids(next))

	pending, err := q.HasPending(ctx, a)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestPostgresQueue_RetryBuryRequeue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	ctx := context.Background()
	cp := uuid.New()

	_, err := q.Enqueue(ctx, delta(cp, "10"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, q.Retry(ctx, &claimed[0], time.Now().Add(time.Hour), errors.New("later")))
	none, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none, "retry is not due yet")

	_, err = db.Exec(`UPDATE balance_delta_jobs SET available_at = now() - interval '1 second'`)
	require.NoError(t, err)
	claimed, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, q.Bury(ctx, &claimed[0], errors.New("fatal")))
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.NotNil(t, dead[0].LastError)
	assert.Equal(t, "fatal", *dead[0].LastError)
	assert.Equal(t, 2, dead[0].Attempts)

	pending, err := q.HasPending(ctx, cp)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, q.Requeue(ctx, dead[0].ID))
	claimed, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 0, claimed[0].Attempts)

	err = q.Requeue(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresQueue_ExpiredClaimIsRedelivered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Second)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, delta(uuid.New(), "1"))
	require.NoError(t, err)

	first, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.Eventually(t, func() bool {
		again, err := q.Claim(ctx, 1)
		return err == nil && len(again) == 1 && again[0].ID == job.ID
	}, 5*time.Second, 200*time.Millisecond)
}

func TestDispatcher_DrainsPostgresQueueIntoLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
	l := ledger.New(db, repository.NewBalanceRepository(db), repository.NewBalanceEntryRepository(db))
	cp := testutil.SeedReference(t, db, domain.ReferenceContactPerson, "Ola")
	ctx := context.Background()

	for _, v := range []string{"50", "30", "-80"} {
		_, err := q.Enqueue(ctx, delta(cp, v))
		require.NoError(t, err)
	}

	d := queue.NewDispatcher(q, l, queue.DispatcherConfig{BatchSize: 10, Partitions: 2}, slog.Default())
	for range 3 {
		_, err := d.RunOnce(ctx)
		require.NoError(t, err)
	}

	assert.True(t, decimal.Zero.Equal(testutil.GetBalance(t, db, cp)))
	assert.Equal(t, 3, testutil.CountBalanceEntries(t, db, cp))
	assert.Equal(t, 3, testutil.CountDeltaJobs(t, db, cp, domain.DeltaJobStatusCompleted))
}

func TestPostgresQueue_ConcurrentDispatchersNeverShareAClaim(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	producer := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)

	const keys, perKey = 20, 3
	for range keys {
		cp := uuid.New()
		for range perKey {
			_, err := producer.Enqueue(ctx, delta(cp, "1"))
			require.NoError(t, err)
		}
	}
	total := keys * perKey

	var (
		mu     sync.Mutex
		seen   = map[uuid.UUID]int{}
		errs   []error
		wg     sync.WaitGroup
		finish = time.Now().Add(30 * time.Second)
	)
	done := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= total || len(errs) > 0 || time.Now().After(finish)
	}

	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute)
			for !done() {
				claimed, err := q.Claim(ctx, 4)
				if err == nil {
					for i := range claimed {
						mu.Lock()
						seen[claimed[i].ID]++
						mu.Unlock()
						if err = q.Complete(ctx, &claimed[i]); err != nil {
							break
						}
					}
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestPostgresQueue_StampsJobsWithInjectedClock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := queue.NewPostgresQueue(repository.NewDeltaJobRepository(db), time.Minute).
		WithClock(func() time.Time { return at })
	ctx := context.Background()

	job, err := q.Enqueue(ctx, delta(uuid.New(), "4"))
	require.NoError(t, err)
	assert.Equal(t, at, job.CreatedAt)
	assert.Equal(t, at, job.AvailableAt)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.True(t, at.Equal(claimed[0].CreatedAt))
}
