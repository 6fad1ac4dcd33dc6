package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/queue"
	"github.com/josh-kwaku/horse-sheet/internal/testutil"
)

func TestRedisQueue_FIFOAndAck(t *testing.T) {
	q := queue.NewRedisQueue(testutil.SetupTestRedis(t), "test:balance")
	ctx := context.Background()
	cp := uuid.New()

	j1, err := q.Enqueue(ctx, delta(cp, "10"))
	require.NoError(t, err)
	j2, err := q.Enqueue(ctx, delta(cp, "-2.50"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{j1.ID, j2.ID}, ids(claimed))
	assert.Equal(t, "-2.5", claimed[1].Delta.Value.String())
	assert.Equal(t, domain.DeltaJobStatusProcessing, claimed[0].Status)

	pending, err := q.HasPending(ctx, cp)
	require.NoError(t, err)
	assert.True(t, pending)

	for i := range claimed {
		require.NoError(t, q.Complete(ctx, &claimed[i]))
	}
	pending, err = q.HasPending(ctx, cp)
	require.NoError(t, err)
	assert.False(t, pending)

	err = q.Complete(ctx, &claimed[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisQueue_RetryBuryRequeue(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	q := queue.NewRedisQueue(rdb, "test:balance")
	ctx := context.Background()
	cp := uuid.New()

	job, err := q.Enqueue(ctx, delta(cp, "7"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, q.Retry(ctx, &claimed[0], time.Now().Add(time.Hour), errors.New("later")))
	none, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	delayed, err := rdb.ZRange(ctx, "test:balance:delayed", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	require.NoError(t, rdb.ZAdd(ctx, "test:balance:delayed", &redis.Z{Score: 0, Member: delayed[0]}).Err())

	claimed, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, "later", *claimed[0].LastError)

	require.NoError(t, q.Bury(ctx, &claimed[0], errors.New("fatal")))
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "fatal", *dead[0].LastError)

	pending, err := q.HasPending(ctx, cp)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, q.Requeue(ctx, job.ID))
	claimed, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 0, claimed[0].Attempts)

	assert.ErrorIs(t, q.Requeue(ctx, uuid.New()), domain.ErrNotFound)
}

func TestRedisQueue_RecoverReturnsUnackedClaims(t *testing.T) {
	q := queue.NewRedisQueue(testutil.SetupTestRedis(t), "test:balance")
	ctx := context.Background()

	job, err := q.Enqueue(ctx, delta(uuid.New(), "3"))
	require.NoError(t, err)
	_, err = q.Claim(ctx, 1)
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
}

func TestRedisQueue_UndecodablePayloadIsBuried(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	q := queue.NewRedisQueue(rdb, "test:balance")
	ctx := context.Background()

	first, err := q.Enqueue(ctx, delta(uuid.New(), "1"))
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(ctx, "test:balance:pending", "{not json").Err())
	second, err := q.Enqueue(ctx, delta(uuid.New(), "2"))
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, ids(claimed))

	processing, err := rdb.LRange(ctx, "test:balance:processing", 0, -1).Result()
	require.NoError(t, err)
	assert.Len(t, processing, 2)
	assert.NotContains(t, processing, "{not json")

	raw, err := rdb.LRange(ctx, "test:balance:dead", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, raw)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)

	for i := range claimed {
		require.NoError(t, q.Complete(ctx, &claimed[i]))
	}
}

func TestRedisQueue_StampsJobsWithInjectedClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := queue.NewRedisQueue(testutil.SetupTestRedis(t), "test:balance").
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
