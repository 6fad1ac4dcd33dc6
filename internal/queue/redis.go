package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
	"github.com/josh-kwaku/horse-sheet/internal/logging"
)

// RedisQueue keeps jobs in Redis lists:
//
//	<prefix>:pending     new and due jobs, pushed left and claimed from the right
//	<prefix>:processing  claimed jobs awaiting acknowledgement
//	<prefix>:delayed     sorted set of retries scored by due time in ms
//	<prefix>:dead        buried jobs
//	<prefix>:open        hash of contact person id to open job count
//
// Ordering is FIFO for a single consumer. Per contact person serialization
// across consumers relies on the ledger row lock, not on the queue.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: prefix, now: time.Now}
}

// WithClock replaces the clock used for job timestamps and due checks.
func (q *RedisQueue) WithClock(now func() time.Time) *RedisQueue {
	q.now = now
	return q
}

type redisJob struct {
	ID              uuid.UUID       `json:"id"`
	ContactPersonID uuid.UUID       `json:"contact_person_id"`
	Value           decimal.Decimal `json:"value"`
	Attempts        int             `json:"attempts"`
	LastError       *string         `json:"last_error,omitempty"`
	AvailableAt     time.Time       `json:"available_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (q *RedisQueue) key(name string) string {
	return q.prefix + ":" + name
}

func (q *RedisQueue) keys() []string {
	return []string{
		q.key("pending"),
		q.key("processing"),
		q.key("delayed"),
		q.key("dead"),
		q.key("open"),
	}
}

func encodeJob(j *domain.DeltaJob) (string, error) {
	b, err := json.Marshal(redisJob{
		ID:              j.ID,
		ContactPersonID: j.Delta.ContactPersonID,
		Value:           j.Delta.Value,
		Attempts:        j.Attempts,
		LastError:       j.LastError,
		AvailableAt:     j.AvailableAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJob(payload string, status domain.DeltaJobStatus) (domain.DeltaJob, error) {
	var rj redisJob
	if err := json.Unmarshal([]byte(payload), &rj); err != nil {
		return domain.DeltaJob{}, fmt.Errorf("decode job: %w", err)
	}
	return domain.DeltaJob{
		ID:          rj.ID,
		Delta:       domain.BalanceDelta{ContactPersonID: rj.ContactPersonID, Value: rj.Value},
		Status:      status,
		Attempts:    rj.Attempts,
		LastError:   rj.LastError,
		AvailableAt: rj.AvailableAt,
		CreatedAt:   rj.CreatedAt,
		UpdatedAt:   rj.UpdatedAt,
		Receipt:     payload,
	}, nil
}

// KEYS: pending processing delayed dead open
var (
	enqueueScript = redis.NewScript(`
redis.call('LPUSH', KEYS[1], ARGV[1])
redis.call('HINCRBY', KEYS[5], ARGV[2], 1)
return 1`)

	// ARGV: now_ms, limit
	claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[3], m)
  redis.call('RPUSH', KEYS[1], m)
end
local out = {}
for i = 1, tonumber(ARGV[2]) do
  local m = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
  if not m then break end
  out[#out + 1] = m
end
return out`)

	// ARGV: receipt, contact_person_id
	completeScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[2], 1, ARGV[1])
if n == 0 then return 0 end
if redis.call('HINCRBY', KEYS[5], ARGV[2], -1) <= 0 then
  redis.call('HDEL', KEYS[5], ARGV[2])
end
return 1`)

	// ARGV: receipt, new_payload, due_ms
	retryScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[2], 1, ARGV[1])
if n == 0 then return 0 end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1`)

	// ARGV: receipt, new_payload, contact_person_id
	buryScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[2], 1, ARGV[1])
if n == 0 then return 0 end
redis.call('LPUSH', KEYS[4], ARGV[2])
if redis.call('HINCRBY', KEYS[5], ARGV[3], -1) <= 0 then
  redis.call('HDEL', KEYS[5], ARGV[3])
end
return 1`)

	// Undecodable payloads cannot name their contact person, so the open
	// count is left alone. ARGV: receipt
	poisonScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[2], 1, ARGV[1])
if n == 0 then return 0 end
redis.call('LPUSH', KEYS[4], ARGV[1])
return 1`)

	// ARGV: dead_payload, new_payload, contact_person_id
	requeueScript = redis.NewScript(`
local n = redis.call('LREM', KEYS[4], 1, ARGV[1])
if n == 0 then return 0 end
redis.call('LPUSH', KEYS[1], ARGV[2])
redis.call('HINCRBY', KEYS[5], ARGV[3], 1)
return 1`)

	// Newest claims move first so the oldest ends up next in line.
	recoverScript = redis.NewScript(`
local moved = 0
while redis.call('LMOVE', KEYS[2], KEYS[1], 'LEFT', 'RIGHT') do
  moved = moved + 1
end
return moved`)
)

func (q *RedisQueue) Enqueue(ctx context.Context, delta domain.BalanceDelta) (*domain.DeltaJob, error) {
	job := newJob(delta, q.now().UTC())
	payload, err := encodeJob(job)
	if err != nil {
		return nil, fmt.Errorf("Enqueue: %w", err)
	}
	if err := enqueueScript.Run(ctx, q.rdb, q.keys(), payload, delta.ContactPersonID.String()).Err(); err != nil {
		return nil, fmt.Errorf("Enqueue: %w: %w", domain.ErrQueueDispatch, err)
	}
	job.Receipt = payload
	return job, nil
}

// Claim moves up to limit due jobs to processing. A payload that does not
// decode is moved to the dead list and the rest of the batch is returned.
func (q *RedisQueue) Claim(ctx context.Context, limit int) ([]domain.DeltaJob, error) {
	now := q.now().UTC().UnixMilli()
	res, err := claimScript.Run(ctx, q.rdb, q.keys(), now, limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("Claim: %w", err)
	}

	jobs := make([]domain.DeltaJob, 0, len(res))
	for _, payload := range res {
		j, err := decodeJob(payload, domain.DeltaJobStatusProcessing)
		if err != nil {
			logging.FromContext(ctx).Error("burying undecodable job", "error", err, "payload_bytes", len(payload))
			if perr := poisonScript.Run(ctx, q.rdb, q.keys(), payload).Err(); perr != nil {
				return jobs, fmt.Errorf("Claim: bury undecodable job: %w", perr)
			}
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *domain.DeltaJob) error {
	n, err := completeScript.Run(ctx, q.rdb, q.keys(), job.Receipt, job.Delta.ContactPersonID.String()).Int()
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Complete: %w", domain.ErrNotFound)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *domain.DeltaJob, availableAt time.Time, cause error) error {
	next := *job
	next.Attempts++
	next.AvailableAt = availableAt.UTC()
	next.UpdatedAt = q.now().UTC()
	msg := errString(cause)
	next.LastError = &msg

	payload, err := encodeJob(&next)
	if err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	n, err := retryScript.Run(ctx, q.rdb, q.keys(), job.Receipt, payload, next.AvailableAt.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Retry: %w", domain.ErrNotFound)
	}
	return nil
}

func (q *RedisQueue) Bury(ctx context.Context, job *domain.DeltaJob, cause error) error {
	dead := *job
	dead.Attempts++
	dead.UpdatedAt = q.now().UTC()
	msg := errString(cause)
	dead.LastError = &msg

	payload, err := encodeJob(&dead)
	if err != nil {
		return fmt.Errorf("Bury: %w", err)
	}
	n, err := buryScript.Run(ctx, q.rdb, q.keys(), job.Receipt, payload, job.Delta.ContactPersonID.String()).Int()
	if err != nil {
		return fmt.Errorf("Bury: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Bury: %w", domain.ErrNotFound)
	}
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]domain.DeltaJob, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := q.rdb.LRange(ctx, q.key("dead"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("DeadLetters: %w", err)
	}
	jobs := make([]domain.DeltaJob, 0, len(res))
	for _, payload := range res {
		j, err := decodeJob(payload, domain.DeltaJobStatusDead)
		if err != nil {
			// undecodable payloads stay in the list for manual inspection
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := q.rdb.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("Requeue: %w", err)
	}

	for _, payload := range res {
		j, err := decodeJob(payload, domain.DeltaJobStatusDead)
		if err != nil || j.ID != id {
			continue
		}

		j.Attempts = 0
		j.LastError = nil
		j.AvailableAt = q.now().UTC()
		j.UpdatedAt = j.AvailableAt
		next, err := encodeJob(&j)
		if err != nil {
			return fmt.Errorf("Requeue: %w", err)
		}
		n, err := requeueScript.Run(ctx, q.rdb, q.keys(), payload, next, j.Delta.ContactPersonID.String()).Int()
		if err != nil {
			return fmt.Errorf("Requeue: %w", err)
		}
		if n == 0 {
			break
		}
		return nil
	}
	return fmt.Errorf("Requeue: %w", domain.ErrNotFound)
}

func (q *RedisQueue) HasPending(ctx context.Context, contactPersonID uuid.UUID) (bool, error) {
	n, err := q.rdb.HGet(ctx, q.key("open"), contactPersonID.String()).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HasPending: %w", err)
	}
	return n > 0, nil
}

// Recover returns every unacknowledged claim to the pending list. Call it
// only when no other consumer is running, typically at worker startup.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.rdb, q.keys()).Int()
	if err != nil {
		return 0, fmt.Errorf("Recover: %w", err)
	}
	return n, nil
}
