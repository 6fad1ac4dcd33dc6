package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/horse-sheet/internal/domain"
)

type applier interface {
	ApplyJob(ctx context.Context, job *domain.DeltaJob) (*domain.Balance, error)
}

type DispatcherConfig struct {
	Interval   time.Duration
	BatchSize  int
	Partitions int
	Retry      RetryPolicy
}

// Stats summarises one dispatch pass.
type Stats struct {
	Claimed   int
	Applied   int
	Retried   int
	Buried    int
	AckFailed int
}

// Dispatcher drains the queue into the ledger. Jobs of one contact person
// always land in the same partition and are applied in claim order;
// partitions run concurrently.
type Dispatcher struct {
	queue  Queue
	ledger applier
	cfg    DispatcherConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(q Queue, l applier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Dispatcher{
		queue:  q,
		ledger: l,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("balance dispatcher started",
		"interval", d.cfg.Interval.String(),
		"partitions", d.cfg.Partitions,
		"batch_size", d.cfg.BatchSize,
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("balance dispatcher stopped")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	// A full batch usually means more work is waiting.
	for {
		stats, err := d.RunOnce(ctx)
		if err != nil {
			d.logger.Error("dispatch pass failed", "error", err)
			return
		}
		if stats.Claimed < d.cfg.BatchSize || ctx.Err() != nil {
			return
		}
	}
}

// RunOnce claims one batch and processes it to completion.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	jobs, err := d.queue.Claim(ctx, d.cfg.BatchSize)
	if err != nil {
		return Stats{}, err
	}
	if len(jobs) == 0 {
		return Stats{}, nil
	}

	parts := Partition(jobs, d.cfg.Partitions)
	results := make([]Stats, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Partitions)
	for i, part := range parts {
		g.Go(func() error {
			results[i] = d.runPartition(gctx, part)
			return nil
		})
	}
	_ = g.Wait()

	total := Stats{Claimed: len(jobs)}
	for _, s := range results {
		total.Applied += s.Applied
		total.Retried += s.Retried
		total.Buried += s.Buried
		total.AckFailed += s.AckFailed
	}
	if total.Applied > 0 || total.Retried > 0 || total.Buried > 0 {
		d.logger.Debug("dispatch pass complete",
			"claimed", total.Claimed,
			"applied", total.Applied,
			"retried", total.Retried,
			"buried", total.Buried,
		)
	}
	return total, nil
}

func (d *Dispatcher) runPartition(ctx context.Context, jobs []domain.DeltaJob) Stats {
	var s Stats
	for i := range jobs {
		job := &jobs[i]
		if ctx.Err() != nil {
			// Unprocessed claims return to the queue once their lease lapses.
			return s
		}
		d.process(ctx, job, &s)
	}
	return s
}

func (d *Dispatcher) process(ctx context.Context, job *domain.DeltaJob, s *Stats) {
	logger := d.logger.With(
		"job_id", job.ID,
		"contact_person_id", job.Delta.ContactPersonID,
		"value", job.Delta.Value.String(),
		"attempt", job.Attempts+1,
	)

	if _, err := d.ledger.ApplyJob(ctx, job); err != nil {
		d.fail(ctx, job, err, logger, s)
		return
	}

	if err := d.queue.Complete(ctx, job); err != nil {
		// The delta is applied; the job will be redelivered and applied again.
		s.AckFailed++
		logger.Error("failed to acknowledge applied delta", "error", err)
		return
	}
	s.Applied++
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.DeltaJob, cause error, logger *slog.Logger, s *Stats) {
	attempts := job.Attempts + 1
	if d.cfg.Retry.Exhausted(attempts) {
		if err := d.queue.Bury(ctx, job, cause); err != nil {
			logger.Error("failed to bury delta job", "error", err, "cause", cause)
			return
		}
		s.Buried++
		logger.Error("delta job moved to dead letters", "error", cause)
		return
	}

	delay := d.cfg.Retry.Delay(attempts)
	if err := d.queue.Retry(ctx, job, d.now().Add(delay), cause); err != nil {
		logger.Error("failed to reschedule delta job", "error", err, "cause", cause)
		return
	}
	s.Retried++
	logger.Warn("delta job failed, retrying", "error", cause, "retry_in", delay.String())
}
