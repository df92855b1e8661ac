package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"momentum/internal/models"
	"momentum/internal/observability"
)

// Handler applies one job. Returning an error wrapped with Permanent skips
// the remaining attempts.
type Handler func(ctx context.Context, job *Job) error

// Handlers is the fixed dispatch table, one entry per kind.
type Handlers map[Kind]Handler

// RunnerConfig holds the retry policy and worker sizing.
type RunnerConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Concurrency is the number of workers per kind.
	Concurrency int
	// PollWait bounds each blocking dequeue so shutdown is noticed.
	PollWait time.Duration
	// OnDeadLetter, when set, is called after a job is dead-lettered.
	OnDeadLetter func(ctx context.Context, job *Job, err error)
}

// Runner consumes jobs and applies the retry policy.
type Runner struct {
	q        Queue
	handlers Handlers
	cfg      RunnerConfig
	now      func() time.Time
}

// NewRunner validates the handler table and returns a runner.
func NewRunner(q Queue, handlers Handlers, cfg RunnerConfig) (*Runner, error) {
	for kind, h := range handlers {
		if !kind.Valid() {
			return nil, errUnknownKind(kind)
		}
		if h == nil {
			return nil, fmt.Errorf("queue: nil handler for %s", kind)
		}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		cfg.BaseDelay = cfg.MaxDelay
	}
	return &Runner{q: q, handlers: handlers, cfg: cfg, now: time.Now}, nil
}

// Backoff returns the delay before attempt+1 given attempt failed attempts:
// base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Run starts Concurrency workers for every kind with a handler and blocks
// until ctx is cancelled and in-flight jobs finish.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for kind := range r.handlers {
		for i := 0; i < r.cfg.Concurrency; i++ {
			wg.Add(1)
			go func(kind Kind) {
				defer wg.Done()
				r.work(ctx, kind)
			}(kind)
		}
	}
	observability.GlobalLogger.Info("queue workers started",
		"kinds", len(r.handlers), "concurrency", r.cfg.Concurrency, "max_attempts", r.cfg.MaxAttempts)
	wg.Wait()
	observability.GlobalLogger.Info("queue workers stopped")
	return nil
}

func (r *Runner) work(ctx context.Context, kind Kind) {
	for ctx.Err() == nil {
		job, err := r.q.Dequeue(ctx, kind, r.cfg.PollWait)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			observability.LogAsyncOperationError(ctx, "dequeue", err, map[string]interface{}{"kind": kind})
			sleep(ctx, r.cfg.PollWait)
			continue
		}
		if job == nil {
			continue
		}
		// a job that started is finished even during shutdown
		r.Process(context.WithoutCancel(ctx), job)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Drain processes every job that is ready now, across all kinds with a
// handler, until none is left. Jobs scheduled for a later retry stay queued.
func (r *Runner) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		progressed := false
		for _, kind := range Kinds {
			if _, ok := r.handlers[kind]; !ok {
				continue
			}
			job, err := r.q.Dequeue(ctx, kind, 0)
			if err != nil {
				return processed, err
			}
			if job == nil {
				continue
			}
			r.Process(ctx, job)
			processed++
			progressed = true
		}
		if !progressed {
			return processed, nil
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}
	}
}

// Process runs one attempt of job and settles it: ack on success, retry
// with backoff on failure, dead-letter when permanent or out of attempts.
// A deferred job is handed back without counting the attempt.
func (r *Runner) Process(ctx context.Context, job *Job) {
	kind := string(job.Kind)
	attempt := job.Attempt + 1
	if job.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}
	span, ctx := observability.StartJobSpan(ctx, kind, job.ID, attempt)
	defer span.End()

	start := r.now()
	observability.LogJobStart(ctx, kind, job.ID, attempt, map[string]interface{}{"key": job.Key})

	err := r.handle(ctx, job)
	if err == nil {
		if ackErr := r.q.Ack(ctx, job); ackErr != nil {
			observability.LogAsyncOperationError(ctx, "ack", ackErr, map[string]interface{}{"job_id": job.ID})
		}
		observability.ObserveJob(kind, "ok", start)
		observability.LogJobEnd(ctx, kind, job.ID, attempt, map[string]interface{}{"key": job.Key})
		return
	}

	if after, ok := Deferral(err); ok {
		job.LastError = err.Error()
		if retryErr := r.q.Retry(ctx, job, r.now().Add(after)); retryErr != nil {
			observability.LogAsyncOperationError(ctx, "defer", retryErr, map[string]interface{}{"job_id": job.ID})
		}
		observability.ObserveJob(kind, "deferred", start)
		observability.GlobalLogger.InfoContext(ctx, "job deferred",
			"kind", kind, "job_id", job.ID, "key", job.Key, "delay", after.String(), "reason", err.Error())
		return
	}

	span.SetError(err)
	failedAt := r.now().UTC()
	job.Attempt = attempt
	job.LastError = err.Error()
	job.FailedAt = &failedAt

	if IsPermanent(err) || attempt >= r.cfg.MaxAttempts {
		r.deadLetter(ctx, job, err)
		observability.ObserveJob(kind, "dead", start)
		return
	}

	delay := Backoff(attempt, r.cfg.BaseDelay, r.cfg.MaxDelay)
	if retryErr := r.q.Retry(ctx, job, r.now().Add(delay)); retryErr != nil {
		observability.LogAsyncOperationError(ctx, "retry", retryErr, map[string]interface{}{"job_id": job.ID})
	}
	observability.ObserveJob(kind, "retry", start)
	observability.LogJobRetry(ctx, kind, job.ID, attempt, err, map[string]interface{}{
		"key":   job.Key,
		"delay": delay.String(),
	})
}

func (r *Runner) handle(ctx context.Context, job *Job) (err error) {
	h, ok := r.handlers[job.Kind]
	if !ok {
		return Permanent(errUnknownKind(job.Kind))
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) deadLetter(ctx context.Context, job *Job, cause error) {
	exhausted := models.NewQueueExhaustedError(string(job.Kind), job.Attempt, cause)
	if err := r.q.DeadLetter(ctx, job); err != nil {
		observability.LogAsyncOperationError(ctx, "dead_letter", err, map[string]interface{}{"job_id": job.ID})
	}
	observability.DeadLetters.WithLabelValues(string(job.Kind)).Inc()
	observability.LogJobDeadLetter(ctx, string(job.Kind), job.ID, job.Attempt, exhausted, map[string]interface{}{
		"key":       job.Key,
		"permanent": IsPermanent(cause),
		"payload":   string(job.Payload),
	})
	if r.cfg.OnDeadLetter != nil {
		r.cfg.OnDeadLetter(ctx, job, exhausted)
	}
}
