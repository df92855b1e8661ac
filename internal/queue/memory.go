package queue

import (
	"context"
	"sync"
	"time"

	"momentum/internal/observability"
)

type delayedJob struct {
	at  time.Time
	job *Job
}

type memoryLane struct {
	ready   []*Job
	delayed []delayedJob
	dead    []*Job
	signal  chan struct{}
}

// MemoryQueue is a process-local driver for tests and single-node
// development. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	lanes   map[Kind]*memoryLane
	pending map[string]struct{}
	closed  bool
	now     func() time.Time
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		lanes:   make(map[Kind]*memoryLane, len(Kinds)),
		pending: make(map[string]struct{}),
		now:     time.Now,
	}
	for _, k := range Kinds {
		q.lanes[k] = &memoryLane{signal: make(chan struct{}, 1)}
	}
	return q
}

func (q *MemoryQueue) lane(kind Kind) (*memoryLane, error) {
	l, ok := q.lanes[kind]
	if !ok {
		return nil, errUnknownKind(kind)
	}
	return l, nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	l, err := q.lane(job.Kind)
	if err != nil {
		return err
	}
	if job.Kind.Coalesces() && job.Key != "" {
		if _, dup := q.pending[job.Key]; dup {
			observability.JobsCoalesced.WithLabelValues(string(job.Kind)).Inc()
			return nil
		}
		q.pending[job.Key] = struct{}{}
	}
	l.ready = append(l.ready, job)
	notify(l.signal)
	return nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, kind Kind, wait time.Duration) (*Job, error) {
	deadline := q.now().Add(wait)
	for {
		job, next, l, err := q.take(kind)
		if err != nil || job != nil {
			return job, err
		}
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}
		if !next.IsZero() {
			if d := next.Sub(q.now()); d < remaining {
				remaining = d
			}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-l.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take pops the oldest ready job after promoting due delayed ones. next is
// the earliest remaining delayed time.
func (q *MemoryQueue) take(kind Kind) (*Job, time.Time, *memoryLane, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, time.Time{}, nil, ErrClosed
	}
	l, err := q.lane(kind)
	if err != nil {
		return nil, time.Time{}, nil, err
	}

	now := q.now()
	kept := l.delayed[:0]
	for _, d := range l.delayed {
		if !d.at.After(now) {
			l.ready = append(l.ready, d.job)
		} else {
			kept = append(kept, d)
		}
	}
	l.delayed = kept

	var next time.Time
	for _, d := range l.delayed {
		if next.IsZero() || d.at.Before(next) {
			next = d.at
		}
	}

	if len(l.ready) == 0 {
		return nil, next, l, nil
	}
	job := l.ready[0]
	l.ready[0] = nil
	l.ready = l.ready[1:]
	if job.Kind.Coalesces() {
		delete(q.pending, job.Key)
	}
	return job, next, l, nil
}

func (q *MemoryQueue) Ack(context.Context, *Job) error { return nil }

func (q *MemoryQueue) Retry(_ context.Context, job *Job, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, err := q.lane(job.Kind)
	if err != nil {
		return err
	}
	l.delayed = append(l.delayed, delayedJob{at: at, job: job})
	notify(l.signal)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, err := q.lane(job.Kind)
	if err != nil {
		return err
	}
	l.dead = append(l.dead, job)
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, kind Kind, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, err := q.lane(kind)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(l.dead))
	for i := len(l.dead) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, l.dead[i])
	}
	return out, nil
}

// Len returns the number of ready and delayed jobs of kind.
func (q *MemoryQueue) Len(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[kind]
	if !ok {
		return 0
	}
	return len(l.ready) + len(l.delayed)
}

// Jobs returns the ready jobs of kind in delivery order without removing them.
func (q *MemoryQueue) Jobs(kind Kind) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[kind]
	if !ok {
		return nil
	}
	out := make([]*Job, len(l.ready))
	copy(out, l.ready)
	return out
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
