package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"momentum/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	base, maxDelay := 500*time.Millisecond, 3*time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second},
		{10, 3 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, base, maxDelay), "attempt %d", tt.attempt)
	}
}

func newTestRunner(t *testing.T, q Queue, handlers Handlers, maxAttempts int) *Runner {
	t.Helper()
	r, err := NewRunner(q, handlers, RunnerConfig{MaxAttempts: maxAttempts})
	require.NoError(t, err)
	return r
}

func TestRunner_RetriesThenDeadLetters(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	var calls int32
	storeDown := models.NewTransientStoreError("database", errors.New("connection refused"))

	var deadCause error
	r, err := NewRunner(q, Handlers{
		KindSyncLike: func(ctx context.Context, job *Job) error {
			atomic.AddInt32(&calls, 1)
			return storeDown
		},
	}, RunnerConfig{
		MaxAttempts:  4,
		OnDeadLetter: func(_ context.Context, _ *Job, err error) { deadCause = err },
	})
	require.NoError(t, err)

	job := likeJob(t, 1, 1)
	require.NoError(t, q.Enqueue(ctx, job))

	processed, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, 4, dead[0].Attempt)
	assert.NotEmpty(t, dead[0].LastError)
	assert.NotNil(t, dead[0].FailedAt)
	assert.True(t, models.HasCode(deadCause, models.CodeQueueExhausted))
	assert.Equal(t, 0, q.Len(KindSyncLike))

	// nothing left to retry
	processed, err = r.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestRunner_RecoversAfterTransientFailure(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	var calls int32
	r := newTestRunner(t, q, Handlers{
		KindSyncLike: func(ctx context.Context, job *Job) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("timeout")
			}
			return nil
		},
	}, 5)

	require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
	_, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestRunner_PermanentErrorSkipsRetries(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	var calls int32
	r := newTestRunner(t, q, Handlers{
		KindSyncLike: func(ctx context.Context, job *Job) error {
			atomic.AddInt32(&calls, 1)
			return models.NewNotFoundError("Post", 1)
		},
	}, 5)

	require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
	_, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestRunner_PanicIsAFailedAttempt(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	r := newTestRunner(t, q, Handlers{
		KindSyncLike: func(ctx context.Context, job *Job) error { panic("nil map") },
	}, 2)

	require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
	processed, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "nil map")
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue()
	done := make(chan struct{}, 1)
	r, err := NewRunner(q, Handlers{
		KindSyncFollow: func(ctx context.Context, job *Job) error {
			done <- struct{}{}
			return nil
		},
	}, RunnerConfig{MaxAttempts: 1, Concurrency: 2, PollWait: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(stopped)
	}()

	job, err := NewJob(ctx, KindSyncFollow, FollowKey(1, 2), FollowPayload{FollowerID: 1, FollowingID: 2})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNewRunner_RejectsUnknownKind(t *testing.T) {
	_, err := NewRunner(NewMemoryQueue(), Handlers{
		Kind("sync-bookmark"): func(context.Context, *Job) error { return nil },
	}, RunnerConfig{})
	assert.Error(t, err)
}

func TestRunner_DeferDoesNotSpendAttempts(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	var calls int32
	busy := errors.New("reconcile running")
	r := newTestRunner(t, q, Handlers{
		KindSyncLike: func(ctx context.Context, job *Job) error {
			if atomic.AddInt32(&calls, 1) <= 4 {
				return Defer(busy, 0)
			}
			return nil
		},
	}, 2)

	require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
	processed, err := r.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, processed)

	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
	assert.Equal(t, 0, q.Len(KindSyncLike))
}

func TestDeferral(t *testing.T) {
	_, ok := Deferral(errors.New("plain"))
	assert.False(t, ok)
	assert.Nil(t, Defer(nil, time.Second))

	after, ok := Deferral(fmt.Errorf("wrapped: %w", Defer(errors.New("busy"), 3*time.Second)))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, after)
}
