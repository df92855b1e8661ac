package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryTier(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  time.Duration
	}{
		{0, time.Second},
		{-time.Second, time.Second},
		{500 * time.Millisecond, time.Second},
		{time.Second, time.Second},
		{2 * time.Second, 5 * time.Second},
		{16 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{3 * time.Minute, 10 * time.Minute},
		{24 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, retryTier(tt.delay))
		})
	}
}

func TestRetryQueueArgs(t *testing.T) {
	args := retryQueueArgs(KindSyncLike, 30*time.Second)
	assert.Equal(t, int64(30000), args["x-message-ttl"])
	assert.Equal(t, "", args["x-dead-letter-exchange"])
	assert.Equal(t, workQueue(KindSyncLike), args["x-dead-letter-routing-key"])

	names := map[string]bool{}
	for _, tier := range retryTiers {
		names[retryQueue(KindSyncLike, tier)] = true
	}
	assert.Len(t, names, len(retryTiers))
	assert.Equal(t, "momentum.sync-like.retry.5s", retryQueue(KindSyncLike, 5*time.Second))
}

// TestRabbitQueue_RoundTrip needs a broker; set RABBITMQ_URL to run it.
func TestRabbitQueue_RoundTrip(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	q, err := NewRabbitQueue(url, 5)
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	job := likeJob(t, 1, 1)
	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, KindSyncLike, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	got.Attempt = 1
	require.NoError(t, q.Retry(ctx, got, time.Now()))
	again, err := q.Dequeue(ctx, KindSyncLike, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)

	require.NoError(t, q.DeadLetter(ctx, again))
	dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(dead))
	for _, d := range dead {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, job.ID)
}
