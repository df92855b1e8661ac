package queue

import (
	"context"
	"testing"
	"time"

	"momentum/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drivers(t *testing.T) map[string]Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Queue{
		"memory": NewMemoryQueue(),
		"redis":  NewRedisQueue(rdb),
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, q Queue)) {
	for name, q := range drivers(t) {
		q := q
		t.Run(name, func(t *testing.T) { fn(t, q) })
	}
}

func likeJob(t *testing.T, userID, postID uint) *Job {
	t.Helper()
	job, err := NewJob(context.Background(), KindSyncLike, LikeKey(models.LikeTargetPost, postID, userID), LikePayload{
		UserID: userID, TargetID: postID, PostID: postID, Target: models.LikeTargetPost,
	})
	require.NoError(t, err)
	return job
}

func TestQueue_FIFOAndAck(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		first := likeJob(t, 1, 10)
		second := likeJob(t, 2, 10)
		require.NoError(t, q.Enqueue(ctx, first))
		require.NoError(t, q.Enqueue(ctx, second))

		got, err := q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first.ID, got.ID)

		var payload LikePayload
		require.NoError(t, got.Decode(&payload))
		assert.Equal(t, uint(1), payload.UserID)
		require.NoError(t, q.Ack(ctx, got))

		got, err = q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second.ID, got.ID)

		got, err = q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestQueue_RetryHonoursSchedule(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))

		job, err := q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		job.Attempt = 1
		require.NoError(t, q.Retry(ctx, job, time.Now().Add(time.Hour)))

		got, err := q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		assert.Nil(t, got, "job scheduled in the future must not be delivered")

		job2 := likeJob(t, 2, 2)
		require.NoError(t, q.Enqueue(ctx, job2))
		got, err = q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NoError(t, q.Retry(ctx, got, time.Now().Add(-time.Second)))

		got, err = q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job2.ID, got.ID)
	})
}

func TestQueue_DeadLetters(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
		job, err := q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		job.Attempt = 3
		job.LastError = "boom"
		require.NoError(t, q.DeadLetter(ctx, job))

		dead, err := q.DeadLetters(ctx, KindSyncLike, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, job.ID, dead[0].ID)
		assert.Equal(t, 3, dead[0].Attempt)
		assert.Equal(t, "boom", dead[0].LastError)

		got, err := q.Dequeue(ctx, KindSyncLike, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestQueue_UpdateFeedCoalesces(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			job, err := NewJob(ctx, KindUpdateFeed, PostFeedKey(5), FeedPayload{PostID: 5})
			require.NoError(t, err)
			require.NoError(t, q.Enqueue(ctx, job))
		}

		got, err := q.Dequeue(ctx, KindUpdateFeed, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		got, err = q.Dequeue(ctx, KindUpdateFeed, 0)
		require.NoError(t, err)
		assert.Nil(t, got)

		// once picked up, a new request for the same key is accepted again
		job, err := NewJob(ctx, KindUpdateFeed, PostFeedKey(5), FeedPayload{PostID: 5})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, job))
		got, err = q.Dequeue(ctx, KindUpdateFeed, 0)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestQueue_DequeueWaitsForEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, likeJob(t, 1, 1))
	}()
	got, err := q.Dequeue(ctx, KindSyncLike, 2*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestQueue_DequeueRespectsContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx, KindSyncLike, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue_Recover(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(rdb)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, likeJob(t, 1, 1)))
	job, err := q.Dequeue(ctx, KindSyncLike, 0)
	require.NoError(t, err)
	require.NotNil(t, job)

	// another replica starting up must not steal a job that is still leased
	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	// the worker died without acking and its lease ran out
	q.now = func() time.Time { return time.Now().Add(DefaultVisibilityTimeout + time.Minute) }
	moved, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again, err := q.Dequeue(ctx, KindSyncLike, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	require.NoError(t, q.Ack(ctx, again))

	n, err := q.Len(ctx, KindSyncLike)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.False(t, mr.Exists(leaseKey(KindSyncLike)))
}

func TestRedisQueue_RecoverLeasesUnleasedEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(rdb)
	ctx := context.Background()

	job := likeJob(t, 1, 1)
	data, err := job.marshal()
	require.NoError(t, err)
	// a worker moved the job but crashed before taking its lease
	require.NoError(t, rdb.LPush(ctx, processingKey(KindSyncLike), data).Err())

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	q.now = func() time.Time { return time.Now().Add(DefaultVisibilityTimeout + time.Minute) }
	moved, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}

func TestRedisQueue_FailedPushKeepsKeyOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(rdb)
	ctx := context.Background()

	// a wrong-typed ready key makes LPUSH fail
	require.NoError(t, mr.Set(readyKey(KindUpdateFeed), "not a list"))
	job, err := NewJob(ctx, KindUpdateFeed, PostFeedKey(5), FeedPayload{PostID: 5})
	require.NoError(t, err)
	assert.Error(t, q.Enqueue(ctx, job))
	assert.False(t, mr.Exists(pendingKey(PostFeedKey(5))))

	mr.Del(readyKey(KindUpdateFeed))
	job, err = NewJob(ctx, KindUpdateFeed, PostFeedKey(5), FeedPayload{PostID: 5})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job))
	got, err := q.Dequeue(ctx, KindUpdateFeed, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestNewJob(t *testing.T) {
	_, err := NewJob(context.Background(), Kind("sync-everything"), "k", nil)
	assert.Error(t, err)

	job, err := NewJob(context.Background(), KindSyncFollow, FollowKey(1, 2), FollowPayload{FollowerID: 1, FollowingID: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "follow:1:2", job.Key)

	job.Payload = []byte("{not json")
	var p FollowPayload
	err = job.Decode(&p)
	assert.True(t, IsPermanent(err))
}
