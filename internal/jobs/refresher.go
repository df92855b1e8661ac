package jobs

import (
	"context"
	"errors"
	"time"

	"momentum/internal/observability"
	"momentum/internal/queue"
	"momentum/internal/repository"
)

const refreshLock = "score-refresh"

// ScoreRefresher periodically enqueues update-feed for recent posts so the
// recency term keeps decaying even when nobody engages.
type ScoreRefresher struct {
	posts  repository.PostRepository
	queue  queue.Enqueuer
	locker Locker
	now    func() time.Time
}

// NewScoreRefresher builds a refresher.
func NewScoreRefresher(posts repository.PostRepository, q queue.Enqueuer, locker Locker) *ScoreRefresher {
	return &ScoreRefresher{posts: posts, queue: q, locker: locker, now: time.Now}
}

// Run refreshes every interval until ctx is done.
func (s *ScoreRefresher) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RefreshOnce(ctx, interval); err != nil && !errors.Is(err, ErrLocked) {
				observability.LogAsyncOperationError(ctx, "score_refresh", err, nil)
			}
		}
	}
}

// RefreshOnce enqueues one update-feed per post created within ScoreWindow
// and returns how many were enqueued. Only one process does this per
// interval.
func (s *ScoreRefresher) RefreshOnce(ctx context.Context, interval time.Duration) (int, error) {
	unlock, err := s.locker.TryLock(ctx, refreshLock, interval)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ids, err := s.posts.RecentIDs(ctx, s.now().Add(-ScoreWindow))
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, id := range ids {
		job, err := queue.NewJob(ctx, queue.KindUpdateFeed, queue.PostFeedKey(id), queue.FeedPayload{PostID: id})
		if err != nil {
			return enqueued, err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			observability.EnqueueFailures.WithLabelValues(string(queue.KindUpdateFeed)).Inc()
			return enqueued, err
		}
		enqueued++
	}
	observability.GlobalLogger.InfoContext(ctx, "score refresh enqueued", "posts", enqueued)
	return enqueued, nil
}
