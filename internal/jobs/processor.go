// Package jobs implements the queue handlers that bring the Durable Record
// Store in line with the Counter Store, plus reconciliation and the periodic
// score refresh.
package jobs

import (
	"context"
	"time"

	"momentum/internal/counterstore"
	"momentum/internal/database"
	"momentum/internal/models"
	"momentum/internal/notifications"
	"momentum/internal/observability"
	"momentum/internal/queue"
	"momentum/internal/ranking"
	"momentum/internal/repository"
)

// ScoreWindow is how far back posts keep getting their recency term refreshed.
const ScoreWindow = 7 * 24 * time.Hour

// reconcileDeferral is how long an edge sync waits while a rebuild holds the
// reconcile lock.
const reconcileDeferral = 5 * time.Second

// Processor owns the handler for every job kind.
type Processor struct {
	store    counterstore.Store
	repos    *repository.Repositories
	queue    queue.Enqueuer
	notifier notifications.Dispatcher
	guard    Locker
	now      func() time.Time
}

// NewProcessor wires the handlers to their collaborators.
func NewProcessor(store counterstore.Store, repos *repository.Repositories, q queue.Enqueuer, notifier notifications.Dispatcher) *Processor {
	return &Processor{
		store:    store,
		repos:    repos,
		queue:    q,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithReconcileGuard makes the edge syncs back off while locker reports the
// reconcile lock as held. A rebuild clears the Counter Store sets these
// handlers read intent from.
func (p *Processor) WithReconcileGuard(locker Locker) *Processor {
	p.guard = locker
	return p
}

// Handlers is the dispatch table registered with the runner.
func (p *Processor) Handlers() queue.Handlers {
	return queue.Handlers{
		queue.KindSyncLike:         p.guarded(p.SyncLike),
		queue.KindSyncUnlike:       p.guarded(p.SyncUnlike),
		queue.KindSyncFollow:       p.guarded(p.SyncFollow),
		queue.KindSyncUnfollow:     p.guarded(p.SyncUnfollow),
		queue.KindSyncShare:        p.SyncShare,
		queue.KindUpdateFeed:       p.UpdateFeed,
		queue.KindSendNotification: p.SendNotification,
	}
}

func (p *Processor) guarded(h queue.Handler) queue.Handler {
	if p.guard == nil {
		return h
	}
	return func(ctx context.Context, job *queue.Job) error {
		held, err := p.guard.Held(ctx, reconcileLock)
		if err != nil {
			return storeErr(err)
		}
		if held {
			return queue.Defer(ErrLocked, reconcileDeferral)
		}
		return h(ctx, job)
	}
}

// classify marks integrity and data errors as permanent so the runner
// dead-letters them without spending retries.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if database.IsPermanent(err) {
		return queue.Permanent(err)
	}
	return err
}

func storeErr(err error) error {
	return models.NewTransientStoreError("counter store", err)
}

// SyncLike persists a like the Counter Store still holds. If the user has
// unliked in the meantime the row is left alone; the pending sync-unlike
// owns that direction.
func (p *Processor) SyncLike(ctx context.Context, job *queue.Job) error {
	return p.syncLike(ctx, job, true)
}

// SyncUnlike removes a like the Counter Store no longer holds.
func (p *Processor) SyncUnlike(ctx context.Context, job *queue.Job) error {
	return p.syncLike(ctx, job, false)
}

func (p *Processor) syncLike(ctx context.Context, job *queue.Job, liking bool) error {
	var payload queue.LikePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if payload.UserID == 0 || payload.TargetID == 0 {
		return queue.Permanent(models.NewValidationError("like payload needs user and target"))
	}

	edge := counterstore.PostLikeEdge(payload.UserID, payload.TargetID)
	if payload.Target == models.LikeTargetComment {
		edge = counterstore.CommentLikeEdge(payload.UserID, payload.TargetID)
	} else {
		payload.Target = models.LikeTargetPost
	}

	liked, err := p.store.IsMember(ctx, edge.Set, edge.Member)
	if err != nil {
		return storeErr(err)
	}

	switch {
	case liking && liked:
		if _, err := p.repos.Likes.Ensure(ctx, payload.Target, payload.UserID, payload.TargetID); err != nil {
			return classify(err)
		}
	case !liking && !liked:
		if _, err := p.repos.Likes.Remove(ctx, payload.Target, payload.UserID, payload.TargetID); err != nil {
			return classify(err)
		}
	}

	if payload.Target == models.LikeTargetComment {
		if _, err := p.repos.Comments.RecomputeCounters(ctx, payload.TargetID); err != nil {
			return classify(err)
		}
		return nil
	}

	if _, err := p.repos.Posts.RecomputeEngagement(ctx, payload.TargetID); err != nil {
		return classify(err)
	}
	p.enqueueFeedUpdate(ctx, queue.FeedPayload{PostID: payload.TargetID})
	return nil
}

// SyncFollow persists the follow edge in whichever state the Counter Store
// holds it: accepted, pending, or neither (left for sync-unfollow).
func (p *Processor) SyncFollow(ctx context.Context, job *queue.Job) error {
	return p.syncFollow(ctx, job, true)
}

// SyncUnfollow removes the edge once the Counter Store holds it in no state.
// It also serves rejected requests.
func (p *Processor) SyncUnfollow(ctx context.Context, job *queue.Job) error {
	return p.syncFollow(ctx, job, false)
}

func (p *Processor) syncFollow(ctx context.Context, job *queue.Job, following bool) error {
	var payload queue.FollowPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if payload.FollowerID == 0 || payload.FollowingID == 0 || payload.FollowerID == payload.FollowingID {
		return queue.Permanent(models.NewValidationError("invalid follow payload"))
	}

	accepted, err := p.store.IsMember(ctx, counterstore.FollowingKey(payload.FollowerID), counterstore.ID(payload.FollowingID))
	if err != nil {
		return storeErr(err)
	}
	pending, err := p.store.IsMember(ctx, counterstore.FollowRequestsKey(payload.FollowingID), counterstore.ID(payload.FollowerID))
	if err != nil {
		return storeErr(err)
	}

	switch {
	case following && accepted:
		err = p.repos.Follows.Upsert(ctx, payload.FollowerID, payload.FollowingID, models.FollowStatusAccepted)
	case following && pending:
		err = p.repos.Follows.Upsert(ctx, payload.FollowerID, payload.FollowingID, models.FollowStatusPending)
	case !following && !accepted && !pending:
		_, err = p.repos.Follows.Delete(ctx, payload.FollowerID, payload.FollowingID)
	}
	if err != nil {
		return classify(err)
	}

	for _, id := range []uint{payload.FollowerID, payload.FollowingID} {
		if _, err := p.repos.Users.RecomputeCounters(ctx, id); err != nil {
			return classify(err)
		}
	}

	// the follower's visible set changed
	if _, err := p.store.Incr(ctx, counterstore.FeedVersionKey(payload.FollowerID), 1); err != nil {
		return storeErr(err)
	}
	return nil
}

// SyncShare inserts the share row keyed by its ref, so replays are no-ops.
func (p *Processor) SyncShare(ctx context.Context, job *queue.Job) error {
	var payload queue.SharePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if payload.Ref == "" || payload.UserID == 0 || payload.PostID == 0 || !payload.ShareType.Valid() {
		return queue.Permanent(models.NewValidationError("invalid share payload"))
	}

	share := &models.Share{
		Ref:       payload.Ref,
		UserID:    payload.UserID,
		PostID:    payload.PostID,
		ShareType: payload.ShareType,
		Caption:   payload.Caption,
		Platform:  payload.Platform,
	}
	if _, err := p.repos.Shares.Ensure(ctx, share); err != nil {
		return classify(err)
	}
	if _, err := p.repos.Posts.RecomputeEngagement(ctx, payload.PostID); err != nil {
		return classify(err)
	}
	p.enqueueFeedUpdate(ctx, queue.FeedPayload{PostID: payload.PostID})
	return nil
}

// UpdateFeed recomputes and persists a post's counters and score and keeps
// its place in the ranked pools. For a user it refreshes their recent posts
// and bumps their feed cache generation.
func (p *Processor) UpdateFeed(ctx context.Context, job *queue.Job) error {
	var payload queue.FeedPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	switch {
	case payload.PostID != 0:
		return classify(p.RefreshPost(ctx, payload.PostID))
	case payload.UserID != 0:
		ids, err := p.repos.Posts.RecentIDsByAuthor(ctx, payload.UserID, p.now().Add(-ScoreWindow))
		if err != nil {
			return classify(err)
		}
		for _, id := range ids {
			if err := p.RefreshPost(ctx, id); err != nil {
				return classify(err)
			}
		}
		if _, err := p.store.Incr(ctx, counterstore.FeedVersionKey(payload.UserID), 1); err != nil {
			return storeErr(err)
		}
		return nil
	default:
		return queue.Permanent(models.NewValidationError("update-feed needs a post or a user"))
	}
}

// RefreshPost recomputes one post's durable counters and score and syncs
// the ranked pools.
func (p *Processor) RefreshPost(ctx context.Context, postID uint) error {
	post, err := p.repos.Posts.RecomputeEngagement(ctx, postID)
	if err != nil {
		return err
	}
	now := p.now()
	score := ranking.CalculateScore(post.Engagement(), post.CreatedAt, now)
	if err := p.repos.Posts.UpdateScore(ctx, postID, score, now); err != nil {
		return err
	}
	if err := syncPools(ctx, p.store, post, score); err != nil {
		return storeErr(err)
	}
	return nil
}

// syncPools keeps a post in the global and industry pools only while it is
// active and public; the pools are served to any viewer.
func syncPools(ctx context.Context, store counterstore.Store, post *models.Post, score float64) error {
	member := counterstore.ID(post.ID)
	keys := []string{counterstore.GlobalFeedKey}
	if post.Industry != "" {
		keys = append(keys, counterstore.IndustryFeedKey(post.Industry))
	}
	listed := post.IsActive && post.Visibility == models.VisibilityPublic
	for _, key := range keys {
		var err error
		if listed {
			err = store.ZAdd(ctx, key, member, score)
		} else {
			err = store.ZRem(ctx, key, member)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SendNotification hands the event to the dispatcher.
func (p *Processor) SendNotification(ctx context.Context, job *queue.Job) error {
	var payload queue.NotificationPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if payload.RecipientID == 0 || payload.RecipientID == payload.ActorID {
		return nil
	}
	return p.notifier.Dispatch(ctx, notifications.Event{
		Type:        payload.Type,
		RecipientID: payload.RecipientID,
		ActorID:     payload.ActorID,
		PostID:      payload.PostID,
		CommentID:   payload.CommentID,
	})
}

func (p *Processor) enqueueFeedUpdate(ctx context.Context, payload queue.FeedPayload) {
	if p.queue == nil {
		return
	}
	job, err := queue.NewJob(ctx, queue.KindUpdateFeed, queue.PostFeedKey(payload.PostID), payload)
	if err == nil {
		err = p.queue.Enqueue(ctx, job)
	}
	if err != nil {
		observability.EnqueueFailures.WithLabelValues(string(queue.KindUpdateFeed)).Inc()
		observability.LogAsyncOperationError(ctx, "enqueue_update_feed", err, map[string]interface{}{"post_id": payload.PostID})
	}
}
