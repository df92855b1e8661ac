// Package service implements the engagement write path and the feed read
// path on top of the Counter Store, the repositories and the sync queue.
package service

import (
	"context"
	"math"
	"time"

	"momentum/internal/cache"
	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/observability"
	"momentum/internal/queue"
	"momentum/internal/ranking"
	"momentum/internal/repository"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// maxPage keeps page*limit inside a 32-bit SQL offset.
	maxPage = math.MaxInt32 / maxPageLimit
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store counterstore.Store
	Repos *repository.Repositories
	Queue queue.Enqueuer
	Cache *cache.Cache
	// PostTTL bounds how long a post existence check is cached.
	PostTTL time.Duration
}

func (d *Deps) postTTL() time.Duration {
	if d.PostTTL <= 0 {
		return cache.PostTTL
	}
	return d.PostTTL
}

func storeErr(err error) error {
	return models.NewTransientStoreError("counter store", err)
}

// visiblePost loads an active post the viewer may see. A post the viewer
// may not see is reported as missing.
func (d *Deps) visiblePost(ctx context.Context, viewerID, postID uint) (*models.Post, error) {
	if postID == 0 {
		return nil, models.NewValidationError("post id is required")
	}
	var post models.Post
	err := d.Cache.Aside(ctx, cache.PostKey(postID), &post, d.postTTL(), func() error {
		p, err := d.Repos.Posts.GetActive(ctx, postID)
		if err != nil {
			return err
		}
		post = *p
		return nil
	})
	if err != nil {
		return nil, err
	}

	follows := false
	if post.Visibility == models.VisibilityFollowers && viewerID != 0 && viewerID != post.UserID {
		follows, err = d.Store.IsMember(ctx, counterstore.FollowingKey(viewerID), counterstore.ID(post.UserID))
		if err != nil {
			return nil, storeErr(err)
		}
	}
	if !ranking.CanView(viewerID, &post, follows) {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return &post, nil
}

// enqueue hands a job to the queue. A failure is logged and counted but
// never returned: the Counter Store write already succeeded and the
// reconciler closes the gap.
func (d *Deps) enqueue(ctx context.Context, kind queue.Kind, key string, payload interface{}) {
	if d.Queue == nil {
		return
	}
	job, err := queue.NewJob(ctx, kind, key, payload)
	if err == nil {
		err = d.Queue.Enqueue(ctx, job)
	}
	if err != nil {
		observability.EnqueueFailures.WithLabelValues(string(kind)).Inc()
		observability.LogAsyncOperationError(ctx, "enqueue", err, map[string]interface{}{
			"kind": string(kind),
			"key":  key,
		})
	}
}

func (d *Deps) notify(ctx context.Context, p queue.NotificationPayload) {
	if p.RecipientID == 0 || p.RecipientID == p.ActorID {
		return
	}
	d.enqueue(ctx, queue.KindSendNotification, queue.NotificationKey(p), p)
}

func (d *Deps) feedUpdate(ctx context.Context, postID uint) {
	d.enqueue(ctx, queue.KindUpdateFeed, queue.PostFeedKey(postID), queue.FeedPayload{PostID: postID})
}

func recordWrite(action string, changed bool) {
	effect := "noop"
	if changed {
		effect = "changed"
	}
	observability.EngagementWrites.WithLabelValues(action, effect).Inc()
}

// Pagination normalizes a zero-based page and a limit.
func Pagination(page, limit int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > maxPage {
		page = maxPage
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
