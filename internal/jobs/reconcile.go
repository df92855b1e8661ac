package jobs

import (
	"context"
	"fmt"
	"time"

	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/observability"
	"momentum/internal/ranking"
	"momentum/internal/repository"
)

const (
	reconcileLock    = "reconcile"
	reconcileLockTTL = 10 * time.Minute
	reconcileBatch   = 500
)

// Report summarizes one Rebuild.
type Report struct {
	Users             int           `json:"users"`
	Posts             int           `json:"posts"`
	Comments          int           `json:"comments"`
	Likes             int           `json:"likes"`
	CommentLikes      int           `json:"comment_likes"`
	Follows           int           `json:"follows"`
	CountersCorrected int           `json:"counters_corrected"`
	Duration          time.Duration `json:"duration"`
}

// Mismatch is one counter that disagrees with its records.
type Mismatch struct {
	Entity  string `json:"entity"`
	ID      uint   `json:"id"`
	Field   string `json:"field"`
	Live    int64  `json:"live"`
	Durable int64  `json:"durable"`
	Records int64  `json:"records"`
}

// Reconciler regenerates counters from the authoritative records. It is the
// recovery path for any drift between the two stores.
type Reconciler struct {
	store  counterstore.Store
	repos  *repository.Repositories
	locker Locker
	drain  func(context.Context) (int, error)
	now    func() time.Time
}

// NewReconciler builds a reconciler.
func NewReconciler(store counterstore.Store, repos *repository.Repositories, locker Locker) *Reconciler {
	return &Reconciler{store: store, repos: repos, locker: locker, now: time.Now}
}

// WithDrain runs drain before each Rebuild so queued syncs land in the
// records before the Counter Store sets are cleared.
func (r *Reconciler) WithDrain(drain func(context.Context) (int, error)) *Reconciler {
	r.drain = drain
	return r
}

// Rebuild recomputes every durable denormalized counter from records, then
// clears and regenerates every Counter Store set, counter and ranked pool.
// Edge syncs are deferred while it runs. A toggle made mid-rebuild can
// still be dropped from both stores, so run it during low traffic.
func (r *Reconciler) Rebuild(ctx context.Context) (*Report, error) {
	if r.drain != nil {
		n, err := r.drain(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile drain: %w", err)
		}
		observability.GlobalLogger.InfoContext(ctx, "reconcile drained queue", "jobs", n)
	}

	unlock, err := r.locker.TryLock(ctx, reconcileLock, reconcileLockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := r.now()
	rep := &Report{}
	logger := observability.GlobalLogger
	logger.InfoContext(ctx, "reconcile started")

	if err := r.rebuildUsers(ctx, rep); err != nil {
		return nil, fmt.Errorf("reconcile users: %w", err)
	}
	if err := r.rebuildPosts(ctx, rep); err != nil {
		return nil, fmt.Errorf("reconcile posts: %w", err)
	}
	if err := r.rebuildComments(ctx, rep); err != nil {
		return nil, fmt.Errorf("reconcile comments: %w", err)
	}
	if err := r.replayEdges(ctx, rep); err != nil {
		return nil, fmt.Errorf("reconcile edges: %w", err)
	}

	rep.Duration = r.now().Sub(start)
	logger.InfoContext(ctx, "reconcile finished",
		"users", rep.Users,
		"posts", rep.Posts,
		"comments", rep.Comments,
		"likes", rep.Likes,
		"follows", rep.Follows,
		"counters_corrected", rep.CountersCorrected,
		"duration", rep.Duration.String(),
	)
	return rep, nil
}

// setCounter overwrites key with want and counts a correction when the
// durable or live value disagreed.
func (r *Reconciler) setCounter(ctx context.Context, rep *Report, entity, key string, durableBefore, want int64) error {
	live, err := r.store.GetMany(ctx, []string{key})
	if err != nil {
		return err
	}
	current, present := live[key]
	if durableBefore != want || !present || current != want {
		rep.CountersCorrected++
		observability.ReconcileCorrections.WithLabelValues(entity).Inc()
	}
	return r.store.SetCounter(ctx, key, want)
}

func (r *Reconciler) rebuildUsers(ctx context.Context, rep *Report) error {
	var after uint
	for {
		users, err := r.repos.Users.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}
		for _, u := range users {
			after = u.ID
			if err := r.store.Delete(ctx,
				counterstore.UserLikedPostsKey(u.ID),
				counterstore.UserLikedCommentsKey(u.ID),
				counterstore.FollowingKey(u.ID),
				counterstore.FollowersKey(u.ID),
				counterstore.FollowRequestsKey(u.ID),
				counterstore.RequestedKey(u.ID),
			); err != nil {
				return err
			}
			updated, err := r.repos.Users.RecomputeCounters(ctx, u.ID)
			if err != nil {
				return err
			}
			if err := r.setCounter(ctx, rep, "user", counterstore.FollowersCountKey(u.ID), u.FollowersCount, updated.FollowersCount); err != nil {
				return err
			}
			if err := r.setCounter(ctx, rep, "user", counterstore.FollowingCountKey(u.ID), u.FollowingCount, updated.FollowingCount); err != nil {
				return err
			}
			rep.Users++
		}
	}
}

func (r *Reconciler) rebuildPosts(ctx context.Context, rep *Report) error {
	cleared := map[string]bool{}
	clearPool := func(key string) error {
		if cleared[key] {
			return nil
		}
		cleared[key] = true
		return r.store.Delete(ctx, key)
	}
	if err := clearPool(counterstore.GlobalFeedKey); err != nil {
		return err
	}

	var after uint
	for {
		posts, err := r.repos.Posts.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			return nil
		}
		for _, p := range posts {
			after = p.ID
			if p.Industry != "" {
				if err := clearPool(counterstore.IndustryFeedKey(p.Industry)); err != nil {
					return err
				}
			}
			if err := r.store.Delete(ctx, counterstore.PostLikersKey(p.ID)); err != nil {
				return err
			}
			updated, err := r.repos.Posts.RecomputeEngagement(ctx, p.ID)
			if err != nil {
				return err
			}
			counters := []struct {
				key           string
				before, after int64
			}{
				{counterstore.PostLikesKey(p.ID), p.LikesCount, updated.LikesCount},
				{counterstore.PostCommentsKey(p.ID), p.CommentsCount, updated.CommentsCount},
				{counterstore.PostSharesKey(p.ID), p.SharesCount, updated.SharesCount},
			}
			for _, c := range counters {
				if err := r.setCounter(ctx, rep, "post", c.key, c.before, c.after); err != nil {
					return err
				}
			}

			now := r.now()
			score := ranking.CalculateScore(updated.Engagement(), updated.CreatedAt, now)
			if err := r.repos.Posts.UpdateScore(ctx, p.ID, score, now); err != nil {
				return err
			}
			if err := syncPools(ctx, r.store, updated, score); err != nil {
				return err
			}
			rep.Posts++
		}
	}
}

func (r *Reconciler) rebuildComments(ctx context.Context, rep *Report) error {
	var after uint
	for {
		comments, err := r.repos.Comments.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(comments) == 0 {
			return nil
		}
		for _, c := range comments {
			after = c.ID
			if err := r.store.Delete(ctx, counterstore.CommentLikersKey(c.ID)); err != nil {
				return err
			}
			updated, err := r.repos.Comments.RecomputeCounters(ctx, c.ID)
			if err != nil {
				return err
			}
			if err := r.setCounter(ctx, rep, "comment", counterstore.CommentLikesKey(c.ID), c.LikesCount, updated.LikesCount); err != nil {
				return err
			}
			rep.Comments++
		}
	}
}

// replayEdges regenerates every membership set from the edge tables.
func (r *Reconciler) replayEdges(ctx context.Context, rep *Report) error {
	var after uint
	for {
		likes, err := r.repos.Likes.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(likes) == 0 {
			break
		}
		for _, l := range likes {
			after = l.ID
			if err := addEdge(ctx, r.store, counterstore.PostLikeEdge(l.UserID, l.PostID)); err != nil {
				return err
			}
			rep.Likes++
		}
	}

	after = 0
	for {
		likes, err := r.repos.Likes.ListCommentBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(likes) == 0 {
			break
		}
		for _, l := range likes {
			after = l.ID
			if err := addEdge(ctx, r.store, counterstore.CommentLikeEdge(l.UserID, l.CommentID)); err != nil {
				return err
			}
			rep.CommentLikes++
		}
	}

	after = 0
	for {
		follows, err := r.repos.Follows.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return err
		}
		if len(follows) == 0 {
			return nil
		}
		for _, f := range follows {
			after = f.ID
			edge := counterstore.FollowEdge(f.FollowerID, f.FollowingID)
			if f.Status == models.FollowStatusPending {
				edge = counterstore.FollowRequestEdge(f.FollowerID, f.FollowingID)
			}
			if err := addEdge(ctx, r.store, edge); err != nil {
				return err
			}
			rep.Follows++
		}
	}
}

// addEdge restores membership without touching counters, which were
// already set from durable counts.
func addEdge(ctx context.Context, store counterstore.Store, e counterstore.Edge) error {
	if err := store.AddMembers(ctx, e.Set, e.Member); err != nil {
		return err
	}
	return store.AddMembers(ctx, e.Mirror, e.MirrorMember)
}

// Check compares live and durable counters against record counts without
// writing anything.
func (r *Reconciler) Check(ctx context.Context) ([]Mismatch, error) {
	var out []Mismatch
	check := func(entity string, id uint, field, key string, durable, records int64) error {
		live, err := r.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if live != records || durable != records {
			out = append(out, Mismatch{Entity: entity, ID: id, Field: field, Live: live, Durable: durable, Records: records})
		}
		return nil
	}

	var after uint
	for {
		posts, err := r.repos.Posts.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return nil, err
		}
		if len(posts) == 0 {
			break
		}
		for _, p := range posts {
			after = p.ID
			counts, err := r.repos.Posts.CountEngagement(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			if err := check("post", p.ID, "likes", counterstore.PostLikesKey(p.ID), p.LikesCount, counts.Likes); err != nil {
				return nil, err
			}
			if err := check("post", p.ID, "comments", counterstore.PostCommentsKey(p.ID), p.CommentsCount, counts.Comments); err != nil {
				return nil, err
			}
			if err := check("post", p.ID, "shares", counterstore.PostSharesKey(p.ID), p.SharesCount, counts.Shares); err != nil {
				return nil, err
			}
		}
	}

	after = 0
	for {
		comments, err := r.repos.Comments.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return nil, err
		}
		if len(comments) == 0 {
			break
		}
		for _, c := range comments {
			after = c.ID
			likes, err := r.repos.Likes.Count(ctx, models.LikeTargetComment, c.ID)
			if err != nil {
				return nil, err
			}
			if err := check("comment", c.ID, "likes", counterstore.CommentLikesKey(c.ID), c.LikesCount, likes); err != nil {
				return nil, err
			}
		}
	}

	after = 0
	for {
		users, err := r.repos.Users.ListBatch(ctx, after, reconcileBatch)
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			break
		}
		for _, u := range users {
			after = u.ID
			followers, following, err := r.repos.Users.CountFollows(ctx, u.ID)
			if err != nil {
				return nil, err
			}
			if err := check("user", u.ID, "followers", counterstore.FollowersCountKey(u.ID), u.FollowersCount, followers); err != nil {
				return nil, err
			}
			if err := check("user", u.ID, "following", counterstore.FollowingCountKey(u.ID), u.FollowingCount, following); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
