package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"momentum/internal/cache"
	"momentum/internal/counterstore"
	"momentum/internal/jobs"
	"momentum/internal/models"
	"momentum/internal/notifications"
	"momentum/internal/queue"
	"momentum/internal/repository"
	"momentum/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(context.Context, notifications.Event) error { return nil }

type fixture struct {
	db    *gorm.DB
	repos *repository.Repositories
	store *counterstore.MemoryStore
	q     *queue.MemoryQueue
	deps  *Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		db:    db,
		repos: repository.New(db),
		store: counterstore.NewMemoryStore(),
		q:     queue.NewMemoryQueue(),
	}
	f.deps = &Deps{
		Store: f.store,
		Repos: f.repos,
		Queue: f.q,
		Cache: cache.New(rdb),
	}
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	proc := jobs.NewProcessor(f.store, f.repos, f.q, discardDispatcher{})
	runner, err := queue.NewRunner(f.q, proc.Handlers(), queue.RunnerConfig{MaxAttempts: 3})
	require.NoError(t, err)
	_, err = runner.Drain(context.Background())
	require.NoError(t, err)
}

func (f *fixture) post(t *testing.T, id uint) *models.Post {
	t.Helper()
	p, err := f.repos.Posts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

// downStore fails every call, as a Counter Store that lost its connection.
type downStore struct {
	counterstore.Store
}

var errStoreDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) (int64, error) { return 0, errStoreDown }
func (downStore) GetMany(context.Context, []string) (map[string]int64, error) {
	return nil, errStoreDown
}
func (downStore) Incr(context.Context, string, int64) (int64, error) { return 0, errStoreDown }
func (downStore) SeedCounter(context.Context, string, int64) (bool, error) { return false, errStoreDown }
func (downStore) IsMember(context.Context, string, string) (bool, error) { return false, errStoreDown }
func (downStore) Members(context.Context, string) ([]string, error) { return nil, errStoreDown }
func (downStore) AreMembers(context.Context, string, []string) ([]bool, error) {
	return nil, errStoreDown
}
func (downStore) Link(context.Context, counterstore.Edge) (bool, []int64, error) {
	return false, nil, errStoreDown
}
func (downStore) Unlink(context.Context, counterstore.Edge) (bool, []int64, error) {
	return false, nil, errStoreDown
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *queue.Job) error { return errors.New("broker unavailable") }

func TestPagination(t *testing.T) {
	tests := []struct {
		name              string
		page, limit       int
		wantPage, wantLim int
	}{
		{"defaults", 0, 0, 0, defaultPageLimit},
		{"negative page", -3, 10, 0, 10},
		{"capped", 2, 1000, 2, maxPageLimit},
		{"huge page", math.MaxInt / 20, 20, maxPage, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := Pagination(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLim, limit)
		})
	}
}

func TestHugePageReturnsEmptyPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	requester := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, requester)
	require.NoError(t, f.store.ZAdd(ctx, counterstore.GlobalFeedKey, counterstore.ID(post.ID), 1))

	svc := NewEngagementService(f.deps)
	_, err := svc.Follow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)

	const page = 461168601842738791
	requests, err := svc.FollowRequests(ctx, owner.ID, page, 20)
	require.NoError(t, err)
	assert.Empty(t, requests.Data)
	assert.Equal(t, int64(1), requests.Total)

	feed, err := NewFeedService(f.deps, FeedConfig{}).Feed(ctx, FeedRequest{Scope: ScopeTrending, Page: page, Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, feed.Data)
	assert.Equal(t, maxPage, feed.Page)

	repos := *f.repos
	repos.Posts = slowPosts{PostRepository: f.repos.Posts}
	f.deps.Repos = &repos
	slow := NewFeedService(f.deps, FeedConfig{QueryTimeout: 20 * time.Millisecond})
	feed, err = slow.Feed(ctx, FeedRequest{ViewerID: owner.ID, Scope: ScopePersonal, Page: page, Limit: 20})
	require.NoError(t, err)
	assert.True(t, feed.Degraded)
	assert.Empty(t, feed.Data)
}

func TestVisiblePost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	follower := testutil.CreateUser(t, f.db)
	stranger := testutil.CreateUser(t, f.db)
	followersOnly := testutil.CreatePost(t, f.db, author, func(p *models.Post) { p.Visibility = models.VisibilityFollowers })
	private := testutil.CreatePost(t, f.db, author, func(p *models.Post) { p.Visibility = models.VisibilityPrivate })
	inactive := testutil.CreatePost(t, f.db, author, func(p *models.Post) { p.IsActive = false })

	_, _, err := f.store.Link(ctx, counterstore.FollowEdge(follower.ID, author.ID))
	require.NoError(t, err)

	_, err = f.deps.visiblePost(ctx, follower.ID, followersOnly.ID)
	assert.NoError(t, err)
	_, err = f.deps.visiblePost(ctx, stranger.ID, followersOnly.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	_, err = f.deps.visiblePost(ctx, follower.ID, private.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	_, err = f.deps.visiblePost(ctx, author.ID, private.ID)
	assert.NoError(t, err)
	_, err = f.deps.visiblePost(ctx, author.ID, inactive.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	_, err = f.deps.visiblePost(ctx, author.ID, 0)
	assert.True(t, models.HasCode(err, models.CodeValidation))
}
