package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"momentum/internal/cache"
	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/observability"
	"momentum/internal/ranking"
	"momentum/internal/repository"
)

// FeedScope selects the candidate filter of a feed.
type FeedScope string

const (
	ScopePersonal FeedScope = "personal"
	ScopeTrending FeedScope = "trending"
	ScopeIndustry FeedScope = "industry"
	ScopeUser     FeedScope = "user"
)

const (
	trendingWindow = 24 * time.Hour
	poolPageLimit  = 10
)

// FeedConfig tunes the feed pipeline.
type FeedConfig struct {
	CacheTTL         time.Duration
	StaleTTL         time.Duration
	QueryTimeout     time.Duration
	MaxCandidates    int
	DefaultTimeRange time.Duration
}

func (c *FeedConfig) setDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = 10 * time.Minute
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 2 * time.Second
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 1000
	}
	if c.DefaultTimeRange <= 0 {
		c.DefaultTimeRange = 7 * 24 * time.Hour
	}
}

// FeedRequest describes one feed page. Industry is required for
// ScopeIndustry and AuthorID for ScopeUser.
type FeedRequest struct {
	ViewerID  uint
	Scope     FeedScope
	Page      int
	Limit     int
	Algorithm string
	TimeRange string
	Industry  string
	AuthorID  uint
}

type feedQuery struct {
	FeedRequest
	algo   ranking.Algorithm
	window time.Duration
}

func (q *feedQuery) variant() string {
	filter := "-"
	switch q.Scope {
	case ScopeIndustry:
		filter = q.Industry
	case ScopeUser:
		filter = fmt.Sprintf("%d", q.AuthorID)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d", q.Scope, q.algo, q.window, filter, q.Page, q.Limit)
}

// FeedService runs the feed pipeline: collect, filter by visibility, score,
// merge live counters, sort, paginate.
type FeedService struct {
	*Deps
	cfg FeedConfig
	now func() time.Time
}

// NewFeedService returns a new FeedService.
func NewFeedService(deps *Deps, cfg FeedConfig) *FeedService {
	cfg.setDefaults()
	return &FeedService{Deps: deps, cfg: cfg, now: time.Now}
}

func (s *FeedService) normalize(req FeedRequest) (*feedQuery, error) {
	q := &feedQuery{FeedRequest: req}
	q.Page, q.Limit = Pagination(req.Page, req.Limit)

	algo, err := ranking.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return nil, err
	}
	q.algo = algo

	def := s.cfg.DefaultTimeRange
	switch req.Scope {
	case ScopePersonal:
	case ScopeTrending:
		def = trendingWindow
	case ScopeIndustry:
		q.Industry = strings.ToLower(strings.TrimSpace(req.Industry))
		if q.Industry == "" {
			return nil, models.NewValidationError("industry is required")
		}
	case ScopeUser:
		if req.AuthorID == 0 {
			return nil, models.NewValidationError("user id is required")
		}
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unknown feed scope %q", req.Scope))
	}
	q.window, err = ranking.ParseTimeRange(req.TimeRange, def)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Feed returns one page of the requested feed. Computed pages are cached per
// viewer generation; when the candidate query times out the last good copy
// or the ranked pool is served instead, flagged as degraded.
func (s *FeedService) Feed(ctx context.Context, req FeedRequest) (models.Page[models.FeedItem], error) {
	q, err := s.normalize(req)
	if err != nil {
		return models.Page[models.FeedItem]{}, err
	}
	scope := string(q.Scope)
	variant := q.variant()
	key := cache.FeedKey(q.ViewerID, s.generation(ctx, q.ViewerID), variant)

	var cached models.Page[models.FeedItem]
	if found, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && found {
		s.overlay(ctx, q.ViewerID, cached.Data)
		observability.FeedRequests.WithLabelValues(scope, "cache").Inc()
		return cached, nil
	}

	page, err := s.compute(ctx, q)
	if err != nil {
		if !degradable(err) {
			return models.Page[models.FeedItem]{}, err
		}
		observability.GlobalLogger.WarnContext(ctx, "feed query degraded",
			"scope", scope, "viewer_id", q.ViewerID, "error", err.Error())
		return s.degraded(ctx, q, variant, err)
	}

	_ = s.Cache.SetJSON(ctx, key, page, s.cfg.CacheTTL)
	_ = s.Cache.SetJSON(ctx, cache.FeedStaleKey(q.ViewerID, variant), page, s.cfg.StaleTTL)
	observability.FeedRequests.WithLabelValues(scope, "computed").Inc()
	return page, nil
}

// InvalidateFeed forces the next feed request of userID to recompute.
func (s *FeedService) InvalidateFeed(ctx context.Context, userID uint) (int64, error) {
	if userID == 0 {
		return 0, models.NewUnauthorizedError("authentication required")
	}
	gen, err := s.Store.Incr(ctx, counterstore.FeedVersionKey(userID), 1)
	if err != nil {
		return 0, storeErr(err)
	}
	return gen, nil
}

func (s *FeedService) generation(ctx context.Context, viewerID uint) int64 {
	gen, err := s.Store.Get(ctx, counterstore.FeedVersionKey(viewerID))
	if err != nil {
		observability.LogAsyncOperationError(ctx, "feed_generation", err, map[string]interface{}{"viewer_id": viewerID})
		return 0
	}
	return gen
}

func degradable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || models.HasCode(err, models.CodeTransientStore)
}

func (s *FeedService) stage(ctx context.Context, q *feedQuery, stage string, n int) {
	observability.FeedCandidates.WithLabelValues(string(q.Scope), stage).Observe(float64(n))
	observability.GlobalLogger.DebugContext(ctx, "feed stage",
		"scope", string(q.Scope), "stage", stage, "count", n, "viewer_id", q.ViewerID)
}

func (s *FeedService) compute(ctx context.Context, q *feedQuery) (models.Page[models.FeedItem], error) {
	now := s.now()
	cq := repository.CandidateQuery{
		Since: now.Add(-q.window),
		Limit: s.cfg.MaxCandidates,
	}
	switch q.Scope {
	case ScopePersonal:
		cq.ExcludeAuthorID = q.ViewerID
	case ScopeIndustry:
		cq.Industry = q.Industry
	case ScopeUser:
		cq.AuthorID = q.AuthorID
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	posts, err := s.Repos.Posts.Candidates(qctx, cq)
	timedOut := qctx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		if timedOut {
			return models.Page[models.FeedItem]{}, fmt.Errorf("feed candidates: %w", context.DeadlineExceeded)
		}
		return models.Page[models.FeedItem]{}, err
	}
	s.stage(ctx, q, "collected", len(posts))

	visible := s.filterVisible(ctx, q.ViewerID, posts)
	s.stage(ctx, q, "visible", len(visible))
	if len(posts) > 0 && len(visible) == 0 {
		observability.GlobalLogger.WarnContext(ctx, "visibility filter removed every feed candidate",
			"scope", string(q.Scope), "viewer_id", q.ViewerID, "collected", len(posts))
	}

	items := make([]models.FeedItem, len(visible))
	for i := range visible {
		items[i] = feedItem(&visible[i])
	}
	s.mergeLive(ctx, items)
	for i := range items {
		items[i].Score = ranking.CalculateScore(items[i].Engagement, items[i].CreatedAt, now)
	}
	ranking.Sort(items, q.algo)
	s.stage(ctx, q, "scored", len(items))

	total := int64(len(items))
	items = paginate(items, q.Page, q.Limit)
	s.markLiked(ctx, q.ViewerID, items)
	s.stage(ctx, q, "page", len(items))
	return models.NewPage(items, q.Page, q.Limit, total), nil
}

func paginate[T any](items []T, page, limit int) []T {
	start := models.Offset(page, limit)
	if start < 0 || start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func feedItem(p *models.Post) models.FeedItem {
	return models.FeedItem{
		ID:          p.ID,
		Author:      p.User.Summary(),
		Content:     p.Content,
		ContentType: p.ContentType,
		MediaURL:    p.MediaURL,
		Industry:    p.Industry,
		Visibility:  p.Visibility,
		Engagement:  p.Engagement(),
		Score:       p.Score,
		CreatedAt:   p.CreatedAt,
	}
}

// filterVisible applies ranking.CanView. Follow edges come from the Counter
// Store; if it is unreachable the durable edges are used.
func (s *FeedService) filterVisible(ctx context.Context, viewerID uint, posts []models.Post) []models.Post {
	var authors []uint
	seen := make(map[uint]bool)
	for _, p := range posts {
		if p.Visibility == models.VisibilityFollowers && viewerID != 0 && p.UserID != viewerID && !seen[p.UserID] {
			seen[p.UserID] = true
			authors = append(authors, p.UserID)
		}
	}

	followed := make(map[uint]bool, len(authors))
	if len(authors) > 0 {
		members := make([]string, len(authors))
		for i, id := range authors {
			members[i] = counterstore.ID(id)
		}
		flags, err := s.Store.AreMembers(ctx, counterstore.FollowingKey(viewerID), members)
		if err == nil {
			for i, ok := range flags {
				followed[authors[i]] = ok
			}
		} else {
			observability.LogAsyncOperationError(ctx, "feed_follow_flags", err, map[string]interface{}{"viewer_id": viewerID})
			if durable, derr := s.Repos.Follows.FollowingIDs(ctx, viewerID, authors); derr == nil {
				followed = durable
			}
		}
	}

	out := posts[:0:0]
	for i := range posts {
		if ranking.CanView(viewerID, &posts[i], followed[posts[i].UserID]) {
			out = append(out, posts[i])
		}
	}
	return out
}

// mergeLive replaces durable counters with live ones where the Counter Store
// has them.
func (s *FeedService) mergeLive(ctx context.Context, items []models.FeedItem) {
	if len(items) == 0 {
		return
	}
	keys := make([]string, 0, 3*len(items))
	for _, it := range items {
		keys = append(keys,
			counterstore.PostLikesKey(it.ID),
			counterstore.PostCommentsKey(it.ID),
			counterstore.PostSharesKey(it.ID))
	}
	live, err := s.Store.GetMany(ctx, keys)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "feed_live_counters", err, nil)
		return
	}
	for i := range items {
		id := items[i].ID
		if v, ok := live[counterstore.PostLikesKey(id)]; ok {
			items[i].Engagement.Likes = v
		}
		if v, ok := live[counterstore.PostCommentsKey(id)]; ok {
			items[i].Engagement.Comments = v
		}
		if v, ok := live[counterstore.PostSharesKey(id)]; ok {
			items[i].Engagement.Shares = v
		}
	}
}

func (s *FeedService) markLiked(ctx context.Context, viewerID uint, items []models.FeedItem) {
	if viewerID == 0 || len(items) == 0 {
		return
	}
	members := make([]string, len(items))
	for i, it := range items {
		members[i] = counterstore.ID(it.ID)
	}
	flags, err := s.Store.AreMembers(ctx, counterstore.UserLikedPostsKey(viewerID), members)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "feed_liked_flags", err, map[string]interface{}{"viewer_id": viewerID})
		return
	}
	for i := range items {
		items[i].Liked = flags[i]
	}
}

// overlay refreshes counters and liked flags on a page served from cache.
func (s *FeedService) overlay(ctx context.Context, viewerID uint, items []models.FeedItem) {
	s.mergeLive(ctx, items)
	s.markLiked(ctx, viewerID, items)
}

func (s *FeedService) degraded(ctx context.Context, q *feedQuery, variant string, cause error) (models.Page[models.FeedItem], error) {
	scope := string(q.Scope)
	var stale models.Page[models.FeedItem]
	if found, err := s.Cache.GetJSON(ctx, cache.FeedStaleKey(q.ViewerID, variant), &stale); err == nil && found {
		stale.Degraded = true
		s.overlay(ctx, q.ViewerID, stale.Data)
		observability.FeedRequests.WithLabelValues(scope, "stale").Inc()
		return stale, nil
	}

	page, err := s.fromPool(ctx, q)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "feed_pool", err, map[string]interface{}{"scope": scope})
		return models.Page[models.FeedItem]{}, models.NewTransientStoreError("database", cause)
	}
	observability.FeedRequests.WithLabelValues(scope, "pool").Inc()
	return page, nil
}

// fromPool serves a smaller page from the ranked sorted set. The pool holds
// public posts only, so it never widens visibility.
func (s *FeedService) fromPool(ctx context.Context, q *feedQuery) (models.Page[models.FeedItem], error) {
	key := counterstore.GlobalFeedKey
	if q.Scope == ScopeIndustry {
		key = counterstore.IndustryFeedKey(q.Industry)
	}
	limit := q.Limit
	if limit > poolPageLimit {
		limit = poolPageLimit
	}

	ranked, err := s.Store.ZRevRange(ctx, key, int64(models.Offset(q.Page, limit)), int64(limit))
	if err != nil {
		return models.Page[models.FeedItem]{}, err
	}
	total, err := s.Store.ZCard(ctx, key)
	if err != nil {
		return models.Page[models.FeedItem]{}, err
	}
	ids := make([]uint, 0, len(ranked))
	for _, m := range ranked {
		if id, err := counterstore.ParseID(m.Member); err == nil {
			ids = append(ids, id)
		}
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	posts, err := s.Repos.Posts.GetByIDs(hctx, ids)
	if err != nil {
		return models.Page[models.FeedItem]{}, err
	}
	byID := make(map[uint]*models.Post, len(posts))
	for i := range posts {
		byID[posts[i].ID] = &posts[i]
	}

	since := s.now().Add(-q.window)
	items := make([]models.FeedItem, 0, len(ranked))
	for _, m := range ranked {
		id, err := counterstore.ParseID(m.Member)
		if err != nil {
			continue
		}
		p, ok := byID[id]
		if !ok || !ranking.CanView(q.ViewerID, p, false) || p.CreatedAt.Before(since) {
			continue
		}
		if (q.Scope == ScopePersonal && p.UserID == q.ViewerID) || (q.Scope == ScopeUser && p.UserID != q.AuthorID) {
			continue
		}
		item := feedItem(p)
		item.Score = m.Score
		items = append(items, item)
	}
	s.overlay(ctx, q.ViewerID, items)

	page := models.NewPage(items, q.Page, limit, total)
	page.Degraded = true
	return page, nil
}
