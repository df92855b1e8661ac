package ranking

import (
	"testing"
	"time"

	"momentum/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateScore_Formula(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	got := CalculateScore(models.Engagement{}, now, now)
	assert.InDelta(t, 0.4, got, 1e-9)

	// ln(1 + 2*1 + 3*1 + 1) * 0.6 + 0.4/(3+1)
	got = CalculateScore(models.Engagement{Likes: 1, Comments: 1, Shares: 1}, now.Add(-3*time.Hour), now)
	assert.InDelta(t, 0.6*1.945910149+0.1, got, 1e-6)
}

func TestCalculateScore_MonotonicInEngagement(t *testing.T) {
	now := time.Now()
	created := now.Add(-5 * time.Hour)
	cases := []models.Engagement{
		{},
		{Likes: 1},
		{Comments: 1},
		{Shares: 1},
		{Likes: 1, Shares: 1},
		{Likes: 10, Comments: 3, Shares: 2},
		{Likes: 10000},
	}
	weighted := func(e models.Engagement) int64 { return e.Likes + 2*e.Comments + 3*e.Shares }
	for _, a := range cases {
		for _, b := range cases {
			if weighted(a) > weighted(b) {
				assert.Greater(t, CalculateScore(a, created, now), CalculateScore(b, created, now), "%+v vs %+v", a, b)
			}
		}
	}
}

func TestCalculateScore_MonotonicInRecency(t *testing.T) {
	now := time.Now()
	e := models.Engagement{Likes: 4, Comments: 1}
	prev := CalculateScore(e, now, now)
	for _, age := range []time.Duration{time.Minute, time.Hour, 6 * time.Hour, 48 * time.Hour, 30 * 24 * time.Hour} {
		s := CalculateScore(e, now.Add(-age), now)
		assert.Less(t, s, prev, "age %s", age)
		prev = s
	}
}

func TestCalculateScore_FutureTimestampClamped(t *testing.T) {
	now := time.Now()
	assert.Equal(t, CalculateScore(models.Engagement{}, now, now), CalculateScore(models.Engagement{}, now.Add(time.Hour), now))
}

func TestSort(t *testing.T) {
	now := time.Now()
	items := []models.FeedItem{
		{ID: 1, CreatedAt: now.Add(-3 * time.Hour), Score: 0.9, Engagement: models.Engagement{Likes: 1}},
		{ID: 2, CreatedAt: now.Add(-1 * time.Hour), Score: 0.2, Engagement: models.Engagement{Likes: 50}},
		{ID: 3, CreatedAt: now.Add(-2 * time.Hour), Score: 0.5, Engagement: models.Engagement{Shares: 5}},
	}
	ids := func() []uint {
		out := make([]uint, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	Sort(items, AlgorithmHybrid)
	assert.Equal(t, []uint{1, 3, 2}, ids())
	Sort(items, AlgorithmChronological)
	assert.Equal(t, []uint{2, 3, 1}, ids())
	Sort(items, AlgorithmEngagement)
	assert.Equal(t, []uint{2, 3, 1}, ids())
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHybrid, a)

	a, err = ParseAlgorithm("Chronological")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmChronological, a)

	_, err = ParseAlgorithm("viral")
	assert.True(t, models.HasCode(err, models.CodeValidation))
}

func TestParseTimeRange(t *testing.T) {
	def := 7 * 24 * time.Hour
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", def, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"7d", def, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"9999d", MaxTimeRange, false},
		{"0d", 0, true},
		{"-1h", 0, true},
		{"soon", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeRange(tt.in, def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanView(t *testing.T) {
	const author, follower, stranger = 1, 2, 3
	post := func(v models.Visibility) *models.Post {
		return &models.Post{UserID: author, Visibility: v, IsActive: true}
	}
	tests := []struct {
		name     string
		viewer   uint
		post     *models.Post
		follows  bool
		expected bool
	}{
		{"public to stranger", stranger, post(models.VisibilityPublic), false, true},
		{"public to anonymous", 0, post(models.VisibilityPublic), false, true},
		{"followers to follower", follower, post(models.VisibilityFollowers), true, true},
		{"followers to stranger", stranger, post(models.VisibilityFollowers), false, false},
		{"followers to anonymous", 0, post(models.VisibilityFollowers), true, false},
		{"private to follower", follower, post(models.VisibilityPrivate), true, false},
		{"private to author", author, post(models.VisibilityPrivate), false, true},
		{"inactive to author", author, &models.Post{UserID: author, Visibility: models.VisibilityPublic}, false, false},
		{"unknown visibility", stranger, post(models.Visibility("friends")), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanView(tt.viewer, tt.post, tt.follows))
		})
	}
}

func TestCanView_DefaultVisibilityIsFeedVisible(t *testing.T) {
	p := &models.Post{UserID: 1, Visibility: models.DefaultVisibility, IsActive: true}
	assert.True(t, CanView(99, p, false))
}
