// Package ranking holds the pure feed math: scoring, ordering and the
// visibility predicate.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"momentum/internal/models"
)

const (
	engagementWeight = 0.6
	recencyWeight    = 0.4
)

// CalculateScore combines log-damped weighted engagement with hyperbolic
// recency decay:
//
//	0.6*ln(likes + 2*comments + 3*shares + 1) + 0.4/(ageHours + 1)
func CalculateScore(e models.Engagement, createdAt, now time.Time) float64 {
	weighted := float64(e.Likes) + 2*float64(e.Comments) + 3*float64(e.Shares)
	if weighted < 0 {
		weighted = 0
	}
	engagement := math.Log(weighted + 1)

	age := now.Sub(createdAt).Hours()
	if age < 0 {
		age = 0
	}
	recency := 1 / (age + 1)

	return engagementWeight*engagement + recencyWeight*recency
}

// EngagementTotal is the unweighted sum used by the engagement algorithm.
func EngagementTotal(e models.Engagement) int64 {
	return e.Likes + e.Comments + e.Shares
}

// Algorithm selects how candidates are ordered.
type Algorithm string

const (
	AlgorithmHybrid        Algorithm = "hybrid"
	AlgorithmChronological Algorithm = "chronological"
	AlgorithmEngagement    Algorithm = "engagement"
)

// ParseAlgorithm accepts the empty string as hybrid.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmHybrid:
		return AlgorithmHybrid, nil
	case AlgorithmChronological:
		return AlgorithmChronological, nil
	case AlgorithmEngagement:
		return AlgorithmEngagement, nil
	}
	return "", models.NewValidationError(fmt.Sprintf("unknown algorithm %q", s))
}

// Sort orders items in place for algo. Ties fall back to newest first, then
// highest id, so pagination is stable.
func Sort(items []models.FeedItem, algo Algorithm) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch algo {
		case AlgorithmEngagement:
			ea, eb := EngagementTotal(a.Engagement), EngagementTotal(b.Engagement)
			if ea != eb {
				return ea > eb
			}
		case AlgorithmHybrid:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// MaxTimeRange caps the feed window.
const MaxTimeRange = 365 * 24 * time.Hour

// ParseTimeRange accepts Go durations ("90m", "24h") and day counts ("7d").
// An empty string yields def.
func ParseTimeRange(s string, def time.Duration) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, models.NewValidationError(fmt.Sprintf("invalid timeRange %q", s))
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, models.NewValidationError(fmt.Sprintf("invalid timeRange %q", s))
		}
		d = parsed
	}
	if d <= 0 {
		return 0, models.NewValidationError("timeRange must be positive")
	}
	if d > MaxTimeRange {
		d = MaxTimeRange
	}
	return d, nil
}
