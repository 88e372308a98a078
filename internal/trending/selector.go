// Package trending ranks scored posts and runs the periodic job that
// keeps the trending set, its cache snapshot, and downstream feed
// scores up to date.
package trending

import (
	"math"
	"sort"

	"github.com/pulsegram/feedrank/internal/post"
)

// Settings control how many scored posts make the trending cut.
type Settings struct {
	// MinTrendingScore is the floor a final score must reach.
	MinTrendingScore float64 `json:"min_trending_score"`
	// TrendingTopPercent admits the top N percent of eligible posts.
	TrendingTopPercent float64 `json:"trending_top_percent"`
	// TrendingTopCount guarantees at least this many slots when enough
	// posts qualify.
	TrendingTopCount int `json:"trending_top_count"`
}

// DefaultSettings returns the production selection defaults.
func DefaultSettings() Settings {
	return Settings{
		MinTrendingScore:   10.0,
		TrendingTopPercent: 5.0,
		TrendingTopCount:   500,
	}
}

// Threshold returns the number of slots for n eligible posts: the
// larger of the percent cut and the guaranteed count, with the count
// capped at n. With a small eligible pool the guaranteed count
// dominates and every eligible post trends; the percent cut only bites
// once the pool outgrows it.
func (s Settings) Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	byPercent := int(math.Ceil(float64(n) * s.TrendingTopPercent / 100.0))
	byCount := s.TrendingTopCount
	if byCount > n {
		byCount = n
	}
	if byPercent > byCount {
		return byPercent
	}
	return byCount
}

// Candidate pairs a post with its final (authenticity-adjusted) score
// for one selection pass.
type Candidate struct {
	Post  *post.Post
	Score float64
}

// Select orders candidates by score descending, breaking ties by
// recency and then post ID for a stable total order, and returns the
// winners. Candidates below the score floor never qualify regardless of
// how many slots remain. The returned slice order is the rank order:
// index i holds rank i+1.
func Select(candidates []Candidate, s Settings) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= s.MinTrendingScore {
			eligible = append(eligible, c)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		if !eligible[i].Post.CreatedAt.Equal(eligible[j].Post.CreatedAt) {
			return eligible[i].Post.CreatedAt.After(eligible[j].Post.CreatedAt)
		}
		return eligible[i].Post.ID < eligible[j].Post.ID
	})

	cut := s.Threshold(len(eligible))
	if cut > len(eligible) {
		cut = len(eligible)
	}
	return eligible[:cut]
}
