// Package score provides the pure trending score computation with
// calibration support. It has no I/O and no dependency on the stores: the
// ranking job feeds it snapshots and persists the results.
package score

import (
	"math"
)

// Weights holds the engagement weights and decay constants used by the
// trending score formula. All values can be overridden at deploy time via
// a JSON calibration file; see LoadCalibration.
type Weights struct {
	Views        float64 `json:"views"`         // Weight for 24h views (default: 1.2)
	Likes        float64 `json:"likes"`         // Weight for 24h likes (default: 1.0)
	Comments     float64 `json:"comments"`      // Weight for 24h comments (default: 1.5)
	Saves        float64 `json:"saves"`         // Weight for 24h saves (default: 1.8)
	Shares       float64 `json:"shares"`        // Weight for 24h shares (default: 1.6)
	FollowerNorm float64 `json:"follower_norm"` // Follower-count normalization (default: 0.4)

	// HalfLifeHours controls the exponential recency decay (default: 12).
	HalfLifeHours float64 `json:"half_life_hours"`

	// FeaturedBoost multiplies the decayed score for featured posts
	// (default: 1.5).
	FeaturedBoost float64 `json:"featured_boost"`
}

// DefaultWeights returns the default scoring configuration.
//
// Formula:
//
//	base    = w.Views*ln(1+views) + w.Likes*ln(1+likes) + w.Comments*ln(1+comments)
//	        + w.Saves*ln(1+saves) + w.Shares*ln(1+shares) - w.FollowerNorm*ln(1+followers)
//	decayed = base * e^(-ageHours / HalfLifeHours)
//	score   = max(0, decayed * (featured ? FeaturedBoost : 1))
//
// Saves and shares carry the heaviest weights: they are the strongest
// intent signals. The follower-normalization term subtracts reach so a
// small account going viral can outrank a large account's baseline.
func DefaultWeights() *Weights {
	return &Weights{
		Views:         1.2,
		Likes:         1.0,
		Comments:      1.5,
		Saves:         1.8,
		Shares:        1.6,
		FollowerNorm:  0.4,
		HalfLifeHours: 12,
		FeaturedBoost: 1.5,
	}
}

// Inputs is a snapshot of everything the score depends on. The caller is
// responsible for taking the snapshot; Compute never reads shared state.
type Inputs struct {
	Views    int64 // 24h window views
	Likes    int64 // 24h window likes
	Comments int64 // 24h window comments
	Saves    int64 // 24h window saves
	Shares   int64 // 24h window shares

	// FollowerCount is the owner's follower count at post time.
	// Values below 1 are treated as 1.
	FollowerCount int

	// AgeHours is the post age, fractional. Negative values are treated
	// as 0.
	AgeHours float64

	// Featured applies the featured boost when true.
	Featured bool
}

// Compute returns the trending score for the given inputs.
//
// Guarantees: deterministic for fixed inputs; never negative; never
// panics (negative counters count as 0, follower counts below 1 count as
// 1); monotonically non-increasing in AgeHours with all else fixed.
func Compute(in Inputs, w *Weights) float64 {
	if w == nil {
		w = DefaultWeights()
	}

	followers := in.FollowerCount
	if followers < 1 {
		followers = 1
	}
	age := in.AgeHours
	if age < 0 {
		age = 0
	}

	base := w.Views*ln1p(in.Views) +
		w.Likes*ln1p(in.Likes) +
		w.Comments*ln1p(in.Comments) +
		w.Saves*ln1p(in.Saves) +
		w.Shares*ln1p(in.Shares) -
		w.FollowerNorm*math.Log(1+float64(followers))

	halfLife := w.HalfLifeHours
	if halfLife <= 0 {
		halfLife = DefaultWeights().HalfLifeHours
	}
	decayed := base * math.Exp(-age/halfLife)

	if in.Featured {
		boost := w.FeaturedBoost
		if boost <= 0 {
			boost = DefaultWeights().FeaturedBoost
		}
		decayed *= boost
	}

	if decayed < 0 || math.IsNaN(decayed) {
		return 0
	}
	return decayed
}

// ln1p returns ln(1+n) treating negative counters as zero, so malformed
// engagement data degrades to "no signal" instead of propagating an error.
func ln1p(n int64) float64 {
	if n < 0 {
		n = 0
	}
	return math.Log(1 + float64(n))
}
