// Package post provides the post model, the rolling engagement window,
// and repositories used by the ranking and fan-out subsystems.
package post

import (
	"errors"
	"slices"
	"time"
)

// Common errors for post operations.
var (
	ErrPostNotFound = errors.New("post not found")
)

// Status values for the post lifecycle. Only published posts are ranked
// or fanned out.
const (
	StatusProcessing        = "processing"
	StatusPublished         = "published"
	StatusHidden            = "hidden"
	StatusRemoved           = "removed"
	StatusModerationPending = "moderation_pending"
)

// Privacy values. Only public posts are eligible for trending.
const (
	PrivacyPublic    = "public"
	PrivacyFollowers = "followers"
	PrivacyPrivate   = "private"
)

// MaxFlagsBeforeExclusion is the flag count at which a post is excluded
// from scoring candidates and disqualified by the spike detector.
const MaxFlagsBeforeExclusion = 3

// FlagReason is a structured record of why a post was flagged.
type FlagReason struct {
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Counters holds lifetime engagement totals. Unlike the rolling window,
// lifetime counters may be decremented elsewhere on undo actions.
type Counters struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Saves    int64 `json:"saves"`
	Shares   int64 `json:"shares"`
}

// Post represents a piece of published content as seen by the ranking
// and delivery layers. The publishing subsystem owns creation and status
// transitions; this layer owns the trending and window fields.
type Post struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status   string   `json:"status"`
	Privacy  string   `json:"privacy"`
	Hashtags []string `json:"hashtags,omitempty"`

	// TrendingEligibleAt is the earliest time the post may trend,
	// typically publish time plus a short delay.
	TrendingEligibleAt time.Time `json:"trending_eligible_at"`

	Window   Window   `json:"engagement_window"`
	Lifetime Counters `json:"lifetime"`

	// FollowerCountAtPost is a snapshot of the owner's follower count
	// taken at publish time, used to normalize virality. Zero means the
	// snapshot is missing and should be backfilled before scoring.
	FollowerCountAtPost int `json:"follower_count_at_post"`

	FlaggedCount int          `json:"flagged_count"`
	FlagReasons  []FlagReason `json:"flag_reasons,omitempty"`

	Featured      bool       `json:"featured"`
	FeaturedFrom  *time.Time `json:"featured_from,omitempty"`
	FeaturedUntil *time.Time `json:"featured_until,omitempty"`

	TrendingScore  float64    `json:"trending_score"`
	TrendingStatus bool       `json:"trending_status"`
	TrendingRank   int        `json:"trending_rank,omitempty"` // 0 = not ranked
	TrendingSince  *time.Time `json:"trending_since,omitempty"`
}

// IsPublished reports whether the post is in the published state.
func (p *Post) IsPublished() bool {
	return p.Status == StatusPublished
}

// IsActive reports whether the post should still be visible in feeds.
// Hidden and removed posts are filtered out of reads even before their
// feed-index rows are cleaned up.
func (p *Post) IsActive() bool {
	return p.Status == StatusPublished
}

// FeaturedActive reports whether the featured boost applies at the given
// time, honoring the optional start/end window.
func (p *Post) FeaturedActive(now time.Time) bool {
	if !p.Featured {
		return false
	}
	if p.FeaturedFrom != nil && now.Before(*p.FeaturedFrom) {
		return false
	}
	if p.FeaturedUntil != nil && !now.Before(*p.FeaturedUntil) {
		return false
	}
	return true
}

// HasHashtag reports whether the post carries the given (lowercase) tag.
func (p *Post) HasHashtag(tag string) bool {
	return slices.Contains(p.Hashtags, tag)
}

// AgeHours returns the post age at now in fractional hours. Never negative.
func (p *Post) AgeHours(now time.Time) float64 {
	age := now.Sub(p.CreatedAt).Hours()
	if age < 0 {
		return 0
	}
	return age
}

// Clone returns a deep copy of the post. Repositories hand out clones so
// callers cannot mutate shared state.
func (p *Post) Clone() *Post {
	cp := *p
	cp.Hashtags = slices.Clone(p.Hashtags)
	cp.FlagReasons = slices.Clone(p.FlagReasons)
	if p.FeaturedFrom != nil {
		t := *p.FeaturedFrom
		cp.FeaturedFrom = &t
	}
	if p.FeaturedUntil != nil {
		t := *p.FeaturedUntil
		cp.FeaturedUntil = &t
	}
	if p.TrendingSince != nil {
		t := *p.TrendingSince
		cp.TrendingSince = &t
	}
	return &cp
}
