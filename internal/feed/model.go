// Package feed provides the fan-out-on-write feed index: one row per
// (recipient, post) pair, materialized when a post is published and kept
// in sync as scores change and posts are taken down.
package feed

import (
	"errors"
	"time"
)

// Common errors for feed operations.
var (
	ErrEntryNotFound = errors.New("feed entry not found")

	// ErrPostNotDeliverable is returned when delivery is requested for a
	// post that is not in the published state.
	ErrPostNotDeliverable = errors.New("post is not published")
)

// Source values record why an entry landed in a recipient's feed.
const (
	SourceFollowing = "following"
	SourceExplore   = "explore"
	SourceTrending  = "trending"
	SourceFeatured  = "featured"
)

// ValidSource reports whether s is a recognized delivery source.
func ValidSource(s string) bool {
	switch s {
	case SourceFollowing, SourceExplore, SourceTrending, SourceFeatured:
		return true
	}
	return false
}

// Entry is one feed-index row. (RecipientID, PostID) is unique: redelivery
// updates the existing row instead of duplicating it. PostCreatedAt and
// PostEngagementScore are denormalized from the post store; the score is
// a read-optimized replica refreshed solely by score propagation, so
// reads may be briefly stale.
type Entry struct {
	ID                  string    `json:"id"`
	RecipientID         string    `json:"recipient_id"`
	PostID              string    `json:"post_id"`
	PostOwnerID         string    `json:"post_owner_id"`
	PostCreatedAt       time.Time `json:"post_created_at"`
	PostEngagementScore float64   `json:"post_engagement_score"`
	Source              string    `json:"source"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DeliveryResult reports the outcome of one fan-out pass.
type DeliveryResult struct {
	// Delivered counts newly created entries.
	Delivered int `json:"delivered"`
	// Duplicates counts upserts that updated an existing entry.
	Duplicates int `json:"duplicates"`
	// Total is the size of the resolved recipient set.
	Total int `json:"total"`
}

// ReadQuery parameterizes a paginated feed read.
type ReadQuery struct {
	// Page is 1-based; values below 1 are treated as 1.
	Page int
	// Limit caps the page size (default 20).
	Limit int
	// Source optionally filters entries by delivery source.
	Source string
}

// DefaultReadLimit is the page size when none is given.
const DefaultReadLimit = 20

// DefaultRetention is how long feed entries are kept before the
// retention sweep removes them, measured against the denormalized post
// creation time.
const DefaultRetention = 30 * 24 * time.Hour
