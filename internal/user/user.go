// Package user provides read-only access to user accounts and the follow
// graph. Both live in external systems; this package defines the
// interfaces the ranking and fan-out subsystems consume, plus in-memory
// implementations used in tests and single-process deployments.
package user

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// Follow edge status values. Only accepted edges receive fan-out.
const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
	FollowDeclined = "declined"
)

// MatureAccountAge is the account age past which the authenticity score
// receives its account-age credit.
const MatureAccountAge = 30 * 24 * time.Hour

// User is the slice of an account this layer needs: verification and age
// feed authenticity scoring, follower count feeds snapshot backfill.
type User struct {
	ID            string    `json:"id"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
	FollowerCount int       `json:"follower_count"`
}

// AccountAgeExceeds reports whether the account is older than d at now.
func (u *User) AccountAgeExceeds(now time.Time, d time.Duration) bool {
	return now.Sub(u.CreatedAt) > d
}

// FollowEdge is a directed follow relationship.
type FollowEdge struct {
	FollowerID string `json:"follower_id"`
	FolloweeID string `json:"followee_id"`
	Status     string `json:"status"`
}

// Directory provides user lookups.
type Directory interface {
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*User, error)
}

// FollowGraph provides follower resolution for fan-out.
type FollowGraph interface {
	// AcceptedFollowerIDs returns the IDs of all users with an accepted
	// follow edge toward followeeID.
	AcceptedFollowerIDs(ctx context.Context, followeeID string) ([]string, error)
}
