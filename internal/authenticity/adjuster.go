// Package authenticity computes a [0,1] confidence measure that a post's
// engagement is organic and applies score discounts or trending
// disqualification for posts that look bot-driven. It runs after the
// ranking job has already published the trending set, so a
// low-authenticity post can be momentarily visible as trending; that
// window is an accepted tradeoff.
package authenticity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/user"
)

// Authenticity scoring constants.
const (
	// FlagPenalty is subtracted per flag on the post.
	FlagPenalty = 0.1

	// VolumePenalty is subtracted when 24h engagement volume exceeds
	// VolumeFollowerMultiple times the follower snapshot.
	VolumePenalty          = 0.2
	VolumeFollowerMultiple = 10

	// VerifiedBonus is added for verified owners.
	VerifiedBonus = 0.1

	// MatureAccountBonus is added when the owner's account is older than
	// user.MatureAccountAge.
	MatureAccountBonus = 0.05

	// PenaltyThreshold is the authenticity score below which the
	// trending score is discounted.
	PenaltyThreshold = 0.7

	// DisqualifyThreshold is the authenticity score below which the post
	// is removed from the trending set outright.
	DisqualifyThreshold = 0.5
)

// Compute returns the authenticity score in [0,1] for a post and its
// owner. Pure: no I/O, deterministic for a fixed now.
//
// Start at 1.0; subtract FlagPenalty per flag; subtract VolumePenalty on
// disproportionate 24h volume; add VerifiedBonus and MatureAccountBonus;
// clamp to [0,1].
func Compute(p *post.Post, owner *user.User, now time.Time) float64 {
	score := 1.0

	score -= FlagPenalty * float64(p.FlaggedCount)

	followers := p.FollowerCountAtPost
	if followers < 1 {
		followers = 1
	}
	if p.Window.Volume() > int64(followers*VolumeFollowerMultiple) {
		score -= VolumePenalty
	}

	if owner != nil {
		if owner.Verified {
			score += VerifiedBonus
		}
		if owner.AccountAgeExceeds(now, user.MatureAccountAge) {
			score += MatureAccountBonus
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// PenaltyMultiplier returns the trending-score multiplier for an
// authenticity score: 1 - (1-authenticity)*0.5, i.e. up to a 50%
// reduction as authenticity approaches 0.
func PenaltyMultiplier(authenticity float64) float64 {
	return 1 - (1-authenticity)*0.5
}

// Adjuster loads a post and its owner, computes authenticity, and
// persists the resulting discount or disqualification.
type Adjuster struct {
	posts   post.Repository
	users   user.Directory
	metrics *Metrics
	logger  *slog.Logger
}

// NewAdjuster creates an adjuster. metrics may be nil.
func NewAdjuster(posts post.Repository, users user.Directory, metrics *Metrics, logger *slog.Logger) *Adjuster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adjuster{
		posts:   posts,
		users:   users,
		metrics: metrics,
		logger:  logger,
	}
}

// ApplyPenalty computes the post's authenticity and applies the
// discount/disqualification policy. A missing owner record costs the
// post its owner bonuses but is not an error.
func (a *Adjuster) ApplyPenalty(ctx context.Context, postID string) error {
	p, err := a.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to load post for authenticity adjustment: %w", err)
	}

	owner, err := a.users.GetByID(ctx, p.OwnerID)
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return fmt.Errorf("failed to load owner for authenticity adjustment: %w", err)
	}

	now := time.Now()
	authScore := Compute(p, owner, now)
	if a.metrics != nil {
		a.metrics.ObserveScore(authScore)
	}

	if authScore >= PenaltyThreshold {
		return nil
	}

	discounted := p.TrendingScore * PenaltyMultiplier(authScore)
	if err := a.posts.SetTrendingScore(ctx, p.ID, discounted); err != nil {
		return fmt.Errorf("failed to persist discounted score: %w", err)
	}
	if a.metrics != nil {
		a.metrics.IncPenalties()
	}
	a.logger.Info("applied authenticity penalty",
		"post_id", p.ID,
		"authenticity", authScore,
		"score_before", p.TrendingScore,
		"score_after", discounted)

	if authScore < DisqualifyThreshold {
		if err := a.posts.ClearTrending(ctx, p.ID); err != nil {
			return fmt.Errorf("failed to disqualify post from trending: %w", err)
		}
		if a.metrics != nil {
			a.metrics.IncDisqualifications()
		}
		a.logger.Warn("disqualified post from trending",
			"post_id", p.ID,
			"authenticity", authScore)
	}
	return nil
}
