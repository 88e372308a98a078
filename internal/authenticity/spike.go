package authenticity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegram/feedrank/internal/post"
)

// Spike detection thresholds, expressed as hour-equivalent rates over the
// rolling window (window counter divided by elapsed window hours, with a
// one-hour floor).
const (
	ViewRateThreshold = 100
	LikeRateThreshold = 50
)

// SpikeDetector watches per-event engagement and flags posts whose view
// or like rates look automated. It acts immediately, outside the batch
// ranking job: at post.MaxFlagsBeforeExclusion flags the post's trending
// score is halved and its trending status cleared on the spot.
type SpikeDetector struct {
	posts   post.Repository
	metrics *Metrics
	logger  *slog.Logger
}

// NewSpikeDetector creates a spike detector. metrics may be nil.
func NewSpikeDetector(posts post.Repository, metrics *Metrics, logger *slog.Logger) *SpikeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpikeDetector{
		posts:   posts,
		metrics: metrics,
		logger:  logger,
	}
}

// Inspect checks the post's window rates after an engagement event and
// flags suspicious activity. Returns whether a flag was added.
func (d *SpikeDetector) Inspect(ctx context.Context, p *post.Post, now time.Time) (bool, error) {
	elapsed := p.Window.ElapsedHours(now)

	var reason string
	switch {
	case float64(p.Window.Views)/elapsed > ViewRateThreshold:
		reason = fmt.Sprintf("view rate %.0f/hr exceeds threshold %d/hr", float64(p.Window.Views)/elapsed, ViewRateThreshold)
	case float64(p.Window.Likes)/elapsed > LikeRateThreshold:
		reason = fmt.Sprintf("like rate %.0f/hr exceeds threshold %d/hr", float64(p.Window.Likes)/elapsed, LikeRateThreshold)
	default:
		return false, nil
	}

	flagged, err := d.posts.AddFlag(ctx, p.ID, post.FlagReason{Reason: reason, FlaggedAt: now})
	if err != nil {
		return false, fmt.Errorf("failed to flag post: %w", err)
	}
	if d.metrics != nil {
		d.metrics.IncSpikeFlags()
	}
	d.logger.Warn("flagged suspicious engagement",
		"post_id", p.ID,
		"reason", reason,
		"flag_count", flagged.FlaggedCount)

	if flagged.FlaggedCount >= post.MaxFlagsBeforeExclusion {
		if err := d.posts.SetTrendingScore(ctx, p.ID, flagged.TrendingScore/2); err != nil {
			return true, fmt.Errorf("failed to halve trending score: %w", err)
		}
		if flagged.TrendingStatus {
			if err := d.posts.ClearTrending(ctx, p.ID); err != nil {
				return true, fmt.Errorf("failed to clear trending status: %w", err)
			}
		}
		if d.metrics != nil {
			d.metrics.IncDisqualifications()
		}
		d.logger.Warn("post exceeded flag threshold, removed from trending",
			"post_id", p.ID,
			"flag_count", flagged.FlaggedCount)
	}
	return true, nil
}
