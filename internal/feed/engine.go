package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegram/feedrank/internal/jobs"
	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/user"
)

// Engine fans posts out to recipient feeds and keeps the denormalized
// index in sync with the post store.
type Engine struct {
	entries Repository
	posts   post.Repository
	follows user.FollowGraph
	metrics jobs.Recorder
	logger  *slog.Logger
}

// NewEngine creates a fan-out engine. metrics may be nil.
func NewEngine(entries Repository, posts post.Repository, follows user.FollowGraph, metrics jobs.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		entries: entries,
		posts:   posts,
		follows: follows,
		metrics: metrics,
		logger:  logger,
	}
}

// recordOutcome counts one engine operation under its job type.
func (e *Engine) recordOutcome(jobType string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
	}
	e.metrics.IncJobsTotal(jobType, status)
	e.metrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
}

// DeliverToFollowers resolves the author's accepted followers and
// upserts one entry per follower. Only published posts are deliverable.
// Per-recipient failures are logged and skipped so one bad row cannot
// stall the rest of the fan-out.
func (e *Engine) DeliverToFollowers(ctx context.Context, postID string) (_ *DeliveryResult, err error) {
	start := time.Now()
	defer func() { e.recordOutcome(jobs.JobTypeFeedFanout, start, err) }()

	p, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() {
		return nil, ErrPostNotDeliverable
	}

	followerIDs, err := e.follows.AcceptedFollowerIDs(ctx, p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve followers: %w", err)
	}

	result := e.deliver(ctx, p, followerIDs, SourceFollowing)
	e.logger.Info("fanned out post to followers",
		"post_id", p.ID,
		"owner_id", p.OwnerID,
		"delivered", result.Delivered,
		"duplicates", result.Duplicates,
		"total", result.Total)
	return result, nil
}

// DeliverToUsers delivers a post to an explicit recipient set, e.g. an
// explore or trending surface picking up a post outside the follow
// graph. The source records why each entry exists.
func (e *Engine) DeliverToUsers(ctx context.Context, postID string, userIDs []string, source string) (_ *DeliveryResult, err error) {
	start := time.Now()
	defer func() { e.recordOutcome(jobs.JobTypeFeedFanout, start, err) }()

	if !ValidSource(source) {
		return nil, fmt.Errorf("invalid delivery source %q", source)
	}
	p, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() {
		return nil, ErrPostNotDeliverable
	}

	result := e.deliver(ctx, p, userIDs, source)
	e.logger.Info("delivered post to recipient set",
		"post_id", p.ID,
		"source", source,
		"delivered", result.Delivered,
		"duplicates", result.Duplicates,
		"total", result.Total)
	return result, nil
}

func (e *Engine) deliver(ctx context.Context, p *post.Post, recipientIDs []string, source string) *DeliveryResult {
	result := &DeliveryResult{Total: len(recipientIDs)}
	for _, recipientID := range recipientIDs {
		entry := &Entry{
			RecipientID:         recipientID,
			PostID:              p.ID,
			PostOwnerID:         p.OwnerID,
			PostCreatedAt:       p.CreatedAt,
			PostEngagementScore: p.TrendingScore,
			Source:              source,
		}
		inserted, err := e.entries.Upsert(ctx, entry)
		if err != nil {
			e.logger.Error("failed to deliver feed entry",
				"post_id", p.ID,
				"recipient_id", recipientID,
				"error", err)
			continue
		}
		if inserted {
			result.Delivered++
		} else {
			result.Duplicates++
		}
	}
	return result
}

// RemoveFromAllFeeds pulls a post out of every recipient's feed, used
// when moderation hides or removes the post.
func (e *Engine) RemoveFromAllFeeds(ctx context.Context, postID string, reason string) (int, error) {
	removed, err := e.entries.RemoveByPost(ctx, postID, reason)
	if err != nil {
		return 0, err
	}
	e.logger.Info("removed post from all feeds",
		"post_id", postID,
		"reason", reason,
		"entries_removed", removed)
	return removed, nil
}

// PropagateScoreUpdate copies the post's current trending score onto
// every feed entry referencing it.
func (e *Engine) PropagateScoreUpdate(ctx context.Context, postID string) (_ int, err error) {
	start := time.Now()
	defer func() { e.recordOutcome(jobs.JobTypeScorePropagation, start, err) }()

	p, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return 0, err
	}
	touched, err := e.entries.BulkSetScore(ctx, postID, p.TrendingScore)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate score for post %s: %w", postID, err)
	}
	return touched, nil
}

// FeedItem is one feed entry joined with the live post it references.
type FeedItem struct {
	Entry *Entry     `json:"entry"`
	Post  *post.Post `json:"post"`
}

// ReadFeed returns one page of the recipient's feed joined against live
// post state. Entries whose post has since been hidden or removed are
// filtered out rather than surfaced stale.
func (e *Engine) ReadFeed(ctx context.Context, recipientID string, q ReadQuery) ([]*FeedItem, error) {
	entries, err := e.entries.ListByRecipient(ctx, recipientID, q)
	if err != nil {
		return nil, err
	}

	items := make([]*FeedItem, 0, len(entries))
	for _, entry := range entries {
		p, err := e.posts.GetByID(ctx, entry.PostID)
		if err != nil {
			// Post deleted underneath the index; skip the row.
			continue
		}
		if !p.IsActive() {
			continue
		}
		items = append(items, &FeedItem{Entry: entry, Post: p})
	}
	return items, nil
}

// SweepOld removes entries whose post is older than maxAge.
func (e *Engine) SweepOld(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	removed, err := e.entries.DeleteOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("swept old feed entries", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}
