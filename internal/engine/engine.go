// Package engine is the orchestration facade the rest of the system
// calls into: post lifecycle hooks, engagement ingestion, trending
// reads, and feed reads. It holds no state of its own; it sequences the
// stores, the fan-out engine, and the background pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pulsegram/feedrank/internal/authenticity"
	"github.com/pulsegram/feedrank/internal/feed"
	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/tasks"
	"github.com/pulsegram/feedrank/internal/trendcache"
	"github.com/pulsegram/feedrank/internal/trending"
)

// Moderation actions that pull a post out of feeds.
const (
	ActionRemove = "remove"
	ActionHide   = "hide"
)

// Engine wires the subsystems behind the operations the publishing and
// read layers consume.
type Engine struct {
	posts    post.Repository
	feeds    *feed.Engine
	job      *trending.Job
	cache    *trendcache.Cache
	spikes   *authenticity.SpikeDetector
	adjuster *authenticity.Adjuster
	submits  *tasks.Submitter
	logger   *slog.Logger
}

// New creates the facade. spikes, adjuster, cache, and submits may be
// nil; the corresponding side effects are skipped.
func New(
	posts post.Repository,
	feeds *feed.Engine,
	job *trending.Job,
	cache *trendcache.Cache,
	spikes *authenticity.SpikeDetector,
	adjuster *authenticity.Adjuster,
	submits *tasks.Submitter,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		posts:    posts,
		feeds:    feeds,
		job:      job,
		cache:    cache,
		spikes:   spikes,
		adjuster: adjuster,
		submits:  submits,
		logger:   logger,
	}
}

// OnPostPublished fans the newly published post out to the author's
// accepted followers.
func (e *Engine) OnPostPublished(ctx context.Context, postID string) (*feed.DeliveryResult, error) {
	return e.feeds.DeliverToFollowers(ctx, postID)
}

// OnEngagementEvent applies one engagement event: rolling-window and
// lifetime counters are updated synchronously, then spike inspection and
// feed score propagation run in the background.
func (e *Engine) OnEngagementEvent(ctx context.Context, postID string, kind post.EventKind) error {
	now := time.Now()
	p, err := e.posts.RecordEvent(ctx, postID, kind, now)
	if err != nil {
		return err
	}

	if e.submits == nil {
		return nil
	}
	if e.spikes != nil {
		snapshot := p
		e.submits.Submit(func(ctx context.Context) {
			flagged, err := e.spikes.Inspect(ctx, snapshot, time.Now())
			if err != nil {
				e.logger.Error("spike inspection failed", "post_id", postID, "error", err)
				return
			}
			// A fresh flag changes the authenticity inputs; re-apply
			// the penalty policy right away rather than waiting for
			// the next ranking cycle.
			if flagged && e.adjuster != nil {
				if err := e.adjuster.ApplyPenalty(ctx, postID); err != nil {
					e.logger.Error("authenticity adjustment failed", "post_id", postID, "error", err)
				}
			}
		})
	}
	e.submits.Submit(func(ctx context.Context) {
		if _, err := e.feeds.PropagateScoreUpdate(ctx, postID); err != nil {
			e.logger.Error("score propagation failed", "post_id", postID, "error", err)
		}
	})
	return nil
}

// OnModerationAction reacts to a moderation decision. Remove and hide
// pull the post out of every feed; other actions are ignored here.
func (e *Engine) OnModerationAction(ctx context.Context, postID string, action string) error {
	switch action {
	case ActionRemove, ActionHide:
	default:
		return nil
	}
	_, err := e.feeds.RemoveFromAllFeeds(ctx, postID, "moderation_"+action)
	return err
}

// TrendingQuery parameterizes a trending read.
type TrendingQuery struct {
	// Limit caps the result (default 20).
	Limit int
	// Hashtag optionally restricts results to posts carrying it.
	Hashtag string
}

// TrendingPost is one row of the trending surface.
type TrendingPost struct {
	PostID   string    `json:"post_id"`
	OwnerID  string    `json:"owner_id"`
	Rank     int       `json:"rank"`
	Score    float64   `json:"score"`
	PostedAt time.Time `json:"posted_at"`
	Hashtags []string  `json:"hashtags,omitempty"`
}

// GetTrendingPosts returns the current trending list, cache first with
// the post store as fallback. Results are ordered by rank, then score,
// then recency; reads are best-effort and may trail the latest ranking
// run by one cycle.
func (e *Engine) GetTrendingPosts(ctx context.Context, q TrendingQuery) ([]TrendingPost, error) {
	if q.Limit <= 0 {
		q.Limit = feed.DefaultReadLimit
	}

	if e.cache != nil {
		if snap, err := e.cache.ReadSnapshot(ctx, trendcache.ScopeGlobal); err == nil {
			return trimTrending(fromSnapshot(snap), q), nil
		}
	}

	posts, err := e.posts.ListTrending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trending posts: %w", err)
	}
	results := make([]TrendingPost, len(posts))
	for i, p := range posts {
		results[i] = TrendingPost{
			PostID:   p.ID,
			OwnerID:  p.OwnerID,
			Rank:     p.TrendingRank,
			Score:    p.TrendingScore,
			PostedAt: p.CreatedAt,
			Hashtags: p.Hashtags,
		}
	}
	return trimTrending(results, q), nil
}

func fromSnapshot(snap *trendcache.Snapshot) []TrendingPost {
	results := make([]TrendingPost, len(snap.Posts))
	for i, s := range snap.Posts {
		results[i] = TrendingPost{
			PostID:   s.PostID,
			OwnerID:  s.OwnerID,
			Rank:     s.Rank,
			Score:    s.Score,
			PostedAt: s.CreatedAt,
			Hashtags: s.Hashtags,
		}
	}
	return results
}

func trimTrending(results []TrendingPost, q TrendingQuery) []TrendingPost {
	if q.Hashtag != "" {
		filtered := results[:0]
		for _, r := range results {
			for _, h := range r.Hashtags {
				if h == q.Hashtag {
					filtered = append(filtered, r)
					break
				}
			}
		}
		results = filtered
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank < results[j].Rank
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PostedAt.After(results[j].PostedAt)
	})

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// CandidateFilter parameterizes a near-miss candidate read.
type CandidateFilter struct {
	// Limit caps the result (default 20).
	Limit int
	// MinScore filters out posts below this score.
	MinScore float64
	// HoursWindow restricts to posts created within the window
	// (default 48).
	HoursWindow int
}

// GetTrendingCandidates returns scored posts that did not make the
// trending cut, highest score first. Operator-facing: it reads the post
// store directly rather than the cache.
func (e *Engine) GetTrendingCandidates(ctx context.Context, f CandidateFilter) ([]*post.Post, error) {
	if f.Limit <= 0 {
		f.Limit = feed.DefaultReadLimit
	}
	maxAge := post.DefaultCandidateMaxAge
	if f.HoursWindow > 0 {
		maxAge = time.Duration(f.HoursWindow) * time.Hour
	}

	candidates, err := e.posts.ListScoringCandidates(ctx, post.CandidateQuery{
		Now:    time.Now(),
		MaxAge: maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list trending candidates: %w", err)
	}

	var nearMisses []*post.Post
	for _, p := range candidates {
		if p.TrendingStatus {
			continue
		}
		if p.TrendingScore < f.MinScore {
			continue
		}
		nearMisses = append(nearMisses, p)
	}

	sort.Slice(nearMisses, func(i, j int) bool {
		if nearMisses[i].TrendingScore != nearMisses[j].TrendingScore {
			return nearMisses[i].TrendingScore > nearMisses[j].TrendingScore
		}
		return nearMisses[i].ID < nearMisses[j].ID
	})
	if len(nearMisses) > f.Limit {
		nearMisses = nearMisses[:f.Limit]
	}
	return nearMisses, nil
}

// GetUserFeed returns one page of the user's feed.
func (e *Engine) GetUserFeed(ctx context.Context, userID string, q feed.ReadQuery) ([]*feed.FeedItem, error) {
	return e.feeds.ReadFeed(ctx, userID, q)
}

// RunRankingJob triggers one ranking cycle immediately, for cron and
// operator use. Idempotent: repeated calls re-derive the same trending
// set from current engagement state.
func (e *Engine) RunRankingJob(ctx context.Context) (*trending.RunStats, error) {
	return e.job.RunNow(ctx)
}

// DeliverToUsers delivers a post to an explicit recipient set.
func (e *Engine) DeliverToUsers(ctx context.Context, postID string, userIDs []string, source string) (*feed.DeliveryResult, error) {
	return e.feeds.DeliverToUsers(ctx, postID, userIDs, source)
}
