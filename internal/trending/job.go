package trending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsegram/feedrank/internal/authenticity"
	"github.com/pulsegram/feedrank/internal/feed"
	"github.com/pulsegram/feedrank/internal/jobs"
	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/score"
	"github.com/pulsegram/feedrank/internal/tasks"
	"github.com/pulsegram/feedrank/internal/trendcache"
	"github.com/pulsegram/feedrank/internal/user"
)

// Job timing defaults.
const (
	DefaultInterval     = 5 * time.Minute
	DefaultCycleTimeout = 2 * time.Minute
)

// ErrRunInProgress is returned by RunNow when a cycle is already
// executing in this process.
var ErrRunInProgress = errors.New("ranking run already in progress")

// JobConfig wires the ranking job's collaborators. Metrics, Cache,
// Spikes, Feeds, and Tasks may each be nil; the corresponding side
// effects are skipped.
type JobConfig struct {
	Posts    post.Repository
	Users    user.Directory
	Feeds    *feed.Engine
	Spikes   *authenticity.SpikeDetector
	Adjuster *authenticity.Adjuster
	Cache    *trendcache.Cache
	Tasks    *tasks.Submitter
	Weights  *score.Weights
	Settings Settings

	// CandidateWindow is how far back post creation may reach when
	// listing scoring candidates (default 48h).
	CandidateWindow time.Duration
	// CandidateLimit caps how many candidates one cycle scores
	// (default 1000).
	CandidateLimit int

	// Interval between cycles (default 5m).
	Interval time.Duration
	// CycleTimeout bounds one full cycle (default 2m).
	CycleTimeout time.Duration

	Metrics jobs.Recorder
	Logger  *slog.Logger
}

// Job runs the ranking cycle on a ticker: sweep stale windows, score
// candidates, select the trending set, publish the cache snapshot, and
// hand spike inspection and feed score propagation to the background
// pool. A failing post is logged and skipped so one bad record cannot
// abort the cycle.
type Job struct {
	cfg    JobConfig
	logger *slog.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewJob creates a ranking job. It does not start it; call Start.
func NewJob(cfg JobConfig) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Weights == nil {
		cfg.Weights = score.DefaultWeights()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Job{cfg: cfg, logger: cfg.Logger}
}

// Start launches the periodic cycle. Returns an error if already
// started.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return errors.New("ranking job already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.doneCh = make(chan struct{})
	j.running = true

	go j.loop(ctx)

	j.logger.Info("ranking job started",
		"interval", j.cfg.Interval,
		"cycle_timeout", j.cfg.CycleTimeout,
		"min_score", j.cfg.Settings.MinTrendingScore,
		"top_percent", j.cfg.Settings.TrendingTopPercent,
		"top_count", j.cfg.Settings.TrendingTopCount)
	return nil
}

// Stop halts the ticker and waits for an in-flight cycle to finish.
// Safe to call more than once.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	cancel, done := j.cancel, j.doneCh
	j.mu.Unlock()

	cancel()
	<-done
	j.logger.Info("ranking job stopped")
}

func (j *Job) loop(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunNow(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
				j.logger.Error("ranking cycle failed", "error", err)
			}
		}
	}
}

// RunStats summarizes one ranking cycle.
type RunStats struct {
	WindowsSwept int           `json:"windows_swept"`
	Candidates   int           `json:"candidates"`
	Scored       int           `json:"scored"`
	ScoreErrors  int           `json:"score_errors"`
	Selected     int           `json:"selected"`
	Demoted      int           `json:"demoted"`
	Duration     time.Duration `json:"duration"`
}

// RunNow executes one ranking cycle immediately. Cycles are mutually
// exclusive within the process; an overlapping call returns
// ErrRunInProgress rather than queueing.
func (j *Job) RunNow(ctx context.Context) (*RunStats, error) {
	if !j.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer j.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	stats, err := j.runCycle(ctx, start)
	elapsed := time.Since(start)

	if j.cfg.Metrics != nil {
		status := jobs.StatusSuccess
		if err != nil {
			status = jobs.StatusFailure
		}
		j.cfg.Metrics.IncJobsTotal(jobs.JobTypeRankingRun, status)
		j.cfg.Metrics.ObserveJobDuration(jobs.JobTypeRankingRun, elapsed.Seconds())
	}
	if err != nil {
		return nil, err
	}

	stats.Duration = elapsed
	j.logger.Info("ranking cycle complete",
		"windows_swept", stats.WindowsSwept,
		"candidates", stats.Candidates,
		"scored", stats.Scored,
		"score_errors", stats.ScoreErrors,
		"selected", stats.Selected,
		"demoted", stats.Demoted,
		"duration", elapsed)
	return stats, nil
}

func (j *Job) runCycle(ctx context.Context, now time.Time) (*RunStats, error) {
	stats := &RunStats{}

	swept, err := j.cfg.Posts.SweepStaleWindows(ctx, now)
	if err != nil {
		j.recordError("sweep")
		return nil, fmt.Errorf("failed to sweep stale windows: %w", err)
	}
	stats.WindowsSwept = swept

	candidates, err := j.cfg.Posts.ListScoringCandidates(ctx, post.CandidateQuery{
		Now:    now,
		MaxAge: j.cfg.CandidateWindow,
		Limit:  j.cfg.CandidateLimit,
	})
	if err != nil {
		j.recordError("candidates")
		return nil, fmt.Errorf("failed to list scoring candidates: %w", err)
	}
	stats.Candidates = len(candidates)

	scored := make([]Candidate, 0, len(candidates))
	for _, p := range candidates {
		raw, err := j.scoreOne(ctx, p, now)
		if err != nil {
			stats.ScoreErrors++
			j.recordError("score")
			j.logger.Error("failed to score post", "post_id", p.ID, "error", err)
			continue
		}
		stats.Scored++
		scored = append(scored, Candidate{Post: p, Score: raw})
	}

	winners := Select(scored, j.cfg.Settings)
	stats.Selected = len(winners)

	demoted, err := j.applySelection(ctx, winners, now)
	if err != nil {
		return nil, err
	}
	stats.Demoted = demoted

	if j.cfg.Cache != nil {
		if err := j.publishSnapshot(ctx, winners, now); err != nil {
			j.recordError("publish")
			j.logger.Error("failed to publish trending snapshot", "error", err)
		}
	}

	j.submitSideEffects(winners)
	return stats, nil
}

// scoreOne computes and persists one post's engagement score. The
// persisted value is the calculator output with no authenticity
// adjustment; discounts and disqualification happen after selection,
// through the adjuster on the background pool, so a low-authenticity
// post can be briefly visible as trending before the penalty lands.
func (j *Job) scoreOne(ctx context.Context, p *post.Post, now time.Time) (float64, error) {
	owner, err := j.cfg.Users.GetByID(ctx, p.OwnerID)
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return 0, fmt.Errorf("failed to load owner: %w", err)
	}
	if p.FollowerCountAtPost == 0 && owner != nil {
		// Older records predate the snapshot field; backfill from the
		// owner's live count and persist it, so later cycles keep this
		// value instead of re-reading a count that has since moved.
		p.FollowerCountAtPost = owner.FollowerCount
		if err := j.cfg.Posts.SetFollowerCountAtPost(ctx, p.ID, owner.FollowerCount); err != nil {
			return 0, fmt.Errorf("failed to persist follower snapshot: %w", err)
		}
	}

	raw := score.Compute(score.Inputs{
		Views:         p.Window.Views,
		Likes:         p.Window.Likes,
		Comments:      p.Window.Comments,
		Saves:         p.Window.Saves,
		Shares:        p.Window.Shares,
		FollowerCount: p.FollowerCountAtPost,
		AgeHours:      p.AgeHours(now),
		Featured:      p.FeaturedActive(now),
	}, j.cfg.Weights)

	if err := j.cfg.Posts.SetTrendingScore(ctx, p.ID, raw); err != nil {
		return 0, fmt.Errorf("failed to persist score: %w", err)
	}
	p.TrendingScore = raw
	return raw, nil
}

// applySelection marks the winners with dense ranks and clears posts
// that were trending but fell out of the set. TrendingSince is stamped
// with the cycle time on every run, so it records the latest selection
// rather than first entry.
func (j *Job) applySelection(ctx context.Context, winners []Candidate, now time.Time) (int, error) {
	selected := make(map[string]bool, len(winners))
	for rank, c := range winners {
		selected[c.Post.ID] = true
		if err := j.cfg.Posts.MarkTrending(ctx, c.Post.ID, rank+1, c.Score, now); err != nil {
			j.recordError("mark")
			j.logger.Error("failed to mark post trending",
				"post_id", c.Post.ID,
				"rank", rank+1,
				"error", err)
		}
	}

	current, err := j.cfg.Posts.ListTrending(ctx)
	if err != nil {
		j.recordError("demote")
		return 0, fmt.Errorf("failed to list trending posts for demotion: %w", err)
	}

	demoted := 0
	for _, p := range current {
		if selected[p.ID] {
			continue
		}
		if err := j.cfg.Posts.ClearTrending(ctx, p.ID); err != nil {
			j.recordError("demote")
			j.logger.Error("failed to demote post", "post_id", p.ID, "error", err)
			continue
		}
		demoted++
	}
	return demoted, nil
}

func (j *Job) publishSnapshot(ctx context.Context, winners []Candidate, now time.Time) error {
	summaries := make([]trendcache.Summary, len(winners))
	for i, c := range winners {
		summaries[i] = trendcache.Summary{
			PostID:    c.Post.ID,
			OwnerID:   c.Post.OwnerID,
			Rank:      i + 1,
			Score:     c.Score,
			CreatedAt: c.Post.CreatedAt,
			Hashtags:  c.Post.Hashtags,
		}
	}
	return j.cfg.Cache.PublishSnapshot(ctx, &trendcache.Snapshot{
		Scope:      trendcache.ScopeGlobal,
		ComputedAt: now,
		Posts:      summaries,
	})
}

// submitSideEffects queues spike inspection, authenticity adjustment,
// and feed score propagation for the winners. Adjustment is submitted
// only for posts that entered the trending set this cycle; a post that
// stays trending was already adjusted on entry and gets re-examined
// only when a spike inspection lands a fresh flag. All fire-and-forget;
// a saturated pool drops work for this cycle and the next cycle catches
// up.
func (j *Job) submitSideEffects(winners []Candidate) {
	if j.cfg.Tasks == nil {
		return
	}
	for _, c := range winners {
		postID := c.Post.ID
		// TrendingStatus here is the candidate's state as read at cycle
		// start, before MarkTrending ran.
		newlyTrending := !c.Post.TrendingStatus
		if j.cfg.Spikes != nil {
			snapshot := c.Post
			j.cfg.Tasks.Submit(func(ctx context.Context) {
				_, err := j.cfg.Spikes.Inspect(ctx, snapshot, time.Now())
				j.recordOutcome(jobs.JobTypeAuthenticity, err)
				if err != nil {
					j.logger.Error("spike inspection failed", "post_id", postID, "error", err)
				}
			})
		}
		if j.cfg.Adjuster != nil && newlyTrending {
			j.cfg.Tasks.Submit(func(ctx context.Context) {
				err := j.cfg.Adjuster.ApplyPenalty(ctx, postID)
				j.recordOutcome(jobs.JobTypeAuthenticity, err)
				if err != nil {
					j.logger.Error("authenticity adjustment failed", "post_id", postID, "error", err)
				}
			})
		}
		if j.cfg.Feeds != nil {
			j.cfg.Tasks.Submit(func(ctx context.Context) {
				if _, err := j.cfg.Feeds.PropagateScoreUpdate(ctx, postID); err != nil {
					j.recordError("propagate")
					j.logger.Error("score propagation failed", "post_id", postID, "error", err)
				}
			})
		}
	}
}

func (j *Job) recordError(errorType string) {
	if j.cfg.Metrics != nil {
		j.cfg.Metrics.IncJobErrors(jobs.JobTypeRankingRun, errorType)
	}
}

// recordOutcome counts one background side-effect run under its own job
// type.
func (j *Job) recordOutcome(jobType string, err error) {
	if j.cfg.Metrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
	}
	j.cfg.Metrics.IncJobsTotal(jobType, status)
}
