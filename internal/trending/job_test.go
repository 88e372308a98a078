package trending

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pulsegram/feedrank/internal/authenticity"
	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/tasks"
	"github.com/pulsegram/feedrank/internal/trendcache"
	"github.com/pulsegram/feedrank/internal/user"
)

func setupJob(t *testing.T) (*post.InMemoryRepository, *user.InMemoryDirectory, *trendcache.Cache, *Job) {
	t.Helper()
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	cache := trendcache.NewCache(nil, time.Minute, nil)
	job := NewJob(JobConfig{
		Posts:    posts,
		Users:    users,
		Cache:    cache,
		Settings: Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	return posts, users, cache, job
}

func seedActivePost(t *testing.T, posts *post.InMemoryRepository, id string, likes int64, createdAt time.Time) {
	t.Helper()
	p := &post.Post{
		ID:                  id,
		OwnerID:             "owner-" + id,
		CreatedAt:           createdAt,
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 100,
		Window:              post.Window{Likes: likes, StartedAt: createdAt},
	}
	if err := posts.Create(context.Background(), p); err != nil {
		t.Fatalf("Create error = %v", err)
	}
}

func TestRunNow_ScoresSelectsAndPublishes(t *testing.T) {
	ctx := context.Background()
	posts, _, cache, job := setupJob(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		seedActivePost(t, posts, fmt.Sprintf("p%d", i), int64(100*(i+1)), now.Add(-time.Hour))
	}

	stats, err := job.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	if stats.Candidates != 5 || stats.Scored != 5 {
		t.Errorf("stats = %+v, want 5 candidates scored", stats)
	}
	if stats.Selected != 5 {
		t.Errorf("selected = %d, want all 5 (small pool)", stats.Selected)
	}

	trending, err := posts.ListTrending(ctx)
	if err != nil {
		t.Fatalf("ListTrending error = %v", err)
	}
	if len(trending) != 5 {
		t.Fatalf("trending = %d posts, want 5", len(trending))
	}
	// Dense ranks 1..N with no gaps, highest engagement first.
	for i, p := range trending {
		if p.TrendingRank != i+1 {
			t.Errorf("post %s rank = %d, want %d", p.ID, p.TrendingRank, i+1)
		}
		if p.TrendingSince == nil {
			t.Errorf("post %s missing TrendingSince", p.ID)
		}
		if p.TrendingScore <= 0 {
			t.Errorf("post %s score = %v, want > 0", p.ID, p.TrendingScore)
		}
	}
	if trending[0].ID != "p4" {
		t.Errorf("rank 1 = %s, want p4 (most likes)", trending[0].ID)
	}

	snap, err := cache.ReadSnapshot(ctx, trendcache.ScopeGlobal)
	if err != nil {
		t.Fatalf("ReadSnapshot error = %v", err)
	}
	if len(snap.Posts) != 5 || snap.Posts[0].PostID != "p4" || snap.Posts[0].Rank != 1 {
		t.Errorf("snapshot = %+v", snap.Posts)
	}
}

func TestRunNow_DemotesDroppedPosts(t *testing.T) {
	ctx := context.Background()
	posts, _, _, job := setupJob(t)
	now := time.Now()

	seedActivePost(t, posts, "keeper", 500, now.Add(-time.Hour))
	seedActivePost(t, posts, "fader", 200, now.Add(-time.Hour))

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	trending, _ := posts.ListTrending(ctx)
	if len(trending) != 2 {
		t.Fatalf("after first run trending = %d, want 2", len(trending))
	}

	// Hide the fader; the next cycle must demote it.
	fader, err := posts.GetByID(ctx, "fader")
	if err != nil {
		t.Fatalf("GetByID error = %v", err)
	}
	fader.Status = post.StatusHidden
	if err := posts.Update(ctx, fader); err != nil {
		t.Fatalf("Update error = %v", err)
	}

	stats, err := job.RunNow(ctx)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if stats.Demoted != 1 {
		t.Errorf("demoted = %d, want 1", stats.Demoted)
	}

	trending, _ = posts.ListTrending(ctx)
	if len(trending) != 1 || trending[0].ID != "keeper" {
		t.Fatalf("trending after demotion = %+v", trending)
	}
	if trending[0].TrendingRank != 1 {
		t.Errorf("keeper rank = %d, want re-ranked to 1", trending[0].TrendingRank)
	}

	demoted, _ := posts.GetByID(ctx, "fader")
	if demoted.TrendingStatus || demoted.TrendingRank != 0 || demoted.TrendingSince != nil {
		t.Errorf("fader not fully cleared: %+v", demoted)
	}
}

func TestRunNow_RestampsTrendingSince(t *testing.T) {
	ctx := context.Background()
	posts, _, _, job := setupJob(t)
	now := time.Now()

	seedActivePost(t, posts, "p1", 500, now.Add(-time.Hour))

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	first, _ := posts.GetByID(ctx, "p1")

	time.Sleep(5 * time.Millisecond)
	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	second, _ := posts.GetByID(ctx, "p1")

	if !second.TrendingSince.After(*first.TrendingSince) {
		t.Errorf("TrendingSince not re-stamped: first=%v second=%v",
			first.TrendingSince, second.TrendingSince)
	}
}

// seedSuspectPair creates two posts with identical engagement, follower
// snapshot, and age; only "suspect" carries 2 flags. Both take the
// volume penalty (500 likes against 10 followers), so control sits at
// authenticity 0.8 (no discount) and suspect at 0.6 (0.8x multiplier).
func seedSuspectPair(t *testing.T, posts *post.InMemoryRepository, now time.Time) {
	t.Helper()
	for _, spec := range []struct {
		id    string
		flags int
	}{
		{"control", 0},
		{"suspect", 2},
	} {
		p := &post.Post{
			ID:                  spec.id,
			OwnerID:             "owner-" + spec.id,
			CreatedAt:           now.Add(-time.Hour),
			Status:              post.StatusPublished,
			Privacy:             post.PrivacyPublic,
			FollowerCountAtPost: 10,
			FlaggedCount:        spec.flags,
			Window:              post.Window{Likes: 500, StartedAt: now.Add(-time.Hour)},
		}
		if err := posts.Create(context.Background(), p); err != nil {
			t.Fatalf("Create error = %v", err)
		}
	}
}

func TestRunNow_PersistsCalculatorScoreUnadjusted(t *testing.T) {
	ctx := context.Background()
	posts, _, _, job := setupJob(t)
	seedSuspectPair(t, posts, time.Now())

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("RunNow error = %v", err)
	}

	// The scoring step persists the calculator output as-is; the
	// authenticity discount is a separate background pass. With no
	// adjuster wired the identical-engagement pair must land on the
	// same score despite the suspect's flags.
	suspect, _ := posts.GetByID(ctx, "suspect")
	control, _ := posts.GetByID(ctx, "control")
	if suspect.TrendingScore <= 0 {
		t.Fatalf("suspect score = %v, want > 0", suspect.TrendingScore)
	}
	if diff := suspect.TrendingScore - control.TrendingScore; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("scoring step adjusted the score: suspect=%v control=%v",
			suspect.TrendingScore, control.TrendingScore)
	}
	if !suspect.TrendingStatus {
		t.Error("suspect should trend on its raw score")
	}
}

func TestRunNow_AdjusterDiscountsNewWinnerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	submitter := tasks.NewSubmitter("test", 1, 16, nil)
	job := NewJob(JobConfig{
		Posts:    posts,
		Users:    users,
		Adjuster: authenticity.NewAdjuster(posts, users, nil, nil),
		Tasks:    submitter,
		Settings: Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	seedSuspectPair(t, posts, time.Now())

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	submitter.Stop() // drains the queued adjustments

	// Authenticity 0.6 maps to a single 0.8x multiplication of the raw
	// score, nothing compounding.
	suspect, _ := posts.GetByID(ctx, "suspect")
	control, _ := posts.GetByID(ctx, "control")
	want := control.TrendingScore * 0.8
	if diff := suspect.TrendingScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("suspect score = %v, want %v (0.8x of raw %v)",
			suspect.TrendingScore, want, control.TrendingScore)
	}
	if !suspect.TrendingStatus {
		t.Error("post at authenticity 0.6 should still trend, discounted")
	}
}

func TestRunNow_NoReadjustmentWhileStillTrending(t *testing.T) {
	ctx := context.Background()
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	submitter := tasks.NewSubmitter("test", 1, 16, nil)
	defer submitter.Stop()
	job := NewJob(JobConfig{
		Posts:    posts,
		Users:    users,
		Adjuster: authenticity.NewAdjuster(posts, users, nil, nil),
		Tasks:    submitter,
		Settings: Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	seedSuspectPair(t, posts, time.Now())

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	// Wait for the entry adjustment to land before the second cycle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		suspect, _ := posts.GetByID(ctx, "suspect")
		control, _ := posts.GetByID(ctx, "control")
		if suspect.TrendingScore < control.TrendingScore {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry adjustment never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	submitter.Stop()

	// The suspect stayed in the trending set, so the second cycle must
	// not submit it for adjustment again: its re-persisted score is the
	// raw calculator output.
	suspect, _ := posts.GetByID(ctx, "suspect")
	control, _ := posts.GetByID(ctx, "control")
	if diff := suspect.TrendingScore - control.TrendingScore; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("still-trending post re-adjusted: suspect=%v control=%v",
			suspect.TrendingScore, control.TrendingScore)
	}
}

func TestRunNow_ExcludesHeavilyFlaggedFromCandidates(t *testing.T) {
	ctx := context.Background()
	posts, _, _, job := setupJob(t)
	now := time.Now()

	seedActivePost(t, posts, "clean", 500, now.Add(-time.Hour))
	banned := &post.Post{
		ID:                  "banned",
		OwnerID:             "owner-banned",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 100,
		FlaggedCount:        post.MaxFlagsBeforeExclusion,
		Window:              post.Window{Likes: 900, StartedAt: now.Add(-time.Hour)},
	}
	if err := posts.Create(ctx, banned); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	stats, err := job.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	if stats.Candidates != 1 {
		t.Errorf("candidates = %d, want 1 (flagged post gated out)", stats.Candidates)
	}
	got, _ := posts.GetByID(ctx, "banned")
	if got.TrendingStatus {
		t.Error("flag-excluded post must not trend")
	}
}

func TestRunNow_BackfillsFollowerCount(t *testing.T) {
	ctx := context.Background()
	posts, users, _, job := setupJob(t)
	now := time.Now()

	users.Put(user.User{ID: "owner-p1", FollowerCount: 2500, CreatedAt: now.Add(-time.Hour)})
	p := &post.Post{
		ID:        "p1",
		OwnerID:   "owner-p1",
		CreatedAt: now.Add(-time.Hour),
		Status:    post.StatusPublished,
		Privacy:   post.PrivacyPublic,
		Window:    post.Window{Likes: 300, StartedAt: now.Add(-time.Hour)},
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	got, _ := posts.GetByID(ctx, "p1")
	if got.TrendingScore <= 0 {
		t.Errorf("score = %v, want > 0 with backfilled follower count", got.TrendingScore)
	}
	// The backfill is persisted, so the snapshot holds even if the
	// owner's live count moves later.
	if got.FollowerCountAtPost != 2500 {
		t.Errorf("FollowerCountAtPost = %d, want 2500 persisted", got.FollowerCountAtPost)
	}
}

func TestRunNow_HonorsCandidateWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	now := time.Now()

	seedActivePost(t, posts, "old", 300, now.Add(-3*time.Hour))
	seedActivePost(t, posts, "fresh1", 200, now.Add(-time.Hour))
	seedActivePost(t, posts, "fresh2", 100, now.Add(-30*time.Minute))

	windowed := NewJob(JobConfig{
		Posts:           posts,
		Users:           users,
		CandidateWindow: 2 * time.Hour,
		Settings:        Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	stats, err := windowed.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	if stats.Candidates != 2 {
		t.Errorf("candidates = %d, want 2 (3h-old post outside the 2h window)", stats.Candidates)
	}

	limited := NewJob(JobConfig{
		Posts:          posts,
		Users:          users,
		CandidateLimit: 1,
		Settings:       Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	stats, err = limited.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	if stats.Candidates != 1 {
		t.Errorf("candidates = %d, want 1 (batch limit)", stats.Candidates)
	}
}

func TestRunNow_SweepsStaleWindows(t *testing.T) {
	ctx := context.Background()
	posts, _, _, job := setupJob(t)
	now := time.Now()

	stale := &post.Post{
		ID:        "stale",
		OwnerID:   "owner",
		CreatedAt: now.Add(-72 * time.Hour),
		Status:    post.StatusPublished,
		Privacy:   post.PrivacyPublic,
		Window:    post.Window{Views: 40, StartedAt: now.Add(-30 * time.Hour)},
	}
	if err := posts.Create(ctx, stale); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	stats, err := job.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	if stats.WindowsSwept != 1 {
		t.Errorf("windows swept = %d, want 1", stats.WindowsSwept)
	}
	got, _ := posts.GetByID(ctx, "stale")
	if got.Window.Views != 0 {
		t.Errorf("stale window views = %d, want reset to 0", got.Window.Views)
	}
}

func TestRunNow_SideEffectsFlagSpikyWinner(t *testing.T) {
	ctx := context.Background()
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	submitter := tasks.NewSubmitter("test", 1, 16, nil)
	job := NewJob(JobConfig{
		Posts:    posts,
		Users:    users,
		Spikes:   authenticity.NewSpikeDetector(posts, nil, nil),
		Adjuster: authenticity.NewAdjuster(posts, users, nil, nil),
		Tasks:    submitter,
		Settings: Settings{MinTrendingScore: 1, TrendingTopPercent: 5, TrendingTopCount: 500},
	})
	now := time.Now()

	// 600 views in the first hour: far past the spike threshold.
	spiky := &post.Post{
		ID:                  "spiky",
		OwnerID:             "owner",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 1000,
		Window:              post.Window{Views: 600, StartedAt: now.Add(-time.Hour)},
	}
	if err := posts.Create(ctx, spiky); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if _, err := job.RunNow(ctx); err != nil {
		t.Fatalf("RunNow error = %v", err)
	}
	submitter.Stop() // drains the queued inspections

	got, _ := posts.GetByID(ctx, "spiky")
	if got.FlaggedCount != 1 {
		t.Errorf("FlaggedCount = %d, want 1 spike flag", got.FlaggedCount)
	}
	if len(got.FlagReasons) != 1 || got.FlagReasons[0].Reason == "" {
		t.Errorf("FlagReasons = %+v, want one structured reason", got.FlagReasons)
	}
}

func TestRunNow_MutualExclusion(t *testing.T) {
	_, _, _, job := setupJob(t)

	job.runMu.Lock()
	defer job.runMu.Unlock()

	if _, err := job.RunNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping run error = %v, want ErrRunInProgress", err)
	}
}

func TestJob_StartStop(t *testing.T) {
	_, _, _, job := setupJob(t)

	if err := job.Start(); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if err := job.Start(); err == nil {
		t.Error("second Start should error")
	}
	job.Stop()
	job.Stop() // idempotent
}
