package authenticity

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/user"
)

const epsilon = 1e-9

func TestCompute(t *testing.T) {
	now := time.Now()
	youngOwner := &user.User{ID: "u1", CreatedAt: now.Add(-10 * 24 * time.Hour)}
	matureOwner := &user.User{ID: "u2", CreatedAt: now.Add(-60 * 24 * time.Hour)}
	verifiedMature := &user.User{ID: "u3", Verified: true, CreatedAt: now.Add(-60 * 24 * time.Hour)}

	tests := []struct {
		name  string
		post  post.Post
		owner *user.User
		want  float64
	}{
		{
			name:  "clean post, young owner",
			post:  post.Post{FollowerCountAtPost: 100},
			owner: youngOwner,
			want:  1.0,
		},
		{
			name:  "one flag",
			post:  post.Post{FlaggedCount: 1, FollowerCountAtPost: 100},
			owner: youngOwner,
			want:  0.9,
		},
		{
			name: "disproportionate volume",
			post: post.Post{
				FollowerCountAtPost: 10,
				Window:              post.Window{Views: 150, StartedAt: now.Add(-time.Hour)},
			},
			owner: youngOwner,
			want:  0.8,
		},
		{
			name:  "verified mature owner caps at one",
			post:  post.Post{FollowerCountAtPost: 100},
			owner: verifiedMature,
			want:  1.0,
		},
		{
			name:  "flags offset by owner bonuses",
			post:  post.Post{FlaggedCount: 2, FollowerCountAtPost: 100},
			owner: verifiedMature,
			want:  0.95, // 1.0 - 0.2 + 0.1 + 0.05
		},
		{
			name:  "mature unverified owner",
			post:  post.Post{FlaggedCount: 3, FollowerCountAtPost: 100},
			owner: matureOwner,
			want:  0.75, // 1.0 - 0.3 + 0.05
		},
		{
			name: "floor at zero",
			post: post.Post{
				FlaggedCount:        12,
				FollowerCountAtPost: 1,
				Window:              post.Window{Views: 1000, StartedAt: now.Add(-time.Hour)},
			},
			owner: youngOwner,
			want:  0.0,
		},
		{
			name: "missing owner loses bonuses only",
			post: post.Post{FlaggedCount: 1, FollowerCountAtPost: 100},
			want: 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(&tt.post, tt.owner, now)
			if math.Abs(got-tt.want) > epsilon {
				t.Errorf("Compute = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPenaltyMultiplier(t *testing.T) {
	if got := PenaltyMultiplier(1.0); got != 1.0 {
		t.Errorf("PenaltyMultiplier(1.0) = %v, want 1.0", got)
	}
	if got := PenaltyMultiplier(0.0); got != 0.5 {
		t.Errorf("PenaltyMultiplier(0.0) = %v, want 0.5 (max 50%% reduction)", got)
	}
	if got := PenaltyMultiplier(0.6); math.Abs(got-0.8) > epsilon {
		t.Errorf("PenaltyMultiplier(0.6) = %v, want 0.8", got)
	}
}

func setupAdjuster(t *testing.T) (*post.InMemoryRepository, *user.InMemoryDirectory, *Adjuster) {
	t.Helper()
	posts := NewTestPostRepo()
	users := user.NewInMemoryDirectory()
	return posts, users, NewAdjuster(posts, users, nil, nil)
}

// NewTestPostRepo returns a fresh in-memory post repository.
func NewTestPostRepo() *post.InMemoryRepository {
	return post.NewInMemoryRepository()
}

func TestApplyPenalty_HighAuthenticityUntouched(t *testing.T) {
	ctx := context.Background()
	posts, users, adj := setupAdjuster(t)
	now := time.Now()

	users.Put(user.User{ID: "owner", Verified: true, CreatedAt: now.Add(-90 * 24 * time.Hour)})
	p := &post.Post{
		ID:                  "p1",
		OwnerID:             "owner",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 1000,
		TrendingScore:       25,
		TrendingStatus:      true,
		TrendingRank:        1,
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if err := adj.ApplyPenalty(ctx, "p1"); err != nil {
		t.Fatalf("ApplyPenalty error = %v", err)
	}

	got, _ := posts.GetByID(ctx, "p1")
	if got.TrendingScore != 25 || !got.TrendingStatus {
		t.Errorf("clean post modified: %+v", got)
	}
}

func TestApplyPenalty_DiscountsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	posts, users, adj := setupAdjuster(t)
	now := time.Now()

	users.Put(user.User{ID: "owner", CreatedAt: now.Add(-5 * 24 * time.Hour)})
	// 4 flags, no bonuses: authenticity 0.6, below 0.7 but above 0.5.
	p := &post.Post{
		ID:                  "p1",
		OwnerID:             "owner",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 1000,
		FlaggedCount:        4,
		TrendingScore:       20,
		TrendingStatus:      true,
		TrendingRank:        2,
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if err := adj.ApplyPenalty(ctx, "p1"); err != nil {
		t.Fatalf("ApplyPenalty error = %v", err)
	}

	got, _ := posts.GetByID(ctx, "p1")
	want := 20 * PenaltyMultiplier(0.6) // 20 * 0.8 = 16
	if math.Abs(got.TrendingScore-want) > epsilon {
		t.Errorf("score = %v, want %v", got.TrendingScore, want)
	}
	if !got.TrendingStatus {
		t.Error("post at authenticity 0.6 should stay trending (discount only)")
	}
}

func TestApplyPenalty_DisqualifiesBelowHalf(t *testing.T) {
	ctx := context.Background()
	posts, users, adj := setupAdjuster(t)
	now := time.Now()

	users.Put(user.User{ID: "owner", CreatedAt: now.Add(-5 * 24 * time.Hour)})
	// 3 flags plus volume penalty: authenticity 1.0 - 0.3 - 0.2 = 0.5?
	// Use 4 flags + volume: 1.0 - 0.4 - 0.2 = 0.4, strictly below 0.5.
	p := &post.Post{
		ID:                  "p1",
		OwnerID:             "owner",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 10,
		FlaggedCount:        4,
		Window:              post.Window{Views: 500, StartedAt: now.Add(-time.Hour)},
		TrendingScore:       40,
		TrendingStatus:      true,
		TrendingRank:        1,
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if err := adj.ApplyPenalty(ctx, "p1"); err != nil {
		t.Fatalf("ApplyPenalty error = %v", err)
	}

	got, _ := posts.GetByID(ctx, "p1")
	if got.TrendingStatus {
		t.Error("post below disqualification threshold still trending")
	}
	if got.TrendingRank != 0 || got.TrendingSince != nil {
		t.Errorf("rank/since not cleared: %+v", got)
	}
	want := 40 * PenaltyMultiplier(0.4)
	if math.Abs(got.TrendingScore-want) > epsilon {
		t.Errorf("score = %v, want discounted %v", got.TrendingScore, want)
	}
}

func TestSpikeDetector_FlagsAndDisqualifies(t *testing.T) {
	ctx := context.Background()
	posts := NewTestPostRepo()
	det := NewSpikeDetector(posts, nil, nil)
	now := time.Now()

	p := &post.Post{
		ID:                  "p1",
		OwnerID:             "owner",
		CreatedAt:           now.Add(-time.Hour),
		Status:              post.StatusPublished,
		Privacy:             post.PrivacyPublic,
		FollowerCountAtPost: 100,
		Window:              post.Window{Views: 500, StartedAt: now.Add(-time.Hour)},
		TrendingScore:       30,
		TrendingStatus:      true,
		TrendingRank:        1,
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	// First two inspections flag without disqualifying.
	for i := 0; i < 2; i++ {
		current, _ := posts.GetByID(ctx, "p1")
		flagged, err := det.Inspect(ctx, current, now)
		if err != nil {
			t.Fatalf("Inspect error = %v", err)
		}
		if !flagged {
			t.Fatal("expected spike flag for 500 views/hr")
		}
	}
	got, _ := posts.GetByID(ctx, "p1")
	if got.FlaggedCount != 2 || !got.TrendingStatus {
		t.Fatalf("after two flags: %+v", got)
	}

	// Third flag crosses the threshold: score halved, trending cleared.
	current, _ := posts.GetByID(ctx, "p1")
	if _, err := det.Inspect(ctx, current, now); err != nil {
		t.Fatalf("Inspect error = %v", err)
	}
	got, _ = posts.GetByID(ctx, "p1")
	if got.FlaggedCount != 3 {
		t.Errorf("FlaggedCount = %d, want 3", got.FlaggedCount)
	}
	if got.TrendingStatus {
		t.Error("post at 3 flags should be removed from trending")
	}
	if math.Abs(got.TrendingScore-15) > epsilon {
		t.Errorf("score = %v, want halved 15", got.TrendingScore)
	}
	if len(got.FlagReasons) != 3 || got.FlagReasons[0].Reason == "" {
		t.Errorf("flag reasons = %+v", got.FlagReasons)
	}
}

func TestSpikeDetector_QuietPostUntouched(t *testing.T) {
	ctx := context.Background()
	posts := NewTestPostRepo()
	det := NewSpikeDetector(posts, nil, nil)
	now := time.Now()

	p := &post.Post{
		ID:        "p1",
		OwnerID:   "owner",
		CreatedAt: now.Add(-time.Hour),
		Status:    post.StatusPublished,
		Window:    post.Window{Views: 20, Likes: 10, StartedAt: now.Add(-time.Hour)},
	}
	if err := posts.Create(ctx, p); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	flagged, err := det.Inspect(ctx, p, now)
	if err != nil {
		t.Fatalf("Inspect error = %v", err)
	}
	if flagged {
		t.Error("quiet post should not be flagged")
	}
}
