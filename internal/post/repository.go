package post

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CandidateQuery selects posts eligible for a scoring pass.
type CandidateQuery struct {
	// Now is the reference time for age and eligibility gating.
	Now time.Time
	// MaxAge is how far back post creation may reach (default 48h).
	MaxAge time.Duration
	// Limit caps the number of returned posts (default 1000).
	Limit int
}

// Default gating values for candidate queries.
const (
	DefaultCandidateMaxAge = 48 * time.Hour
	DefaultCandidateLimit  = 1000
)

// Repository defines the post data operations needed by the ranking,
// authenticity, and fan-out subsystems. The publishing subsystem owns the
// wider post lifecycle; this interface covers only what this layer reads
// and mutates.
type Repository interface {
	// Create inserts a new post, generating an ID when absent.
	Create(ctx context.Context, p *Post) error

	// GetByID retrieves a post by ID.
	GetByID(ctx context.Context, id string) (*Post, error)

	// Update persists all mutable fields of the post. Last writer wins;
	// the ranking job, authenticity adjuster, and spike detector share
	// these fields without locking by design.
	Update(ctx context.Context, p *Post) error

	// RecordEvent applies one engagement event to the post's rolling
	// window (with lazy reset) and increments the matching lifetime
	// counter. Returns the updated post.
	RecordEvent(ctx context.Context, id string, kind EventKind, now time.Time) (*Post, error)

	// SweepStaleWindows bulk-resets windows that went stale without
	// receiving an event, so inactive posts do not keep non-zero
	// counters forever. Returns the number of posts reset.
	SweepStaleWindows(ctx context.Context, now time.Time) (int, error)

	// ListScoringCandidates returns published public posts created
	// within the query window, trending-eligible at q.Now, and below the
	// flag exclusion threshold, ordered newest first and capped at
	// q.Limit.
	ListScoringCandidates(ctx context.Context, q CandidateQuery) ([]*Post, error)

	// ListTrending returns all posts currently marked trending, ordered
	// by rank ascending.
	ListTrending(ctx context.Context) ([]*Post, error)

	// SetTrendingScore persists a freshly computed score for one post.
	SetTrendingScore(ctx context.Context, id string, score float64) error

	// SetFollowerCountAtPost persists a backfilled follower snapshot for
	// a post that predates the field, so the at-publish value sticks
	// instead of being re-derived from the owner's live count.
	SetFollowerCountAtPost(ctx context.Context, id string, count int) error

	// MarkTrending places a post in the trending set with the given rank
	// and stamps TrendingSince. The stamp is applied on every selection
	// run, so it reflects the latest re-entry rather than first entry.
	MarkTrending(ctx context.Context, id string, rank int, score float64, since time.Time) error

	// ClearTrending removes a post from the trending set, clearing
	// status, rank, and since.
	ClearTrending(ctx context.Context, id string) error

	// AddFlag increments the post's flag count and appends a structured
	// reason. Returns the updated post.
	AddFlag(ctx context.Context, id string, reason FlagReason) (*Post, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used in tests and as the default store when no
// document database is wired in.
type InMemoryRepository struct {
	mu    sync.RWMutex
	posts map[string]*Post
}

// NewInMemoryRepository creates a new in-memory post repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{posts: make(map[string]*Post)}
}

// Create inserts a new post, generating an ID when absent.
func (r *InMemoryRepository) Create(ctx context.Context, p *Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Window.StartedAt.IsZero() {
		p.Window.StartedAt = p.CreatedAt
	}
	p.UpdatedAt = p.CreatedAt

	r.posts[p.ID] = p.Clone()
	return nil
}

// GetByID retrieves a post by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	return p.Clone(), nil
}

// Update persists all mutable fields of the post.
func (r *InMemoryRepository) Update(ctx context.Context, p *Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.posts[p.ID]; !ok {
		return ErrPostNotFound
	}
	cp := p.Clone()
	cp.UpdatedAt = time.Now()
	r.posts[p.ID] = cp
	return nil
}

// RecordEvent applies one engagement event with lazy window reset.
func (r *InMemoryRepository) RecordEvent(ctx context.Context, id string, kind EventKind, now time.Time) (*Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	if err := p.Window.Apply(now, kind); err != nil {
		return nil, err
	}
	switch kind {
	case EventView:
		p.Lifetime.Views++
	case EventLike:
		p.Lifetime.Likes++
	case EventComment:
		p.Lifetime.Comments++
	case EventSave:
		p.Lifetime.Saves++
	case EventShare:
		p.Lifetime.Shares++
	}
	p.UpdatedAt = now
	return p.Clone(), nil
}

// SweepStaleWindows bulk-resets stale windows with non-zero counters.
func (r *InMemoryRepository) SweepStaleWindows(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset := 0
	for _, p := range r.posts {
		if p.Window.Stale(now) && p.Window.Volume() > 0 {
			p.Window.Reset(now)
			reset++
		}
	}
	return reset, nil
}

// ListScoringCandidates returns gated posts, newest first, capped at limit.
func (r *InMemoryRepository) ListScoringCandidates(ctx context.Context, q CandidateQuery) ([]*Post, error) {
	if q.MaxAge <= 0 {
		q.MaxAge = DefaultCandidateMaxAge
	}
	if q.Limit <= 0 {
		q.Limit = DefaultCandidateLimit
	}
	if q.Now.IsZero() {
		q.Now = time.Now()
	}
	oldest := q.Now.Add(-q.MaxAge)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*Post
	for _, p := range r.posts {
		if p.Status != StatusPublished || p.Privacy != PrivacyPublic {
			continue
		}
		if p.CreatedAt.Before(oldest) || p.CreatedAt.After(q.Now) {
			continue
		}
		if p.TrendingEligibleAt.After(q.Now) {
			continue
		}
		if p.FlaggedCount >= MaxFlagsBeforeExclusion {
			continue
		}
		candidates = append(candidates, p)
	}

	// Newest first, ID ascending on ties for stable ordering.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	copies := make([]*Post, len(candidates))
	for i, p := range candidates {
		copies[i] = p.Clone()
	}
	return copies, nil
}

// ListTrending returns all trending posts ordered by rank ascending.
func (r *InMemoryRepository) ListTrending(ctx context.Context) ([]*Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var trending []*Post
	for _, p := range r.posts {
		if p.TrendingStatus {
			trending = append(trending, p.Clone())
		}
	}
	sort.Slice(trending, func(i, j int) bool {
		return trending[i].TrendingRank < trending[j].TrendingRank
	})
	return trending, nil
}

// SetTrendingScore persists a freshly computed score for one post.
func (r *InMemoryRepository) SetTrendingScore(ctx context.Context, id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	p.TrendingScore = score
	p.UpdatedAt = time.Now()
	return nil
}

// SetFollowerCountAtPost persists a backfilled follower snapshot.
func (r *InMemoryRepository) SetFollowerCountAtPost(ctx context.Context, id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	p.FollowerCountAtPost = count
	p.UpdatedAt = time.Now()
	return nil
}

// MarkTrending places a post in the trending set.
func (r *InMemoryRepository) MarkTrending(ctx context.Context, id string, rank int, score float64, since time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	p.TrendingStatus = true
	p.TrendingRank = rank
	p.TrendingScore = score
	t := since
	p.TrendingSince = &t
	p.UpdatedAt = time.Now()
	return nil
}

// ClearTrending removes a post from the trending set.
func (r *InMemoryRepository) ClearTrending(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	p.TrendingStatus = false
	p.TrendingRank = 0
	p.TrendingSince = nil
	p.UpdatedAt = time.Now()
	return nil
}

// AddFlag increments the flag count and appends a structured reason.
func (r *InMemoryRepository) AddFlag(ctx context.Context, id string, reason FlagReason) (*Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	p.FlaggedCount++
	p.FlagReasons = append(p.FlagReasons, reason)
	p.UpdatedAt = time.Now()
	return p.Clone(), nil
}
