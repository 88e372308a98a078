package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the feed-index data operations. The upsert must be a
// single atomic insert-or-update keyed on (recipient, post), never an
// existence check followed by a write, so concurrent delivery attempts
// (retries, overlapping explore and follower delivery) cannot race into
// duplicate rows.
//
// Removal takes a reason so a tombstoning implementation can be dropped
// in behind the same interface; the shipped implementations hard-delete.
type Repository interface {
	// Upsert inserts the entry or, when the (recipient, post) row
	// already exists, updates its score and source in place. Returns
	// whether a new row was inserted.
	Upsert(ctx context.Context, e *Entry) (inserted bool, err error)

	// BulkSetScore sets PostEngagementScore on every entry for the post.
	// Returns the number of entries touched.
	BulkSetScore(ctx context.Context, postID string, score float64) (int, error)

	// RemoveByPost removes every entry referencing the post. Returns the
	// number of entries removed.
	RemoveByPost(ctx context.Context, postID string, reason string) (int, error)

	// DeleteOlderThan removes entries whose denormalized post creation
	// time is before the cutoff, regardless of read state. Returns the
	// number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// ListByRecipient returns one page of the recipient's feed, ordered
	// by post creation time descending with entry ID as tie-breaker.
	ListByRecipient(ctx context.Context, recipientID string, q ReadQuery) ([]*Entry, error)

	// CountByPost returns how many feed entries reference the post.
	CountByPost(ctx context.Context, postID string) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry // (recipient, post) key -> entry
}

// NewInMemoryRepository creates a new in-memory feed repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{entries: make(map[string]*Entry)}
}

// entryKey builds the composite map key. A null byte separator keeps
// adjacent ID pairs from colliding.
func entryKey(recipientID, postID string) string {
	return recipientID + "\x00" + postID
}

// Upsert atomically inserts or updates the (recipient, post) row.
func (r *InMemoryRepository) Upsert(ctx context.Context, e *Entry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := entryKey(e.RecipientID, e.PostID)

	if existing, ok := r.entries[key]; ok {
		existing.PostEngagementScore = e.PostEngagementScore
		existing.Source = e.Source
		existing.UpdatedAt = now
		e.ID = existing.ID
		return false, nil
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	cp := *e
	r.entries[key] = &cp
	return true, nil
}

// BulkSetScore sets the denormalized score on every entry for the post.
func (r *InMemoryRepository) BulkSetScore(ctx context.Context, postID string, score float64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	touched := 0
	for _, e := range r.entries {
		if e.PostID == postID {
			e.PostEngagementScore = score
			e.UpdatedAt = now
			touched++
		}
	}
	return touched, nil
}

// RemoveByPost hard-deletes every entry referencing the post.
func (r *InMemoryRepository) RemoveByPost(ctx context.Context, postID string, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, e := range r.entries {
		if e.PostID == postID {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteOlderThan removes entries older than the cutoff.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, e := range r.entries {
		if e.PostCreatedAt.Before(cutoff) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

// ListByRecipient returns one page of the recipient's feed.
func (r *InMemoryRepository) ListByRecipient(ctx context.Context, recipientID string, q ReadQuery) ([]*Entry, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultReadLimit
	}
	if q.Page < 1 {
		q.Page = 1
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Entry
	for _, e := range r.entries {
		if e.RecipientID != recipientID {
			continue
		}
		if q.Source != "" && e.Source != q.Source {
			continue
		}
		matches = append(matches, e)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].PostCreatedAt.Equal(matches[j].PostCreatedAt) {
			return matches[i].PostCreatedAt.After(matches[j].PostCreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	start := (q.Page - 1) * q.Limit
	if start >= len(matches) {
		return []*Entry{}, nil
	}
	end := start + q.Limit
	if end > len(matches) {
		end = len(matches)
	}

	page := make([]*Entry, end-start)
	for i, e := range matches[start:end] {
		cp := *e
		page[i] = &cp
	}
	return page, nil
}

// CountByPost returns how many entries reference the post.
func (r *InMemoryRepository) CountByPost(ctx context.Context, postID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, e := range r.entries {
		if e.PostID == postID {
			count++
		}
	}
	return count, nil
}
