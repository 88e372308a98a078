// Package trendcache provides the write-through cache for the ranked
// trending list: a named sorted-set index plus a serialized snapshot of
// the top-N post summaries, backed by a pluggable store with an
// in-process fallback. Business logic never branches on which backend is
// live; the cache absorbs backend failures internally.
package trendcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Store errors.
var (
	// ErrKeyNotFound is returned when a key is absent or expired.
	ErrKeyNotFound = errors.New("cache key not found")
)

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the capability interface the trending cache is built on.
// Implementations: RedisStore (distributed) and MemoryStore (in-process
// fallback), interchangeable at startup.
type Store interface {
	// Get retrieves the raw value for key. Returns ErrKeyNotFound when
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a raw value under key with the given TTL. A TTL of zero
	// means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// AddToSortedSet replaces the members' scores in the named sorted
	// set and refreshes its TTL.
	AddToSortedSet(ctx context.Context, key string, members []ScoredMember, ttl time.Duration) error

	// TopOfSortedSet returns up to n members ordered by score
	// descending. Returns an empty slice when the set is absent.
	TopOfSortedSet(ctx context.Context, key string, n int64) ([]ScoredMember, error)

	// Clear removes a key (value or sorted set).
	Clear(ctx context.Context, key string) error

	// Ping reports backend availability.
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process implementation of Store with lazy TTL
// expiry. Thread-safe via RWMutex.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]memoryValue
	zsets  map[string]memoryZSet
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

type memoryZSet struct {
	scores    map[string]float64
	expiresAt time.Time
}

// NewMemoryStore creates a new in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		zsets:  make(map[string]memoryZSet),
	}
}

func expired(expiresAt time.Time, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// Get retrieves the raw value for key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok || expired(v.expiresAt, time.Now()) {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

// Set stores a raw value under key with the given TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.values[key] = memoryValue{data: data, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// AddToSortedSet replaces the members' scores and refreshes the set TTL.
func (s *MemoryStore) AddToSortedSet(ctx context.Context, key string, members []ScoredMember, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.zsets[key]
	if !ok || expired(set.expiresAt, time.Now()) {
		set = memoryZSet{scores: make(map[string]float64)}
	}
	for _, m := range members {
		set.scores[m.Member] = m.Score
	}
	set.expiresAt = expiresAt
	s.zsets[key] = set
	return nil
}

// TopOfSortedSet returns up to n members ordered by score descending,
// member ascending on ties.
func (s *MemoryStore) TopOfSortedSet(ctx context.Context, key string, n int64) ([]ScoredMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.zsets[key]
	if !ok || expired(set.expiresAt, time.Now()) {
		return []ScoredMember{}, nil
	}

	members := make([]ScoredMember, 0, len(set.scores))
	for member, score := range set.scores {
		members = append(members, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	if n > 0 && int64(len(members)) > n {
		members = members[:n]
	}
	return members, nil
}

// Clear removes a key.
func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	delete(s.zsets, key)
	s.mu.Unlock()
	return nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
