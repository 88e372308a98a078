package trendcache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ScopeGlobal is the default trending scope. Scoped keys leave room for
// per-region or per-category lists later.
const ScopeGlobal = "global"

// DefaultTTL covers two ranking cycles at the recommended 5-minute
// cadence, so a skipped run does not blank the trending surface.
const DefaultTTL = 10 * time.Minute

// Cache is the write-through trending cache. Writes go to the primary
// store and are mirrored to the in-process fallback; reads try the
// primary and silently fall back. A cache failure is never surfaced to
// callers as a user-visible error.
type Cache struct {
	primary  Store
	fallback *MemoryStore
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCache creates a trending cache. primary may be nil, in which case
// the in-process store serves everything.
func NewCache(primary Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		primary:  primary,
		fallback: NewMemoryStore(),
		ttl:      ttl,
		logger:   logger,
	}
}

func snapshotKey(scope string) string { return "trending:snapshot:" + scope }
func indexKey(scope string) string    { return "trending:index:" + scope }

// PublishSnapshot writes the ranked list for a scope: the sorted-set
// index keyed by post ID and the CBOR snapshot of ranked summaries, both
// with the cache TTL. The fallback store is always written; a primary
// failure is logged and absorbed.
func (c *Cache) PublishSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	members := make([]ScoredMember, len(snap.Posts))
	for i, p := range snap.Posts {
		members[i] = ScoredMember{Member: p.PostID, Score: p.Score}
	}

	// The in-process replica is the read path of last resort; clear it
	// first so demoted posts do not linger in the index.
	if err := c.fallback.Clear(ctx, indexKey(snap.Scope)); err != nil {
		return err
	}
	if err := c.fallback.Set(ctx, snapshotKey(snap.Scope), data, c.ttl); err != nil {
		return err
	}
	if err := c.fallback.AddToSortedSet(ctx, indexKey(snap.Scope), members, c.ttl); err != nil {
		return err
	}

	if c.primary == nil {
		return nil
	}
	if err := c.primary.Clear(ctx, indexKey(snap.Scope)); err != nil {
		c.logger.Warn("trending cache backend unavailable, serving from memory",
			"scope", snap.Scope,
			"error", err)
		return nil
	}
	if err := c.primary.Set(ctx, snapshotKey(snap.Scope), data, c.ttl); err != nil {
		c.logger.Warn("trending cache snapshot write failed",
			"scope", snap.Scope,
			"error", err)
		return nil
	}
	if err := c.primary.AddToSortedSet(ctx, indexKey(snap.Scope), members, c.ttl); err != nil {
		c.logger.Warn("trending cache index write failed",
			"scope", snap.Scope,
			"error", err)
	}
	return nil
}

// ReadSnapshot returns the cached ranked list for a scope. Returns
// ErrKeyNotFound when neither backend holds a live snapshot.
func (c *Cache) ReadSnapshot(ctx context.Context, scope string) (*Snapshot, error) {
	if c.primary != nil {
		data, err := c.primary.Get(ctx, snapshotKey(scope))
		if err == nil {
			return DecodeSnapshot(data)
		}
		if !errors.Is(err, ErrKeyNotFound) {
			c.logger.Warn("trending cache read failed, falling back to memory",
				"scope", scope,
				"error", err)
		}
	}

	data, err := c.fallback.Get(ctx, snapshotKey(scope))
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// TopPosts returns up to n post IDs with scores from the sorted-set
// index, highest score first.
func (c *Cache) TopPosts(ctx context.Context, scope string, n int64) ([]ScoredMember, error) {
	if c.primary != nil {
		members, err := c.primary.TopOfSortedSet(ctx, indexKey(scope), n)
		if err == nil && len(members) > 0 {
			return members, nil
		}
		if err != nil {
			c.logger.Warn("trending index read failed, falling back to memory",
				"scope", scope,
				"error", err)
		}
	}
	return c.fallback.TopOfSortedSet(ctx, indexKey(scope), n)
}

// Clear drops the cached list for a scope from both backends.
func (c *Cache) Clear(ctx context.Context, scope string) {
	_ = c.fallback.Clear(ctx, snapshotKey(scope))
	_ = c.fallback.Clear(ctx, indexKey(scope))
	if c.primary != nil {
		if err := c.primary.Clear(ctx, snapshotKey(scope)); err != nil {
			c.logger.Warn("trending cache clear failed", "scope", scope, "error", err)
		}
		if err := c.primary.Clear(ctx, indexKey(scope)); err != nil {
			c.logger.Warn("trending index clear failed", "scope", scope, "error", err)
		}
	}
}
