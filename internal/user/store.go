package user

import (
	"context"
	"sort"
	"sync"
)

// InMemoryDirectory is an in-memory implementation of Directory.
// Thread-safe via RWMutex.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemoryDirectory creates a new in-memory user directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{users: make(map[string]*User)}
}

// Put adds or replaces a user.
func (d *InMemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = &u
	d.mu.Unlock()
}

// GetByID retrieves a user by ID.
func (d *InMemoryDirectory) GetByID(ctx context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// InMemoryFollowGraph is an in-memory implementation of FollowGraph.
// Thread-safe via RWMutex.
type InMemoryFollowGraph struct {
	mu sync.RWMutex
	// followeeID -> followerID -> status
	edges map[string]map[string]string
}

// NewInMemoryFollowGraph creates a new in-memory follow graph.
func NewInMemoryFollowGraph() *InMemoryFollowGraph {
	return &InMemoryFollowGraph{edges: make(map[string]map[string]string)}
}

// SetEdge adds or updates a follow edge.
func (g *InMemoryFollowGraph) SetEdge(e FollowEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	followers, ok := g.edges[e.FolloweeID]
	if !ok {
		followers = make(map[string]string)
		g.edges[e.FolloweeID] = followers
	}
	followers[e.FollowerID] = e.Status
}

// AcceptedFollowerIDs returns accepted followers of followeeID, sorted
// for deterministic fan-out ordering.
func (g *InMemoryFollowGraph) AcceptedFollowerIDs(ctx context.Context, followeeID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for followerID, status := range g.edges[followeeID] {
		if status == FollowAccepted {
			ids = append(ids, followerID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
