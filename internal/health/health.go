// Package health provides health check implementations for the ranker's
// external dependencies.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Checker is a single dependency health check.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DBChecker implements health checking for SQL databases.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Pinger matches cache stores that expose a Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheChecker implements health checking for the trending cache store.
type CacheChecker struct {
	store Pinger
}

// NewCacheChecker creates a new cache health checker.
func NewCacheChecker(store Pinger) *CacheChecker {
	return &CacheChecker{store: store}
}

// HealthCheck pings the cache backend.
func (c *CacheChecker) HealthCheck(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Handler returns an HTTP handler reporting per-dependency status. The
// overall status is degraded, not failing, when a dependency is down:
// the ranker keeps working on its in-process fallbacks.
func Handler(logger *slog.Logger, checkers map[string]Checker) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := "healthy"
		deps := make(map[string]string, len(checkers))
		for name, c := range checkers {
			if err := c.HealthCheck(ctx); err != nil {
				deps[name] = err.Error()
				status = "degraded"
				logger.Warn("dependency health check failed", "dependency", name, "error", err)
			} else {
				deps[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		resp := map[string]any{"status": status}
		if len(deps) > 0 {
			resp["dependencies"] = deps
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to write health response", "error", err)
		}
	}
}
