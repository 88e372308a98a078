package feed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver; imported for side-effects (driver registration)
)

// PostgresRepository implements Repository on PostgreSQL. The unique
// index on (recipient_id, post_id) plus ON CONFLICT upsert gives the
// atomic insert-or-update the delivery contract requires.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a Postgres-backed feed repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Upsert atomically inserts or updates the (recipient, post) row.
// xmax = 0 distinguishes a fresh insert from a conflict update.
func (r *PostgresRepository) Upsert(ctx context.Context, e *Entry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO feed_index_entries
			(id, recipient_id, post_id, post_owner_id, post_created_at,
			 post_engagement_score, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (recipient_id, post_id)
		DO UPDATE SET
			post_engagement_score = EXCLUDED.post_engagement_score,
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.RecipientID, e.PostID, e.PostOwnerID, e.PostCreatedAt,
		e.PostEngagementScore, e.Source,
	).Scan(&e.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert feed entry: %w", err)
	}
	return inserted, nil
}

// BulkSetScore sets the denormalized score on every entry for the post.
func (r *PostgresRepository) BulkSetScore(ctx context.Context, postID string, score float64) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE feed_index_entries
		SET post_engagement_score = $2, updated_at = NOW()
		WHERE post_id = $1
	`, postID, score)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// RemoveByPost hard-deletes every entry referencing the post. The reason
// is recorded in the log only; a tombstoning implementation would
// persist it instead.
func (r *PostgresRepository) RemoveByPost(ctx context.Context, postID string, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM feed_index_entries WHERE post_id = $1
	`, postID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove feed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	r.logger.Info("removed post from feed index",
		"post_id", postID,
		"reason", reason,
		"entries_removed", n)
	return int(n), nil
}

// DeleteOlderThan removes entries older than the cutoff.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM feed_index_entries WHERE post_created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep old feed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListByRecipient returns one page of the recipient's feed.
func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipientID string, q ReadQuery) ([]*Entry, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultReadLimit
	}
	if q.Page < 1 {
		q.Page = 1
	}
	offset := (q.Page - 1) * q.Limit

	query := `
		SELECT id, recipient_id, post_id, post_owner_id, post_created_at,
		       post_engagement_score, source, created_at, updated_at
		FROM feed_index_entries
		WHERE recipient_id = $1
		  AND ($2 = '' OR source = $2)
		ORDER BY post_created_at DESC, id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, recipientID, q.Source, q.Limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close feed rows", "error", err)
		}
	}()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.RecipientID, &e.PostID, &e.PostOwnerID, &e.PostCreatedAt,
			&e.PostEngagementScore, &e.Source, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feed entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feed entries: %w", err)
	}
	return entries, nil
}

// CountByPost returns how many entries reference the post.
func (r *PostgresRepository) CountByPost(ctx context.Context, postID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feed_index_entries WHERE post_id = $1
	`, postID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count feed entries: %w", err)
	}
	return n, nil
}
