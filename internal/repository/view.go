package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ThreadViewRepository struct {
	pool *pgxpool.Pool
}

func NewThreadViewRepository(pool *pgxpool.Pool) *ThreadViewRepository {
	return &ThreadViewRepository{pool: pool}
}

// Upsert records that the user viewed the thread at t. Keyed by
// (user_id, thread_id), so repeated calls overwrite rather than duplicate.
func (r *ThreadViewRepository) Upsert(ctx context.Context, userID, threadID string, t time.Time) error {
	defer logger.DeferLogDuration("view.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO thread_views (user_id, thread_id, last_viewed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, thread_id) DO UPDATE SET last_viewed_at = EXCLUDED.last_viewed_at`,
		userID, threadID, t,
	)
	if err != nil {
		return fmt.Errorf("viewRepo.Upsert: %w", err)
	}
	return nil
}

// GetLastViewed returns the view bookmark, or ErrNotFound if the user has
// never opened the thread.
func (r *ThreadViewRepository) GetLastViewed(ctx context.Context, userID, threadID string) (*model.ThreadView, error) {
	defer logger.DeferLogDuration("view.GetLastViewed", time.Now())()
	v := &model.ThreadView{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, thread_id, last_viewed_at FROM thread_views
		 WHERE user_id = $1 AND thread_id = $2`,
		userID, threadID,
	).Scan(&v.UserID, &v.ThreadID, &v.LastViewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("viewRepo.GetLastViewed: %w", err)
	}
	return v, nil
}

// UnreadCounts computes the per-thread unread count for the user: messages
// strictly newer than the view bookmark, or all messages when no bookmark
// exists. Each thread is computed independently; ties at the viewed
// timestamp do not count as unread.
func (r *ThreadViewRepository) UnreadCounts(ctx context.Context, userID string, threadIDs []string) (map[string]int, error) {
	defer logger.DeferLogDuration("view.UnreadCounts", time.Now())()
	counts := make(map[string]int, len(threadIDs))
	if len(threadIDs) == 0 {
		return counts, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, COUNT(m.id)
		 FROM threads t
		 LEFT JOIN thread_views v ON v.thread_id = t.id AND v.user_id = $1
		 LEFT JOIN messages m ON m.thread_id = t.id
		      AND (v.user_id IS NULL OR m.created_at > v.last_viewed_at)
		 WHERE t.id = ANY($2::uuid[])
		 GROUP BY t.id`,
		userID, threadIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("viewRepo.UnreadCounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("viewRepo.UnreadCounts scan: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("viewRepo.UnreadCounts rows: %w", err)
	}
	return counts, nil
}
