package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrThreadsExist is returned by SeedDefaults when the guard finds any
// existing thread.
var ErrThreadsExist = errors.New("threads already exist")

// DefaultThreadNames are the threads created by the one-time admin seed,
// in display order: General plus the 2025 performers.
var DefaultThreadNames = []string{
	"General",
	"Tim Campbell",
	"Casey Donovan",
	"David Hobson",
	"Dami Im",
	"Andy Karl",
	"Elise McCann",
	"Rob Mills",
	"Silvie Paladino",
	"Paulini",
	"Michael Paynter",
	"Marina Prior",
	"Denis Walter",
}

const threadCols = `id, name, created_by, created_at`

type ThreadRepository struct {
	pool *pgxpool.Pool
}

func NewThreadRepository(pool *pgxpool.Pool) *ThreadRepository {
	return &ThreadRepository{pool: pool}
}

func scanThread(s interface{ Scan(dest ...any) error }, t *model.Thread) error {
	return s.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
}

// ListAll returns every thread ordered by creation time ascending.
func (r *ThreadRepository) ListAll(ctx context.Context) ([]model.Thread, error) {
	defer logger.DeferLogDuration("thread.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+threadCols+` FROM threads ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ListAll: %w", err)
	}
	defer rows.Close()
	threads := make([]model.Thread, 0, 16)
	for rows.Next() {
		var t model.Thread
		if err := scanThread(rows, &t); err != nil {
			return nil, fmt.Errorf("threadRepo.ListAll scan: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.ListAll rows: %w", err)
	}
	return threads, nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.GetByID", time.Now())()
	t := &model.Thread{}
	row := r.pool.QueryRow(ctx, `SELECT `+threadCols+` FROM threads WHERE id = $1`, id)
	if err := scanThread(row, t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("threadRepo.GetByID: %w", err)
	}
	return t, nil
}

func (r *ThreadRepository) Create(ctx context.Context, t *model.Thread) error {
	defer logger.DeferLogDuration("thread.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO threads (id, name, created_by, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("threadRepo.Create: %w", err)
	}
	return nil
}

// Delete removes the thread; messages and thread views cascade in the store.
func (r *ThreadRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("thread.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("threadRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedDefaults bulk-inserts the default thread list attributed to userID.
// The emptiness check and the insert run in one transaction holding a table
// lock, so two concurrent seeds cannot both pass the check.
func (r *ThreadRepository) SeedDefaults(ctx context.Context, userID string) ([]model.Thread, error) {
	defer logger.DeferLogDuration("thread.SeedDefaults", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.SeedDefaults begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE threads IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("threadRepo.SeedDefaults lock: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM threads)`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("threadRepo.SeedDefaults check: %w", err)
	}
	if exists {
		return nil, ErrThreadsExist
	}

	now := time.Now().UTC()
	threads := make([]model.Thread, 0, len(DefaultThreadNames))
	for i, name := range DefaultThreadNames {
		t := model.Thread{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedBy: &userID,
			// Stagger timestamps so the ascending list keeps seed order.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO threads (id, name, created_by, created_at) VALUES ($1, $2, $3, $4)`,
			t.ID, t.Name, t.CreatedBy, t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("threadRepo.SeedDefaults insert %q: %w", name, err)
		}
		threads = append(threads, t)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("threadRepo.SeedDefaults commit: %w", err)
	}
	return threads, nil
}
