package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// ListByThread returns the thread's messages ascending by creation time,
// each joined with the author's username.
func (r *MessageRepository) ListByThread(ctx context.Context, threadID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByThread", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.thread_id, m.user_id, m.content, m.created_at, u.username
		 FROM messages m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.thread_id = $1
		 ORDER BY m.created_at ASC`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByThread: %w", err)
	}
	defer rows.Close()
	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Content, &m.CreatedAt, &m.Username); err != nil {
			return nil, fmt.Errorf("messageRepo.ListByThread scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListByThread rows: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, user_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ThreadID, m.UserID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	return nil
}
