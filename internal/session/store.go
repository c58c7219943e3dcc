package session

import (
	"context"
	"time"

	"github.com/andrewf414/carols/internal/model"
	"github.com/andrewf414/carols/internal/repository"
)

// RepoStore adapts the Postgres repositories to the narrow Store slice a
// session needs.
type RepoStore struct {
	threads  *repository.ThreadRepository
	messages *repository.MessageRepository
	views    *repository.ThreadViewRepository
}

func NewRepoStore(threads *repository.ThreadRepository, messages *repository.MessageRepository, views *repository.ThreadViewRepository) *RepoStore {
	return &RepoStore{threads: threads, messages: messages, views: views}
}

func (s *RepoStore) ListThreads(ctx context.Context) ([]model.Thread, error) {
	return s.threads.ListAll(ctx)
}

func (s *RepoStore) UnreadCounts(ctx context.Context, userID string, threadIDs []string) (map[string]int, error) {
	return s.views.UnreadCounts(ctx, userID, threadIDs)
}

func (s *RepoStore) ListMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	return s.messages.ListByThread(ctx, threadID)
}

func (s *RepoStore) CreateMessage(ctx context.Context, m *model.Message) error {
	return s.messages.Create(ctx, m)
}

func (s *RepoStore) MarkViewed(ctx context.Context, userID, threadID string, t time.Time) error {
	return s.views.Upsert(ctx, userID, threadID, t)
}
