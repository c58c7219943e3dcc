package push

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
)

const bodyLimit = 120

// OnlineChecker reports whether a user currently has an open connection.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// UserLister enumerates registered users (push candidates).
type UserLister interface {
	ListAll(ctx context.Context, limit int) ([]model.User, error)
}

// Relay watches the change bus and pushes new messages to users who are
// not connected. Online users get the message over their socket instead.
type Relay struct {
	bus      *bus.Bus
	notifier *Notifier
	users    UserLister
	online   OnlineChecker
}

func NewRelay(b *bus.Bus, notifier *Notifier, users UserLister, online OnlineChecker) *Relay {
	return &Relay{bus: b, notifier: notifier, users: users, online: online}
}

// Run consumes message inserts until ctx is cancelled. Call in its own
// goroutine; push sends are network I/O and must not sit on the bus fan-out.
func (r *Relay) Run(ctx context.Context) {
	events, cancel := r.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Table == bus.TableMessages && ev.Op == bus.OpInsert && ev.Message != nil {
				r.notifyOffline(ctx, ev.Message)
			}
		}
	}
}

func (r *Relay) notifyOffline(ctx context.Context, m *model.Message) {
	if !r.notifier.Enabled() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	users, err := r.users.ListAll(opCtx, 2000)
	if err != nil {
		logger.Errorf("push: list users: %v", err)
		return
	}
	targets := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID == m.UserID || r.online.IsOnline(u.ID) {
			continue
		}
		targets = append(targets, u.ID)
	}
	body := m.Content
	if utf8.RuneCountInString(body) > bodyLimit {
		body = string([]rune(body)[:bodyLimit-3]) + "..."
	}
	r.notifier.NotifyUsers(opCtx, targets, Payload{
		Title: m.Username,
		Body:  body,
		Data:  map[string]string{"thread_id": m.ThreadID, "message_id": m.ID},
	})
}
