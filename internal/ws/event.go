package ws

import (
	"time"

	"github.com/andrewf414/carols/internal/model"
)

type EventType string

const (
	// Client commands.
	EventSelectThread EventType = "select_thread"
	EventTyping       EventType = "typing"
	EventSendMessage  EventType = "send_message"

	// Server frames.
	EventThreads     EventType = "threads"
	EventMessages    EventType = "messages"
	EventOnlineUsers EventType = "online_users"
	EventError       EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type     EventType `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	Content  string    `json:"content,omitempty"`
	Typing   bool      `json:"typing,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ThreadSummary is one thread row in the sidebar, with the viewer's
// unread count folded in.
type ThreadSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy *string   `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Unread    int       `json:"unread"`
}

// ThreadsPayload is the full sidebar snapshot. Sent on connect and after
// any thread or unread change.
type ThreadsPayload struct {
	Threads []ThreadSummary `json:"threads"`
}

// MessagesPayload carries the open thread's messages.
type MessagesPayload struct {
	ThreadID string          `json:"thread_id"`
	Messages []model.Message `json:"messages"`
}

// OnlineUsersPayload is the deduplicated set of connected usernames.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// TypingPayload signals that a user started or stopped typing in a thread.
type TypingPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
