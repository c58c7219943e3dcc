package model

import "time"

// MaxMessageLength is the content limit enforced on append (about 150-200 words).
const MaxMessageLength = 1000

type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Username is the author's display name, joined in on list queries.
	Username string `json:"username,omitempty"`
}
