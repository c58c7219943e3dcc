package model

import "time"

type Thread struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy *string   `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadView is a per (user, thread) bookmark of the last time the user
// opened the thread. Used only to derive unread counts.
type ThreadView struct {
	UserID       string    `json:"user_id"`
	ThreadID     string    `json:"thread_id"`
	LastViewedAt time.Time `json:"last_viewed_at"`
}
