// Package bus carries row-change notifications between the request handlers
// that mutate the store and the sessions that derive view state from it.
// Events are a tagged variant over {insert, update, delete} per table.
package bus

import (
	"sync"

	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Table string

const (
	TableUsers    Table = "users"
	TableThreads  Table = "threads"
	TableMessages Table = "messages"
)

// Event is one row change. Exactly one of the payload pointers is set,
// matching Table. Deletes carry only the row ID.
type Event struct {
	Table   Table
	Op      Op
	Thread  *model.Thread
	Message *model.Message
	User    *model.User
	// ID of the affected row; always set, also for deletes.
	ID string
}

const subscriberBuffer = 64

// Bus fans out events to subscribers. Publish never blocks: a subscriber
// that falls behind loses events, and consumers are expected to re-query
// on anything they do receive (reloads are idempotent).
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to all current subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.Errorf("bus: subscriber buffer full, dropping %s %s event", ev.Table, ev.Op)
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
