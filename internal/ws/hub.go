package ws

import (
	"context"
	"sort"
	"sync"

	"github.com/andrewf414/carols/internal/logger"
)

// Hub tracks connected clients and derives presence from them. The online
// list is the deduplicated set of connected usernames; a user with several
// tabs open appears once and stays online until the last tab closes.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	byUser     map[string]map[*Client]struct{}
	total      int
	maxConns   int
	sendBuf    int
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns, sendBufSize int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if sendBufSize <= 0 {
		sendBufSize = defaultSendBufSize
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		sendBuf:    sendBufSize,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.clients {
		allClients = append(allClients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.byUser = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	if _, ok := h.byUser[c.userID]; !ok {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	h.broadcastOnlineUsers()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.total--
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	h.broadcastOnlineUsers()
}

// OnlineUsernames returns the sorted, deduplicated usernames of connected
// clients.
func (h *Hub) OnlineUsernames() []string {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.byUser))
	for c := range h.clients {
		seen[c.username] = struct{}{}
	}
	h.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsOnline reports whether the user has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) broadcastOnlineUsers() {
	out := OutgoingMessage{Type: EventOnlineUsers, Payload: OnlineUsersPayload{Users: h.OnlineUsernames()}}
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Send(out)
	}
}

// UpdateUsername renames the user's live connections after a profile
// update and re-announces the online list.
func (h *Hub) UpdateUsername(userID, username string) {
	h.mu.Lock()
	for c := range h.byUser[userID] {
		c.username = username
	}
	h.mu.Unlock()
	h.broadcastOnlineUsers()
}

// BroadcastTyping relays a typing signal to every connection except the
// sender's own. Delivery goes through each session's sink and never blocks.
func (h *Hub) BroadcastTyping(p TypingPayload) {
	h.mu.RLock()
	sinks := make([]func(TypingPayload), 0, h.total)
	for c := range h.clients {
		if c.userID == p.UserID || c.typingSink == nil {
			continue
		}
		sinks = append(sinks, c.typingSink)
	}
	h.mu.RUnlock()
	for _, sink := range sinks {
		sink(p)
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
