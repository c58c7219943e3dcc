// Package session holds the per-connection view state: which thread is
// open, the unread counters, and who is typing. Each session runs one
// goroutine that owns all of its state; commands from the socket, change
// bus events and timer fires all arrive through one inbox, so there is no
// locking and no stale-response race between overlapping loads.
package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/model"
	"github.com/andrewf414/carols/internal/ws"
	"github.com/google/uuid"
)

const (
	inboxSize = 128
	opTimeout = 5 * time.Second

	// A sender's typing signal is rebroadcast at most once per debounce
	// window; receivers drop a peer that stays silent past the expiry.
	// Expiry exceeds debounce so an active sender never flickers off.
	defaultTypingDebounce = 5 * time.Second
	defaultTypingExpiry   = 6 * time.Second
)

// Store is the slice of the persistence layer a session needs.
type Store interface {
	ListThreads(ctx context.Context) ([]model.Thread, error)
	UnreadCounts(ctx context.Context, userID string, threadIDs []string) (map[string]int, error)
	ListMessages(ctx context.Context, threadID string) ([]model.Message, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	MarkViewed(ctx context.Context, userID, threadID string, t time.Time) error
}

// Signaler relays typing state to other connections.
type Signaler interface {
	BroadcastTyping(p ws.TypingPayload)
}

// Sender delivers frames to this session's own socket.
type Sender interface {
	Send(msg ws.OutgoingMessage)
}

type eventKind int

const (
	kindCommand eventKind = iota
	kindTyping
	kindDebounceFired
	kindPeerExpired
)

type event struct {
	kind   eventKind
	msg    ws.IncomingMessage
	typing ws.TypingPayload
	peerID string
}

type peerState struct {
	username string
	timer    *time.Timer
}

// Session is the server-side counterpart of one chat tab.
type Session struct {
	userID   string
	username string
	store    Store
	signal   Signaler
	out      Sender
	bus      *bus.Bus
	inbox    chan event

	typingDebounce time.Duration
	typingExpiry   time.Duration

	// State below is touched only by the Run goroutine.
	threads    []model.Thread
	unread     map[string]int
	openThread string

	typingArmed  bool
	typingActive bool
	typingThread string
	typingTimer  *time.Timer
	peers        map[string]*peerState
}

func New(userID, username string, store Store, signal Signaler, out Sender, b *bus.Bus) *Session {
	return &Session{
		userID:         userID,
		username:       username,
		store:          store,
		signal:         signal,
		out:            out,
		bus:            b,
		inbox:          make(chan event, inboxSize),
		typingDebounce: defaultTypingDebounce,
		typingExpiry:   defaultTypingExpiry,
		unread:         make(map[string]int),
		peers:          make(map[string]*peerState),
	}
}

// HandleIncoming implements ws.Inbound. Never blocks; a full inbox drops
// the command (the client can resend, and snapshots repair any gap).
func (s *Session) HandleIncoming(msg ws.IncomingMessage) {
	s.enqueue(event{kind: kindCommand, msg: msg})
}

// TypingSink is handed to the hub so other sessions' typing reaches us.
func (s *Session) TypingSink(p ws.TypingPayload) {
	s.enqueue(event{kind: kindTyping, typing: p})
}

func (s *Session) enqueue(e event) {
	select {
	case s.inbox <- e:
	default:
		logger.Errorf("session inbox full user=%s, dropping event", s.userID)
	}
}

// Run drives the session until ctx is cancelled. It subscribes to the
// change bus for its whole lifetime and sends the initial sidebar
// snapshot before processing anything else.
func (s *Session) Run(ctx context.Context) {
	busCh, cancelSub := s.bus.Subscribe()
	defer cancelSub()
	defer s.teardown()

	s.reloadThreads(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-busCh:
			if !ok {
				return
			}
			s.handleBusEvent(ctx, ev)
		case e := <-s.inbox:
			s.handleEvent(ctx, e)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, e event) {
	switch e.kind {
	case kindCommand:
		s.handleCommand(ctx, e.msg)
	case kindTyping:
		s.handlePeerTyping(e.typing)
	case kindDebounceFired:
		s.handleDebounceFired()
	case kindPeerExpired:
		s.handlePeerExpired(e.peerID)
	}
}

func (s *Session) handleCommand(ctx context.Context, msg ws.IncomingMessage) {
	switch msg.Type {
	case ws.EventSelectThread:
		s.selectThread(ctx, msg.ThreadID)
	case ws.EventTyping:
		s.handleOwnTyping(msg)
	case ws.EventSendMessage:
		s.sendMessage(ctx, msg)
	default:
		s.sendError("unknown event type")
	}
}

// selectThread opens a thread: loads its history, records the view so the
// unread counter resets, and drops all typing state scoped to the
// previous thread.
func (s *Session) selectThread(ctx context.Context, threadID string) {
	if threadID == "" || threadID == s.openThread {
		return
	}
	defer logger.DeferLogDuration("session.selectThread", time.Now())()

	s.stopOwnTyping()
	s.clearPeers()

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	messages, err := s.store.ListMessages(opCtx, threadID)
	if err != nil {
		logger.Errorf("session user=%s load thread %s: %v", s.userID, threadID, err)
		s.sendError("failed to load thread")
		return
	}
	s.openThread = threadID
	s.out.Send(ws.OutgoingMessage{Type: ws.EventMessages, Payload: ws.MessagesPayload{
		ThreadID: threadID,
		Messages: messages,
	}})

	if err := s.store.MarkViewed(opCtx, s.userID, threadID, time.Now().UTC()); err != nil {
		logger.Errorf("session user=%s mark viewed %s: %v", s.userID, threadID, err)
	}
	s.unread[threadID] = 0
	s.sendThreads()
}

// sendMessage validates and persists a message. There is no local echo:
// the sender's own view updates when the insert comes back on the bus,
// the same path every other session takes.
func (s *Session) sendMessage(ctx context.Context, msg ws.IncomingMessage) {
	defer logger.DeferLogDuration("session.sendMessage", time.Now())()
	content := strings.TrimSpace(msg.Content)
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = s.openThread
	}
	if threadID == "" {
		s.sendError("no thread selected")
		return
	}
	if content == "" {
		s.sendError("message is empty")
		return
	}
	if utf8.RuneCountInString(content) > model.MaxMessageLength {
		s.sendError("message too long")
		return
	}

	s.stopOwnTyping()

	m := &model.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		UserID:    s.userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Username:  s.username,
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.store.CreateMessage(opCtx, m); err != nil {
		logger.Errorf("session user=%s send to %s: %v", s.userID, threadID, err)
		s.sendError("failed to send message")
		return
	}
	s.bus.Publish(bus.Event{Table: bus.TableMessages, Op: bus.OpInsert, Message: m, ID: m.ID})
}

func (s *Session) handleBusEvent(ctx context.Context, ev bus.Event) {
	switch ev.Table {
	case bus.TableThreads:
		s.handleThreadChange(ctx, ev)
	case bus.TableMessages:
		s.handleMessageChange(ctx, ev)
	case bus.TableUsers:
		// A rename changes the author names in the open history.
		if ev.Op == bus.OpUpdate && s.openThread != "" {
			s.reloadOpenThread(ctx)
		}
	}
}

func (s *Session) handleThreadChange(ctx context.Context, ev bus.Event) {
	closed := ev.Op == bus.OpDelete && ev.ID == s.openThread
	if closed {
		s.openThread = ""
		s.clearPeers()
	}
	s.reloadThreads(ctx)
	if !closed {
		return
	}
	// The view falls back to the first remaining thread; only an empty
	// thread list leaves nothing selected.
	if len(s.threads) > 0 {
		s.selectThread(ctx, s.threads[0].ID)
		return
	}
	s.out.Send(ws.OutgoingMessage{Type: ws.EventMessages, Payload: ws.MessagesPayload{Messages: []model.Message{}}})
}

func (s *Session) handleMessageChange(ctx context.Context, ev bus.Event) {
	if ev.Op != bus.OpInsert || ev.Message == nil {
		return
	}
	m := ev.Message
	if m.ThreadID == s.openThread {
		s.reloadOpenThread(ctx)
		// The author stops typing the moment the message lands.
		s.dropPeer(m.UserID, false)
	}
	if m.UserID != s.userID {
		s.unread[m.ThreadID]++
		s.sendThreads()
	}
}

// reloadThreads re-queries the sidebar: thread list plus unread counters.
func (s *Session) reloadThreads(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	threads, err := s.store.ListThreads(opCtx)
	if err != nil {
		logger.Errorf("session user=%s list threads: %v", s.userID, err)
		s.sendError("failed to load threads")
		return
	}
	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
	}
	unread, err := s.store.UnreadCounts(opCtx, s.userID, ids)
	if err != nil {
		logger.Errorf("session user=%s unread counts: %v", s.userID, err)
		s.sendError("failed to load threads")
		return
	}
	if s.openThread != "" {
		unread[s.openThread] = 0
	}
	s.threads = threads
	s.unread = unread
	s.sendThreads()
}

func (s *Session) reloadOpenThread(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	messages, err := s.store.ListMessages(opCtx, s.openThread)
	if err != nil {
		logger.Errorf("session user=%s reload thread %s: %v", s.userID, s.openThread, err)
		return
	}
	s.out.Send(ws.OutgoingMessage{Type: ws.EventMessages, Payload: ws.MessagesPayload{
		ThreadID: s.openThread,
		Messages: messages,
	}})
}

func (s *Session) sendThreads() {
	summaries := make([]ws.ThreadSummary, len(s.threads))
	for i, t := range s.threads {
		summaries[i] = ws.ThreadSummary{
			ID:        t.ID,
			Name:      t.Name,
			CreatedBy: t.CreatedBy,
			CreatedAt: t.CreatedAt,
			Unread:    s.unread[t.ID],
		}
	}
	s.out.Send(ws.OutgoingMessage{Type: ws.EventThreads, Payload: ws.ThreadsPayload{Threads: summaries}})
}

func (s *Session) sendError(msg string) {
	s.out.Send(ws.OutgoingMessage{Type: ws.EventError, Payload: ws.ErrorPayload{Message: msg}})
}

func (s *Session) teardown() {
	s.stopOwnTyping()
	s.clearPeers()
}
