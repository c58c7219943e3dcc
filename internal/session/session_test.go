package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/model"
	"github.com/andrewf414/carols/internal/ws"
)

type fakeStore struct {
	mu       sync.Mutex
	threads  []model.Thread
	messages map[string][]model.Message
	unread   map[string]int
	viewed   map[string]time.Time
	created  []*model.Message
}

func newFakeStore(threads ...model.Thread) *fakeStore {
	return &fakeStore{
		threads:  threads,
		messages: make(map[string][]model.Message),
		unread:   make(map[string]int),
		viewed:   make(map[string]time.Time),
	}
}

func (f *fakeStore) ListThreads(ctx context.Context) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Thread(nil), f.threads...), nil
}

func (f *fakeStore) UnreadCounts(ctx context.Context, userID string, threadIDs []string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(threadIDs))
	for _, id := range threadIDs {
		out[id] = f.unread[id]
	}
	return out, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages[threadID]...), nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, m)
	f.messages[m.ThreadID] = append(f.messages[m.ThreadID], *m)
	return nil
}

func (f *fakeStore) MarkViewed(ctx context.Context, userID, threadID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewed[userID+"/"+threadID] = t
	return nil
}

func (f *fakeStore) viewedAt(userID, threadID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.viewed[userID+"/"+threadID]
	return t, ok
}

type fakeSender struct {
	frames chan ws.OutgoingMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(chan ws.OutgoingMessage, 128)}
}

func (f *fakeSender) Send(msg ws.OutgoingMessage) {
	select {
	case f.frames <- msg:
	default:
	}
}

// next returns the first frame of the wanted type, discarding others.
func (f *fakeSender) next(t *testing.T, want ws.EventType) ws.OutgoingMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.frames:
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", want)
		}
	}
}

func (f *fakeSender) expectNone(t *testing.T, not ws.EventType, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg := <-f.frames:
			if msg.Type == not {
				t.Fatalf("unexpected %q frame: %+v", not, msg)
			}
		case <-deadline:
			return
		}
	}
}

type fakeSignaler struct {
	signals chan ws.TypingPayload
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{signals: make(chan ws.TypingPayload, 32)}
}

func (f *fakeSignaler) BroadcastTyping(p ws.TypingPayload) {
	select {
	case f.signals <- p:
	default:
	}
}

func (f *fakeSignaler) next(t *testing.T) ws.TypingPayload {
	t.Helper()
	select {
	case p := <-f.signals:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing broadcast")
	}
	return ws.TypingPayload{}
}

func threadFixture(id, name string) model.Thread {
	return model.Thread{ID: id, Name: name, CreatedAt: time.Now().UTC()}
}

type fixture struct {
	store  *fakeStore
	sender *fakeSender
	signal *fakeSignaler
	bus    *bus.Bus
	sess   *Session
	cancel context.CancelFunc
}

func startSession(t *testing.T, store *fakeStore) *fixture {
	t.Helper()
	f := &fixture{
		store:  store,
		sender: newFakeSender(),
		signal: newFakeSignaler(),
		bus:    bus.New(),
	}
	f.sess = New("u1", "alice", store, f.signal, f.sender, f.bus)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	done := make(chan struct{})
	go func() {
		f.sess.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		f.bus.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
	return f
}

func threadsOf(t *testing.T, msg ws.OutgoingMessage) ws.ThreadsPayload {
	t.Helper()
	p, ok := msg.Payload.(ws.ThreadsPayload)
	if !ok {
		t.Fatalf("payload is %T, want ThreadsPayload", msg.Payload)
	}
	return p
}

func TestInitialSnapshotCarriesUnread(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	store.unread["t2"] = 3
	f := startSession(t, store)

	p := threadsOf(t, f.sender.next(t, ws.EventThreads))
	if len(p.Threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(p.Threads))
	}
	if p.Threads[0].Unread != 0 || p.Threads[1].Unread != 3 {
		t.Fatalf("unexpected unread counts: %+v", p.Threads)
	}
}

func TestSelectThreadLoadsAndMarksViewed(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	store.messages["t1"] = []model.Message{{ID: "m1", ThreadID: "t1", UserID: "u2", Content: "hi", Username: "bob"}}
	store.unread["t1"] = 1
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})

	msgs := f.sender.next(t, ws.EventMessages).Payload.(ws.MessagesPayload)
	if msgs.ThreadID != "t1" || len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages payload: %+v", msgs)
	}
	p := threadsOf(t, f.sender.next(t, ws.EventThreads))
	if p.Threads[0].Unread != 0 {
		t.Fatalf("unread not reset on open: %+v", p.Threads)
	}
	if _, ok := store.viewedAt("u1", "t1"); !ok {
		t.Fatal("view bookmark not recorded")
	}
}

func TestSendMessageValidation(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSendMessage, Content: "   "})
	if e := f.sender.next(t, ws.EventError).Payload.(ws.ErrorPayload); e.Message != "message is empty" {
		t.Fatalf("unexpected error: %+v", e)
	}

	long := strings.Repeat("x", model.MaxMessageLength+1)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSendMessage, Content: long})
	if e := f.sender.next(t, ws.EventError).Payload.(ws.ErrorPayload); e.Message != "message too long" {
		t.Fatalf("unexpected error: %+v", e)
	}

	store.mu.Lock()
	created := len(store.created)
	store.mu.Unlock()
	if created != 0 {
		t.Fatalf("invalid messages were persisted: %d", created)
	}
}

func TestSendMessageRoundTripsThroughBus(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSendMessage, Content: "  hello  "})

	// The reload triggered by the bus event carries the stored message.
	msgs := f.sender.next(t, ws.EventMessages).Payload.(ws.MessagesPayload)
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hello" {
		t.Fatalf("unexpected reload payload: %+v", msgs)
	}
	// Own messages never bump the unread counters.
	f.sender.expectNone(t, ws.EventThreads, 100*time.Millisecond)
}

func TestForeignMessageBumpsUnread(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)
	f.sender.next(t, ws.EventThreads)

	f.bus.Publish(bus.Event{Table: bus.TableMessages, Op: bus.OpInsert, ID: "m9",
		Message: &model.Message{ID: "m9", ThreadID: "t2", UserID: "u2", Content: "psst", Username: "bob"}})

	p := threadsOf(t, f.sender.next(t, ws.EventThreads))
	for _, th := range p.Threads {
		if th.ID == "t2" && th.Unread != 1 {
			t.Fatalf("expected unread=1 on t2, got %+v", p.Threads)
		}
	}
}

func TestThreadDeleteFallsBackToFirstRemaining(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	store.messages["t1"] = []model.Message{{ID: "m1", ThreadID: "t1", UserID: "u2", Content: "hi", Username: "bob"}}
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t2"})
	f.sender.next(t, ws.EventMessages)
	f.sender.next(t, ws.EventThreads)

	store.mu.Lock()
	store.threads = store.threads[:1]
	store.mu.Unlock()
	f.bus.Publish(bus.Event{Table: bus.TableThreads, Op: bus.OpDelete, ID: "t2"})

	// The view moves to the first remaining thread, loaded and marked viewed.
	msgs := f.sender.next(t, ws.EventMessages).Payload.(ws.MessagesPayload)
	if msgs.ThreadID != "t1" || len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hi" {
		t.Fatalf("expected t1 history after fallback, got %+v", msgs)
	}
	if _, ok := store.viewedAt("u1", "t1"); !ok {
		t.Fatal("fallback thread not marked viewed")
	}
	p := threadsOf(t, f.sender.next(t, ws.EventThreads))
	if len(p.Threads) != 1 || p.Threads[0].ID != "t1" {
		t.Fatalf("expected only t1 left, got %+v", p.Threads)
	}
}

func TestLastThreadDeleteClearsView(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)
	f.sender.next(t, ws.EventThreads)

	store.mu.Lock()
	store.threads = nil
	store.mu.Unlock()
	f.bus.Publish(bus.Event{Table: bus.TableThreads, Op: bus.OpDelete, ID: "t1"})

	p := threadsOf(t, f.sender.next(t, ws.EventThreads))
	if len(p.Threads) != 0 {
		t.Fatalf("expected empty thread list, got %+v", p.Threads)
	}
	msgs := f.sender.next(t, ws.EventMessages).Payload.(ws.MessagesPayload)
	if msgs.ThreadID != "" || len(msgs.Messages) != 0 {
		t.Fatalf("expected cleared view, got %+v", msgs)
	}
}

func TestRenameReloadsOpenThread(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	store.messages["t1"] = []model.Message{{ID: "m1", ThreadID: "t1", UserID: "u2", Content: "hi", Username: "bob"}}
	f := startSession(t, store)
	f.sender.next(t, ws.EventThreads)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	store.mu.Lock()
	store.messages["t1"][0].Username = "robert"
	store.mu.Unlock()
	f.bus.Publish(bus.Event{Table: bus.TableUsers, Op: bus.OpUpdate, ID: "u2",
		User: &model.User{ID: "u2", Username: "robert"}})

	msgs := f.sender.next(t, ws.EventMessages).Payload.(ws.MessagesPayload)
	if msgs.Messages[0].Username != "robert" {
		t.Fatalf("expected refreshed username, got %+v", msgs.Messages)
	}
}
