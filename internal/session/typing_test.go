package session

import (
	"context"
	"testing"
	"time"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/ws"
)

// startTypingSession shrinks the debounce and expiry windows so the timer
// paths run in test time.
func startTypingSession(t *testing.T, store *fakeStore, debounce, expiry time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:  store,
		sender: newFakeSender(),
		signal: newFakeSignaler(),
		bus:    bus.New(),
	}
	f.sess = New("u1", "alice", store, f.signal, f.sender, f.bus)
	f.sess.typingDebounce = debounce
	f.sess.typingExpiry = expiry
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
	f.sender.next(t, ws.EventThreads)
	return f
}

func expectNoTyping(t *testing.T, f *fixture, d time.Duration) {
	t.Helper()
	select {
	case p := <-f.signal.signals:
		t.Fatalf("unexpected typing broadcast: %+v", p)
	case <-time.After(d):
	}
}

func TestTypingDebounce(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startTypingSession(t, store, 60*time.Millisecond, 120*time.Millisecond)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	// First keystroke broadcasts immediately.
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t1", Typing: true})
	p := f.signal.next(t)
	if !p.Typing || p.ThreadID != "t1" || p.Username != "alice" {
		t.Fatalf("unexpected broadcast: %+v", p)
	}

	// Keystrokes inside the window stay silent.
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t1", Typing: true})
	expectNoTyping(t, f, 30*time.Millisecond)

	// The window closes with activity recorded: typing=true goes out again.
	p = f.signal.next(t)
	if !p.Typing {
		t.Fatalf("expected refreshed typing=true, got %+v", p)
	}

	// No further keystrokes: the next window flips the broadcast to false.
	p = f.signal.next(t)
	if p.Typing {
		t.Fatalf("expected typing=false after idle window, got %+v", p)
	}
	expectNoTyping(t, f, 100*time.Millisecond)
}

func TestSubmitStopsTyping(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startTypingSession(t, store, time.Minute, time.Minute)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t1", Typing: true})
	if p := f.signal.next(t); !p.Typing {
		t.Fatalf("expected typing=true, got %+v", p)
	}

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSendMessage, ThreadID: "t1", Content: "done"})
	if p := f.signal.next(t); p.Typing {
		t.Fatalf("expected typing=false on submit, got %+v", p)
	}
}

func TestThreadChangeStopsTyping(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	f := startTypingSession(t, store, time.Minute, time.Minute)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t1", Typing: true})
	f.signal.next(t)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t2"})
	if p := f.signal.next(t); p.Typing || p.ThreadID != "t1" {
		t.Fatalf("expected typing=false for t1, got %+v", p)
	}
}

func TestTypingStopFollowsArmedThread(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	f := startTypingSession(t, store, 60*time.Millisecond, time.Minute)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	// Typing with an explicit thread id that is not the open thread.
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t2", Typing: true})
	if p := f.signal.next(t); !p.Typing || p.ThreadID != "t2" {
		t.Fatalf("expected typing=true for t2, got %+v", p)
	}

	// The idle stop goes to the thread the debounce armed for, not the
	// open one.
	p := f.signal.next(t)
	if p.Typing || p.ThreadID != "t2" {
		t.Fatalf("expected typing=false for t2, got %+v", p)
	}
}

func TestTypingSwitchingThreadsStopsOldFirst(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	f := startTypingSession(t, store, time.Minute, time.Minute)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t1", Typing: true})
	f.signal.next(t)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventTyping, ThreadID: "t2", Typing: true})

	if p := f.signal.next(t); p.Typing || p.ThreadID != "t1" {
		t.Fatalf("expected typing=false for t1, got %+v", p)
	}
	if p := f.signal.next(t); !p.Typing || p.ThreadID != "t2" {
		t.Fatalf("expected typing=true for t2, got %+v", p)
	}
}

func TestPeerTypingForwardedAndExpires(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"))
	f := startTypingSession(t, store, time.Minute, 60*time.Millisecond)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.TypingSink(ws.TypingPayload{ThreadID: "t1", UserID: "u2", Username: "bob", Typing: true})
	frame := f.sender.next(t, ws.EventTyping).Payload.(ws.TypingPayload)
	if !frame.Typing || frame.Username != "bob" {
		t.Fatalf("unexpected forwarded frame: %+v", frame)
	}

	// No refresh from bob: the expiry timer clears him.
	frame = f.sender.next(t, ws.EventTyping).Payload.(ws.TypingPayload)
	if frame.Typing || frame.UserID != "u2" {
		t.Fatalf("expected expiry typing=false, got %+v", frame)
	}
}

func TestPeerTypingOtherThreadIgnored(t *testing.T) {
	store := newFakeStore(threadFixture("t1", "General"), threadFixture("t2", "Paulini"))
	f := startTypingSession(t, store, time.Minute, time.Minute)
	f.sess.HandleIncoming(ws.IncomingMessage{Type: ws.EventSelectThread, ThreadID: "t1"})
	f.sender.next(t, ws.EventMessages)

	f.sess.TypingSink(ws.TypingPayload{ThreadID: "t2", UserID: "u2", Username: "bob", Typing: true})
	f.sender.expectNone(t, ws.EventTyping, 100*time.Millisecond)
}
