package bus

import (
	"testing"
	"time"

	"github.com/andrewf414/carols/internal/model"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFansOut(t *testing.T) {
	b := New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{Table: TableThreads, Op: OpInsert, Thread: &model.Thread{ID: "t1"}, ID: "t1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := recvEvent(t, ch)
		if ev.Table != TableThreads || ev.Op != OpInsert || ev.ID != "t1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Thread == nil || ev.Thread.ID != "t1" {
			t.Fatalf("thread payload missing: %+v", ev)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(Event{Table: TableMessages, Op: OpInsert, ID: "m1"})
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Table: TableMessages, Op: OpInsert, ID: "m"})
	}
	// The slow subscriber keeps only the buffered window.
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, got)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after bus close")
	}
	// Idempotent close and post-close subscribe.
	b.Close()
	ch2, cancel2 := b.Subscribe()
	cancel2()
	if _, ok := <-ch2; ok {
		t.Fatal("expected closed channel from post-close subscribe")
	}
}
