package ws

import (
	"reflect"
	"testing"
)

func testClient(h *Hub, userID, username string) *Client {
	c := &Client{
		hub:      h,
		send:     make(chan OutgoingMessage, 8),
		userID:   userID,
		username: username,
		done:     make(chan struct{}),
	}
	h.clients[c] = struct{}{}
	if _, ok := h.byUser[userID]; !ok {
		h.byUser[userID] = make(map[*Client]struct{})
	}
	h.byUser[userID][c] = struct{}{}
	h.total++
	return c
}

func TestOnlineUsernamesDeduplicates(t *testing.T) {
	h := NewHub(10, 8)
	testClient(h, "u1", "alice")
	testClient(h, "u1", "alice") // second tab
	testClient(h, "u2", "bob")

	got := h.OnlineUsernames()
	want := []string{"alice", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("OnlineUsernames() = %v, want %v", got, want)
	}
	if !h.IsOnline("u1") || h.IsOnline("u3") {
		t.Fatal("IsOnline wrong")
	}
}

func TestUpdateUsernameRenamesLiveConnections(t *testing.T) {
	h := NewHub(10, 8)
	c := testClient(h, "u1", "alice")
	testClient(h, "u2", "bob")

	h.UpdateUsername("u1", "alicia")
	if c.username != "alicia" {
		t.Fatalf("client username not updated: %q", c.username)
	}
	got := h.OnlineUsernames()
	want := []string{"alicia", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("OnlineUsernames() = %v, want %v", got, want)
	}
	// The rename re-announces presence to everyone.
	for cl := range h.clients {
		select {
		case msg := <-cl.send:
			if msg.Type != EventOnlineUsers {
				t.Fatalf("expected online_users frame, got %q", msg.Type)
			}
		default:
			t.Fatal("client got no presence frame")
		}
	}
}

func TestBroadcastTypingSkipsSender(t *testing.T) {
	h := NewHub(10, 8)
	var relayed []string
	a := testClient(h, "u1", "alice")
	a.typingSink = func(p TypingPayload) { relayed = append(relayed, "alice<-"+p.Username) }
	b := testClient(h, "u2", "bob")
	b.typingSink = func(p TypingPayload) { relayed = append(relayed, "bob<-"+p.Username) }

	h.BroadcastTyping(TypingPayload{ThreadID: "t1", UserID: "u1", Username: "alice", Typing: true})
	if len(relayed) != 1 || relayed[0] != "bob<-alice" {
		t.Fatalf("unexpected relays: %v", relayed)
	}
}
