package session

import (
	"time"

	"github.com/andrewf414/carols/internal/ws"
)

// Sender-side debounce. The first keystroke broadcasts typing=true and
// arms a timer; keystrokes inside the window only mark activity. When the
// timer fires with activity, typing=true goes out again (keeping peers
// alive, since their expiry window is longer); without activity the
// broadcast flips to false and the debounce disarms.
func (s *Session) handleOwnTyping(msg ws.IncomingMessage) {
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = s.openThread
	}
	if threadID == "" {
		return
	}
	if !msg.Typing {
		s.stopOwnTyping()
		return
	}
	if s.typingArmed {
		if threadID == s.typingThread {
			s.typingActive = true
			return
		}
		// Typing moved to another thread: close out the old one first.
		s.stopOwnTyping()
	}
	s.typingArmed = true
	s.typingActive = false
	s.typingThread = threadID
	s.broadcastTyping(threadID, true)
	s.typingTimer = time.AfterFunc(s.typingDebounce, func() {
		s.enqueue(event{kind: kindDebounceFired})
	})
}

func (s *Session) handleDebounceFired() {
	if !s.typingArmed {
		return
	}
	if s.typingActive {
		s.typingActive = false
		s.broadcastTyping(s.typingThread, true)
		s.typingTimer = time.AfterFunc(s.typingDebounce, func() {
			s.enqueue(event{kind: kindDebounceFired})
		})
		return
	}
	s.typingArmed = false
	s.typingTimer = nil
	s.broadcastTyping(s.typingThread, false)
	s.typingThread = ""
}

// stopOwnTyping disarms the debounce, broadcasting typing=false if peers
// currently see us as typing. Called on submit, thread change and teardown.
func (s *Session) stopOwnTyping() {
	if !s.typingArmed {
		return
	}
	s.typingArmed = false
	s.typingActive = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.broadcastTyping(s.typingThread, false)
	s.typingThread = ""
}

func (s *Session) broadcastTyping(threadID string, typing bool) {
	s.signal.BroadcastTyping(ws.TypingPayload{
		ThreadID: threadID,
		UserID:   s.userID,
		Username: s.username,
		Typing:   typing,
	})
}

// Receiver side. Typing relays for the open thread are forwarded to the
// client; each typing peer carries an expiry timer so a vanished sender
// (closed tab, lost connection) clears itself.
func (s *Session) handlePeerTyping(p ws.TypingPayload) {
	if p.ThreadID != s.openThread {
		return
	}
	if !p.Typing {
		s.dropPeer(p.UserID, true)
		return
	}
	if peer, ok := s.peers[p.UserID]; ok {
		peer.timer.Reset(s.typingExpiry)
	} else {
		userID := p.UserID
		s.peers[userID] = &peerState{
			username: p.Username,
			timer: time.AfterFunc(s.typingExpiry, func() {
				s.enqueue(event{kind: kindPeerExpired, peerID: userID})
			}),
		}
	}
	s.out.Send(ws.OutgoingMessage{Type: ws.EventTyping, Payload: p})
}

func (s *Session) handlePeerExpired(userID string) {
	s.dropPeer(userID, true)
}

// dropPeer removes a typing peer; when forward is set the client is told
// the peer stopped.
func (s *Session) dropPeer(userID string, forward bool) {
	peer, ok := s.peers[userID]
	if !ok {
		return
	}
	peer.timer.Stop()
	delete(s.peers, userID)
	if forward {
		s.out.Send(ws.OutgoingMessage{Type: ws.EventTyping, Payload: ws.TypingPayload{
			ThreadID: s.openThread,
			UserID:   userID,
			Username: peer.username,
			Typing:   false,
		}})
	}
}

func (s *Session) clearPeers() {
	for id, peer := range s.peers {
		peer.timer.Stop()
		delete(s.peers, id)
	}
}
