package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/repository"
	"github.com/andrewf414/carols/internal/session"
	"github.com/andrewf414/carols/internal/ws"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub            *ws.Hub
	bus            *bus.Bus
	userRepo       *repository.UserRepository
	sessionStore   session.Store
	allowedOrigins string
}

// NewWSHandler wires a socket endpoint: each accepted connection gets a
// client (the pumps) and a session (the state). allowedOrigins matches the
// CORS config (comma separated, or "*").
func NewWSHandler(hub *ws.Hub, b *bus.Bus, userRepo *repository.UserRepository, store session.Store, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		bus:            b,
		userRepo:       userRepo,
		sessionStore:   store,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		// Browsers cannot set headers on a WebSocket dial.
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user.ID, user.Username)
	sess := session.New(user.ID, user.Username, h.sessionStore, h.hub, client, h.bus)
	client.Bind(sess, sess.TypingSink)
	go sess.Run(ctx)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
