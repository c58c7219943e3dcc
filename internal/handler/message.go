package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/model"
	"github.com/andrewf414/carols/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type MessageHandler struct {
	msgRepo    *repository.MessageRepository
	threadRepo *repository.ThreadRepository
	userRepo   *repository.UserRepository
	bus        *bus.Bus
}

func NewMessageHandler(
	msgRepo *repository.MessageRepository,
	threadRepo *repository.ThreadRepository,
	userRepo *repository.UserRepository,
	b *bus.Bus,
) *MessageHandler {
	return &MessageHandler{
		msgRepo:    msgRepo,
		threadRepo: threadRepo,
		userRepo:   userRepo,
		bus:        b,
	}
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if _, err := h.threadRepo.GetByID(r.Context(), threadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	messages, err := h.msgRepo.ListByThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type createMessageRequest struct {
	Content string `json:"content"`
}

// Create appends a message over REST. The WebSocket send_message command
// is the primary path; this exists for curl and non-socket clients and
// feeds the same change bus, so live sessions and the push relay pick the
// message up either way.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	sender, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if _, err := h.threadRepo.GetByID(r.Context(), threadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}
	if utf8.RuneCountInString(content) > model.MaxMessageLength {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Username:  sender.Username,
	}
	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	h.bus.Publish(bus.Event{Table: bus.TableMessages, Op: bus.OpInsert, Message: m, ID: m.ID})
	writeJSON(w, http.StatusCreated, m)
}
