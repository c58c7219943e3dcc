package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrewf414/carols/internal/bus"
	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/model"
	"github.com/andrewf414/carols/internal/repository"
	"github.com/andrewf414/carols/internal/storage"
	"github.com/andrewf414/carols/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const minUsernameLength = 2

type UserHandler struct {
	userRepo *repository.UserRepository
	store    storage.Store
	hub      *ws.Hub
	bus      *bus.Bus
}

func NewUserHandler(userRepo *repository.UserRepository, store storage.Store, hub *ws.Hub, b *bus.Bus) *UserHandler {
	return &UserHandler{userRepo: userRepo, store: store, hub: hub, bus: b}
}

type registerRequest struct {
	Username string `json:"username"`
}

func validUsername(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	return name, utf8.RuneCountInString(name) >= minUsernameLength
}

// Register signs a user in by display name alone: an existing name returns
// that user, a new name creates one. Two clients racing on the same fresh
// name converge on a single row via the unique constraint.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	allowed, err := h.store.CheckRegisterRateLimit(r.Context(), clientIP(r))
	if err != nil {
		logger.Errorf("register rate limit: %v", err)
	} else if !allowed {
		writeError(w, http.StatusTooManyRequests, "too many registration attempts")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name, ok := validUsername(req.Username)
	if !ok {
		writeError(w, http.StatusBadRequest, "name must be at least 2 characters")
		return
	}

	existing, err := h.userRepo.GetByUsername(r.Context(), name)
	if err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}

	u := &model.User{
		ID:        uuid.New().String(),
		Username:  name,
		IsAdmin:   false,
		CreatedAt: time.Now().UTC(),
	}
	err = h.userRepo.Create(r.Context(), u)
	if errors.Is(err, repository.ErrDuplicateName) {
		// Lost the race: the name now exists, return that user.
		existing, lookupErr := h.userRepo.GetByUsername(r.Context(), name)
		if lookupErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to look up user")
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	h.bus.Publish(bus.Event{Table: bus.TableUsers, Op: bus.OpInsert, User: u, ID: u.ID})
	writeJSON(w, http.StatusCreated, u)
}

type updateUserRequest struct {
	Username string `json:"username"`
}

// Update renames a user. Callers can only rename themselves.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if middleware.GetUserID(r.Context()) != id {
		writeError(w, http.StatusForbidden, "can only update own profile")
		return
	}
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name, ok := validUsername(req.Username)
	if !ok {
		writeError(w, http.StatusBadRequest, "name must be at least 2 characters")
		return
	}

	err := h.userRepo.UpdateUsername(r.Context(), id, name)
	if errors.Is(err, repository.ErrDuplicateName) {
		writeError(w, http.StatusConflict, "name already taken")
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	u, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	h.hub.UpdateUsername(id, name)
	h.bus.Publish(bus.Event{Table: bus.TableUsers, Op: bus.OpUpdate, User: u, ID: id})
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
