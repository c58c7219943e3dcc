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

const maxThreadNameLength = 100

type ThreadHandler struct {
	threadRepo *repository.ThreadRepository
	userRepo   *repository.UserRepository
	bus        *bus.Bus
}

func NewThreadHandler(threadRepo *repository.ThreadRepository, userRepo *repository.UserRepository, b *bus.Bus) *ThreadHandler {
	return &ThreadHandler{threadRepo: threadRepo, userRepo: userRepo, bus: b}
}

func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	threads, err := h.threadRepo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type createThreadRequest struct {
	Name string `json:"name"`
}

func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if utf8.RuneCountInString(name) > maxThreadNameLength {
		writeError(w, http.StatusBadRequest, "name too long")
		return
	}

	var createdBy *string
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		createdBy = &userID
	}
	t := &model.Thread{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.threadRepo.Create(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	h.bus.Publish(bus.Event{Table: bus.TableThreads, Op: bus.OpInsert, Thread: t, ID: t.ID})
	writeJSON(w, http.StatusCreated, t)
}

func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.threadRepo.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}
	h.bus.Publish(bus.Event{Table: bus.TableThreads, Op: bus.OpDelete, ID: id})
	w.WriteHeader(http.StatusNoContent)
}

type initializeResponse struct {
	Count   int            `json:"count"`
	Threads []model.Thread `json:"threads"`
}

// Initialize seeds the default thread list. Admin only, and only while the
// threads table is still empty.
func (h *ThreadHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if !u.IsAdmin {
		writeError(w, http.StatusForbidden, "only an admin can initialize threads")
		return
	}

	threads, err := h.threadRepo.SeedDefaults(r.Context(), userID)
	if errors.Is(err, repository.ErrThreadsExist) {
		writeError(w, http.StatusBadRequest, "threads already initialized")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to initialize threads")
		return
	}
	for i := range threads {
		t := threads[i]
		h.bus.Publish(bus.Event{Table: bus.TableThreads, Op: bus.OpInsert, Thread: &t, ID: t.ID})
	}
	writeJSON(w, http.StatusCreated, initializeResponse{Count: len(threads), Threads: threads})
}
