package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/repository"
	"github.com/go-chi/chi/v5"
)

type ViewHandler struct {
	viewRepo   *repository.ThreadViewRepository
	threadRepo *repository.ThreadRepository
}

func NewViewHandler(viewRepo *repository.ThreadViewRepository, threadRepo *repository.ThreadRepository) *ViewHandler {
	return &ViewHandler{viewRepo: viewRepo, threadRepo: threadRepo}
}

// MarkViewed moves the caller's view bookmark for the thread to now.
// Messages at or before the bookmark no longer count as unread.
func (h *ViewHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	threadID := chi.URLParam(r, "id")
	if _, err := h.threadRepo.GetByID(r.Context(), threadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if err := h.viewRepo.Upsert(r.Context(), userID, threadID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record view")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread returns the caller's unread count per thread.
func (h *ViewHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	threads, err := h.threadRepo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
	}
	counts, err := h.viewRepo.UnreadCounts(r.Context(), userID, ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
