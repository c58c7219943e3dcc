package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/push"
	"github.com/andrewf414/carols/internal/storage"
)

type PushHandler struct {
	store     storage.Store
	publicKey string
}

func NewPushHandler(store storage.Store, publicKey string) *PushHandler {
	return &PushHandler{store: store, publicKey: publicKey}
}

type subscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription (endpoint, keys.p256dh, keys.auth) required")
		return
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscription encode")
		return
	}
	if err := h.store.AddPushSubscription(r.Context(), userID, sub.Endpoint, raw); err != nil {
		if errors.Is(err, storage.ErrTooManySubscriptions) {
			writeError(w, http.StatusConflict, "too many subscriptions for this user")
			return
		}
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "user id required")
		return
	}
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.store.RemovePushSubscription(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pushConfigResponse struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key,omitempty"`
}

// Config exposes the VAPID public key the browser needs to subscribe.
func (h *PushHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pushConfigResponse{
		Enabled:   h.publicKey != "",
		PublicKey: h.publicKey,
	})
}
