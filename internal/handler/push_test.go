package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/andrewf414/carols/internal/middleware"
	"github.com/andrewf414/carols/internal/storage/memory"
)

func subscribeBody(endpoint string) *bytes.Buffer {
	return bytes.NewBufferString(fmt.Sprintf(
		`{"subscription":{"endpoint":%q,"keys":{"p256dh":"pk","auth":"ak"}}}`, endpoint))
}

func TestSubscribeRejectsOverCap(t *testing.T) {
	h := NewPushHandler(memory.New(), "vapid-pk")
	r := chi.NewRouter()
	r.Use(middleware.Identity)
	r.Post("/api/push/subscribe", h.Subscribe)

	post := func(endpoint string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", subscribeBody(endpoint))
		req.Header.Set("X-User-Id", "u1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	var code int
	for i := 0; code != http.StatusConflict; i++ {
		if i > 100 {
			t.Fatal("cap never reached")
		}
		code = post(fmt.Sprintf("https://push.example/ep%d", i))
		if code != http.StatusNoContent && code != http.StatusConflict {
			t.Fatalf("unexpected status %d", code)
		}
	}

	// Re-subscribing a stored endpoint still succeeds at the cap.
	if code := post("https://push.example/ep0"); code != http.StatusNoContent {
		t.Fatalf("overwrite at cap: %d", code)
	}
}
