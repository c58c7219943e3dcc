package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/andrewf414/carols/internal/logger"
	"github.com/andrewf414/carols/internal/storage"
)

// Subscription mirrors the browser PushSubscription JSON shape.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Payload is what the service worker receives.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier sends Web Push notifications to stored subscriptions. A nil
// vapid means push is not configured; sends become no-ops while
// subscriptions keep accumulating.
type Notifier struct {
	store storage.Store
	vapid *webpush.Options
}

func NewNotifier(store storage.Store, publicKey, privateKey, contact string) *Notifier {
	n := &Notifier{store: store}
	if publicKey != "" && privateKey != "" {
		if contact == "" {
			contact = "carols-chat"
		}
		n.vapid = &webpush.Options{
			Subscriber:      contact,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		}
	}
	return n
}

// Enabled reports whether VAPID keys are configured.
func (n *Notifier) Enabled() bool { return n.vapid != nil }

// NotifyUsers pushes the payload to every subscription of every listed
// user. Subscriptions the push service reports gone (404/410) are removed.
// Errors are logged, not returned; message delivery never depends on push.
func (n *Notifier) NotifyUsers(ctx context.Context, userIDs []string, p Payload) {
	if n.vapid == nil || len(userIDs) == 0 {
		return
	}
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		logger.Errorf("push: encode payload: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, userID := range userIDs {
		raws, err := n.store.ListPushSubscriptions(ctx, userID)
		if err != nil {
			logger.Errorf("push: list subscriptions for %s: %v", userID, err)
			continue
		}
		for _, raw := range raws {
			var sub Subscription
			if json.Unmarshal(raw, &sub) != nil || sub.Endpoint == "" {
				continue
			}
			n.send(ctx, userID, &sub, payloadBytes)
		}
	}
}

func (n *Notifier) send(ctx context.Context, userID string, sub *Subscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
	if err != nil {
		logger.Errorf("push: send %s: %v", truncate(sub.Endpoint, 50), err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		if err := n.store.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
			logger.Errorf("push: drop gone subscription: %v", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
