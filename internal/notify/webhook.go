package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gametrust/gametrust/internal/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-GameTrust-Signature"

// UserHeader identifies the notification recipient.
const UserHeader = "X-GameTrust-User"

const deliveryTimeout = 10 * time.Second

// WebhookNotifier POSTs signed event payloads to a receiver endpoint.
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url, secret string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("notification marshal failed", "event", event.Type, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("notification request failed", "event", event.Type, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, userID)
	req.Header.Set(SignatureHeader, n.sign(body))

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed",
			"event", event.Type, "user", userID, "error", err)
		metrics.NotificationDeliveriesTotal.WithLabelValues("failure").Inc()
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected by receiver",
			"event", event.Type, "user", userID, "status", resp.StatusCode)
		metrics.NotificationDeliveriesTotal.WithLabelValues("rejected").Inc()
		return
	}
	metrics.NotificationDeliveriesTotal.WithLabelValues("success").Inc()
}

func (n *WebhookNotifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the body. Exposed for
// receivers built on this module.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
