package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/events"

	"github.com/spf13/cast"
)

const (
	maxWebhookBody = 2 << 20

	headerTopic      = "X-WC-Webhook-Topic"
	headerSignature  = "X-WC-Webhook-Signature"
	headerSource     = "X-WC-Webhook-Source"
	headerDeliveryID = "X-WC-Webhook-Delivery-ID"
)

// Sign returns the base64 HMAC-SHA256 of body, as WooCommerce puts in X-WC-Webhook-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// handleWebhook verifies a WooCommerce delivery and publishes it as a hook event.
// Topics that do not map to a syncable entity are acknowledged and dropped.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.webhookSecret == "" || s.deps.Hooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook intake is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	topic := r.Header.Get(headerTopic)
	if topic == "" {
		// WooCommerce pings a new webhook with a form body and no topic.
		writeJSON(w, http.StatusOK, map[string]any{"status": "pong"})
		return
	}
	if !validSignature(s.webhookSecret, body, r.Header.Get(headerSignature)) {
		s.logger.Warn().Str("topic", topic).Str("remote", r.RemoteAddr).Msg("Webhook signature mismatch")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	objectType, action, ok := events.ParseTopic(topic)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "topic": topic})
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := cast.ToInt64E(payload["id"])
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "payload has no entity id")
		return
	}

	hook := events.HookPayload{
		ObjectType: objectType,
		ObjectID:   id,
		Action:     action,
		Source:     r.Header.Get(headerSource),
		DeliveryID: r.Header.Get(headerDeliveryID),
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.deps.Hooks.PublishJSON(r.Context(), events.Topic(objectType, action), hook); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "object_type": objectType, "object_id": id})
}
