package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"firewatch/internal/alert"

	"go.uber.org/zap"
)

// WebhookHandler ingests delivery-status callbacks from the provider.
// Status updates key off provider_message_id, independent of the send
// path, so they can never race with the dedup check.
type WebhookHandler struct {
	Tracker *alert.Tracker
	Secret  string // svix signing secret, optional
	Log     *zap.SugaredLogger
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		Email struct {
			ID string `json:"id"`
		} `json:"email"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	if h.Secret != "" && !verifySvixSignature(h.Secret, r.Header, body, time.Now()) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	msgID := payload.Data.Email.ID
	if msgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false})
		return
	}

	var matched bool
	switch payload.Type {
	case "email.delivered":
		matched, err = h.Tracker.MarkDelivered(r.Context(), msgID)
	case "email.delivery_delayed", "email.bounced", "email.complained":
		reason := payload.Data.Error.Message
		if reason == "" {
			reason = payload.Type
		}
		matched, err = h.Tracker.MarkFailed(r.Context(), msgID, reason)
	default:
		// Unknown event types are acknowledged and dropped.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if err != nil {
		h.Log.Errorw("webhook update failed", "type", payload.Type, "message_id", msgID, "err", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !matched {
		h.Log.Warnw("webhook for unknown message", "type", payload.Type, "message_id", msgID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// verifySvixSignature checks the svix-style signature Resend attaches:
// HMAC-SHA256 over "<id>.<timestamp>.<body>" with the whsec_ secret,
// base64, any matching "v1,<sig>" entry accepted. Timestamps older than
// five minutes are rejected.
func verifySvixSignature(secret string, header http.Header, body []byte, now time.Time) bool {
	id := header.Get("svix-id")
	ts := header.Get("svix-timestamp")
	sigHeader := header.Get("svix-signature")
	if id == "" || ts == "" || sigHeader == "" {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Unix() - unix
	if drift < -300 || drift > 300 {
		return false
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(sigHeader) {
		parts := strings.SplitN(entry, ",", 2)
		if len(parts) == 2 && parts[0] == "v1" && hmac.Equal([]byte(parts[1]), []byte(want)) {
			return true
		}
	}
	return false
}
