package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"firewatch/internal/alert"
	"firewatch/internal/auth"
	"firewatch/internal/http/handler"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, gdb.AutoMigrate(
		&auth.User{},
		&alert.AlertPreference{},
		&alert.MonitoredArea{},
		&alert.AlertActivity{},
	))
	return gdb
}

func seedSentActivity(t *testing.T, tr *alert.Tracker, userID uint64, sig, msgID string) {
	t.Helper()
	_, err := tr.RecordSend(context.Background(), alert.RecordInput{
		UserID:    userID,
		Signature: sig,
		AlertType: alert.TypeImmediate,
	}, msgID)
	require.NoError(t, err)
}

func postWebhook(h *handler.WebhookHandler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email", strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

func TestWebhookDelivered(t *testing.T) {
	gdb := testDB(t)
	tr := alert.NewTracker(gdb, 24*time.Hour)
	h := &handler.WebhookHandler{Tracker: tr, Log: zap.NewNop().Sugar()}

	seedSentActivity(t, tr, 1, "sig-a", "msg_1")

	rec := postWebhook(h, `{"type":"email.delivered","data":{"email":{"id":"msg_1"}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var act alert.AlertActivity
	require.NoError(t, gdb.Where("provider_message_id = ?", "msg_1").First(&act).Error)
	assert.NotNil(t, act.DeliveredAt)
	assert.Nil(t, act.ErrorMessage)
}

func TestWebhookBounced(t *testing.T) {
	gdb := testDB(t)
	tr := alert.NewTracker(gdb, 24*time.Hour)
	h := &handler.WebhookHandler{Tracker: tr, Log: zap.NewNop().Sugar()}

	seedSentActivity(t, tr, 1, "sig-a", "msg_1")

	body := `{"type":"email.bounced","data":{"email":{"id":"msg_1"},"error":{"message":"mailbox full"}}}`
	rec := postWebhook(h, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var act alert.AlertActivity
	require.NoError(t, gdb.Where("provider_message_id = ?", "msg_1").First(&act).Error)
	require.NotNil(t, act.ErrorMessage)
	assert.Equal(t, "mailbox full", *act.ErrorMessage)
	assert.Equal(t, 1, act.RetryCount)
}

func TestWebhookBouncedWithoutReason(t *testing.T) {
	gdb := testDB(t)
	tr := alert.NewTracker(gdb, 24*time.Hour)
	h := &handler.WebhookHandler{Tracker: tr, Log: zap.NewNop().Sugar()}

	seedSentActivity(t, tr, 1, "sig-a", "msg_1")

	rec := postWebhook(h, `{"type":"email.bounced","data":{"email":{"id":"msg_1"}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var act alert.AlertActivity
	require.NoError(t, gdb.Where("provider_message_id = ?", "msg_1").First(&act).Error)
	require.NotNil(t, act.ErrorMessage)
	assert.Equal(t, "email.bounced", *act.ErrorMessage, "event type stands in for a missing reason")
}

func TestWebhookBadPayload(t *testing.T) {
	h := &handler.WebhookHandler{
		Tracker: alert.NewTracker(testDB(t), 24*time.Hour),
		Log:     zap.NewNop().Sugar(),
	}

	rec := postWebhook(h, `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postWebhook(h, `{"type":"email.delivered","data":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing message id")
}

func TestWebhookUnknownTypeAcked(t *testing.T) {
	h := &handler.WebhookHandler{
		Tracker: alert.NewTracker(testDB(t), 24*time.Hour),
		Log:     zap.NewNop().Sugar(),
	}

	rec := postWebhook(h, `{"type":"email.opened","data":{"email":{"id":"msg_1"}}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func svixHeaders(secret, id, body string, at time.Time) http.Header {
	ts := fmt.Sprintf("%d", at.Unix())
	key, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "." + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("svix-id", id)
	h.Set("svix-timestamp", ts)
	h.Set("svix-signature", "v1,"+sig)
	return h
}

func TestWebhookSignatureVerification(t *testing.T) {
	gdb := testDB(t)
	tr := alert.NewTracker(gdb, 24*time.Hour)
	secret := "whsec_" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 24))
	h := &handler.WebhookHandler{Tracker: tr, Secret: secret, Log: zap.NewNop().Sugar()}

	seedSentActivity(t, tr, 1, "sig-a", "msg_1")
	body := `{"type":"email.delivered","data":{"email":{"id":"msg_1"}}}`

	rec := postWebhook(h, body, svixHeaders(secret, "msg_evt_1", body, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(h, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing headers")

	other := "whsec_" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x13}, 24))
	rec = postWebhook(h, body, svixHeaders(other, "msg_evt_2", body, time.Now()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong key")

	rec = postWebhook(h, body, svixHeaders(secret, "msg_evt_3", body, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "stale timestamp")
}
