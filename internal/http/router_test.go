package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"firewatch/internal/config"
	"firewatch/internal/email"
	httpx "firewatch/internal/http"
)

type apiFixture struct {
	router   http.Handler
	db       *gorm.DB
	provider *email.MockProvider
}

func newAPIFixture(t *testing.T) *apiFixture {
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

	provider := email.NewMockProvider()
	renderer, err := email.NewRenderer("https://firewatch.example")
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	prefs := &alert.PreferenceStore{DB: gdb}
	tracker := alert.NewTracker(gdb, 24*time.Hour)
	sender := &alert.Sender{
		DB:       gdb,
		Provider: provider,
		Renderer: renderer,
		Tracker:  tracker,
		Prefs:    prefs,
		Retry:    &email.Executor{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Log:      log,
		LookupEmail: func(ctx context.Context, userID uint64) (string, error) {
			var u auth.User
			if err := gdb.WithContext(ctx).First(&u, userID).Error; err != nil {
				return "", err
			}
			return u.Email, nil
		},
		MaxRetries: 1,
	}

	cfg := config.Config{JWTSecret: "test-secret"}
	router := httpx.NewRouter(cfg, httpx.Deps{
		DB:       gdb,
		JWT:      auth.NewJWT(cfg.JWTSecret),
		Sender:   sender,
		Tracker:  tracker,
		Prefs:    prefs,
		Provider: provider,
		Renderer: renderer,
		Log:      log,
	})

	return &apiFixture{router: router, db: gdb, provider: provider}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (f *apiFixture) register(t *testing.T, emailAddr string) string {
	t.Helper()
	rec, out := f.do(t, http.MethodPost, "/auth/register", "",
		fmt.Sprintf(`{"email":%q,"password":"hunter2hunter2"}`, emailAddr))
	require.Equal(t, http.StatusCreated, rec.Code)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthRegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	token := f.register(t, "user@example.com")

	rec, out := f.do(t, http.MethodGet, "/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", out["email"])

	rec, _ = f.do(t, http.MethodPost, "/auth/register", "",
		`{"email":"user@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, out = f.do(t, http.MethodPost, "/auth/login", "",
		`{"email":"user@example.com","password":"hunter2hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["token"])

	rec, _ = f.do(t, http.MethodPost, "/auth/login", "",
		`{"email":"user@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/alert-preferences", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/alert-preferences", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPreferenceEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "user@example.com")

	// First read creates the default row.
	rec, out := f.do(t, http.MethodGet, "/api/alert-preferences", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["opted_in"])
	assert.Equal(t, "instant", out["frequency"])
	assert.EqualValues(t, 70, out["risk_threshold"])

	rec, _ = f.do(t, http.MethodPut, "/api/alert-preferences", token,
		`{"frequency":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/alert-preferences", token,
		`{"risk_threshold":150}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = f.do(t, http.MethodPut, "/api/alert-preferences", token,
		`{"frequency":"daily","risk_threshold":55,"paused_until":"2026-09-15T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "daily", out["frequency"])
	assert.EqualValues(t, 55, out["risk_threshold"])
	assert.NotNil(t, out["paused_until"])

	// Present-but-null clears; absent leaves alone.
	rec, out = f.do(t, http.MethodPut, "/api/alert-preferences", token,
		`{"paused_until":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, out["paused_until"])
	assert.Equal(t, "daily", out["frequency"])

	rec, out = f.do(t, http.MethodPost, "/api/alert-preferences/unsubscribe", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])

	rec, out = f.do(t, http.MethodGet, "/api/alert-preferences", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["opted_in"])
}

func TestAreaEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "user@example.com")

	rec, out := f.do(t, http.MethodPost, "/api/monitored-areas", token,
		`{"area_name":"Pine Valley"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	areaID := out["id"]

	rec, _ = f.do(t, http.MethodPost, "/api/monitored-areas", token,
		`{"area_name":"Pine Valley"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "same area twice")

	rec, _ = f.do(t, http.MethodPost, "/api/monitored-areas", token, `{"area_name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/monitored-areas", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	// Another user cannot delete it.
	other := f.register(t, "other@example.com")
	rec, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/api/monitored-areas/%v", areaID), other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/api/monitored-areas/%v", areaID), token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerAndHistory(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "user@example.com")

	rec, _ := f.do(t, http.MethodPut, "/api/alert-preferences", token, `{"risk_threshold":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/monitored-areas", token, `{"area_name":"Pine Valley"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{"risk_data":[{"area_name":"Pine Valley","risk_score":75,"contributing_factors":["low humidity"]}]}`
	rec, out := f.do(t, http.MethodPost, "/api/admin/alerts/trigger", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["sent"])
	assert.EqualValues(t, 1, out["total"])
	require.Len(t, f.provider.Sent(), 1)
	assert.Equal(t, "user@example.com", f.provider.Sent()[0].To)

	// Same batch again dedups.
	rec, out = f.do(t, http.MethodPost, "/api/admin/alerts/trigger", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["sent"])
	assert.EqualValues(t, 1, out["total"])

	rec, out = f.do(t, http.MethodGet, "/api/alert-history", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["total"])
	items, ok := out["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
}

func TestSendTestEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "user@example.com")

	rec, out := f.do(t, http.MethodPost, "/api/admin/alerts/send-test", token,
		`{"to":"ops@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.NotEmpty(t, out["message_id"])

	f.provider.FailWith = "invalid api key"
	rec, out = f.do(t, http.MethodPost, "/api/admin/alerts/send-test", token,
		`{"to":"ops@example.com"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "invalid api key", out["error"])
}
