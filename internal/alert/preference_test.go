package alert_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"firewatch/internal/alert"
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
		&alert.AlertPreference{},
		&alert.MonitoredArea{},
		&alert.AlertActivity{},
	))
	return gdb
}

func strp(s string) *string { return &s }

func f64p(f float64) *float64 { return &f }

func boolp(b bool) *bool { return &b }

func timep(v time.Time) *time.Time { return &v }

func basePref() *alert.AlertPreference {
	return &alert.AlertPreference{
		UserID:        1,
		OptedIn:       true,
		Frequency:     alert.FrequencyInstant,
		RiskThreshold: 70,
	}
}

func TestShouldAlertOptedOut(t *testing.T) {
	now := time.Now().UTC()

	assert.False(t, alert.ShouldAlert(nil, 90, now))

	pref := basePref()
	pref.OptedIn = false
	assert.False(t, alert.ShouldAlert(pref, 90, now))
}

func TestShouldAlertThreshold(t *testing.T) {
	now := time.Now().UTC()
	pref := basePref()

	assert.True(t, alert.ShouldAlert(pref, 70, now), "score at threshold alerts")
	assert.False(t, alert.ShouldAlert(pref, 69.9, now))
}

func TestShouldAlertPause(t *testing.T) {
	now := time.Now().UTC()
	pref := basePref()

	pref.PausedUntil = timep(now.Add(time.Hour))
	assert.False(t, alert.ShouldAlert(pref, 90, now))

	// Pause lapses by comparison alone; no write needed.
	pref.PausedUntil = timep(now.Add(-time.Minute))
	assert.True(t, alert.ShouldAlert(pref, 90, now))
}

func TestShouldAlertBlackout(t *testing.T) {
	now := time.Now().UTC()
	pref := basePref()
	pref.BlackoutStart = timep(now.Add(-time.Hour))
	pref.BlackoutEnd = timep(now.Add(time.Hour))

	assert.False(t, alert.ShouldAlert(pref, 90, now))
	assert.True(t, alert.ShouldAlert(pref, 90, now.Add(2*time.Hour)))
	assert.True(t, alert.ShouldAlert(pref, 90, now.Add(-2*time.Hour)))
}

func TestShouldAlertFrequencyGates(t *testing.T) {
	now := time.Now().UTC()

	pref := basePref()
	pref.Frequency = alert.FrequencyDaily
	assert.True(t, alert.ShouldAlert(pref, 90, now), "never sent before")

	pref.LastSentAt = timep(now.Add(-23 * time.Hour))
	assert.False(t, alert.ShouldAlert(pref, 90, now))

	pref.LastSentAt = timep(now.Add(-25 * time.Hour))
	assert.True(t, alert.ShouldAlert(pref, 90, now))

	pref.Frequency = alert.FrequencyWeekly
	pref.LastSentAt = timep(now.Add(-6 * 24 * time.Hour))
	assert.False(t, alert.ShouldAlert(pref, 90, now))

	pref.LastSentAt = timep(now.Add(-8 * 24 * time.Hour))
	assert.True(t, alert.ShouldAlert(pref, 90, now))
}

func TestImmediateGate(t *testing.T) {
	now := time.Now().UTC()

	pref := basePref()
	assert.Equal(t, alert.Status(""), alert.ImmediateGate(pref, 75, now))
	assert.Equal(t, alert.StatusBelowThreshold, alert.ImmediateGate(pref, 40, now))

	pref.Frequency = alert.FrequencyDaily
	assert.Equal(t, alert.StatusNotSubscribed, alert.ImmediateGate(pref, 75, now),
		"digest users do not receive immediate alerts")

	assert.Equal(t, alert.StatusNotSubscribed, alert.ImmediateGate(nil, 75, now))
}

func TestGetOrCreateDefaults(t *testing.T) {
	gdb := testDB(t)
	store := &alert.PreferenceStore{DB: gdb}
	ctx := context.Background()

	_, err := store.Get(ctx, 1)
	require.ErrorIs(t, err, alert.ErrNoPreference)

	pref, err := store.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.True(t, pref.OptedIn)
	assert.Equal(t, alert.FrequencyInstant, pref.Frequency)
	assert.Equal(t, 70.0, pref.RiskThreshold)

	again, err := store.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pref.ID, again.ID, "second call reuses the row")

	var n int64
	require.NoError(t, gdb.Model(&alert.AlertPreference{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestUpdateValidation(t *testing.T) {
	gdb := testDB(t)
	store := &alert.PreferenceStore{DB: gdb}
	ctx := context.Background()

	_, err := store.Update(ctx, 1, alert.PreferenceUpdate{Frequency: strp("hourly")})
	assert.ErrorIs(t, err, alert.ErrValidation)

	_, err = store.Update(ctx, 1, alert.PreferenceUpdate{RiskThreshold: f64p(150)})
	assert.ErrorIs(t, err, alert.ErrValidation)

	_, err = store.Update(ctx, 1, alert.PreferenceUpdate{RiskThreshold: f64p(-1)})
	assert.ErrorIs(t, err, alert.ErrValidation)

	now := time.Now().UTC()
	_, err = store.Update(ctx, 1, alert.PreferenceUpdate{
		BlackoutStart:    timep(now.Add(time.Hour)),
		SetBlackoutStart: true,
		BlackoutEnd:      timep(now),
		SetBlackoutEnd:   true,
	})
	assert.ErrorIs(t, err, alert.ErrValidation)
}

func TestUpdateAndClearPause(t *testing.T) {
	gdb := testDB(t)
	store := &alert.PreferenceStore{DB: gdb}
	ctx := context.Background()

	until := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	pref, err := store.Update(ctx, 1, alert.PreferenceUpdate{
		Frequency:      strp(alert.FrequencyDaily),
		RiskThreshold:  f64p(50),
		PausedUntil:    &until,
		SetPausedUntil: true,
	})
	require.NoError(t, err)
	assert.Equal(t, alert.FrequencyDaily, pref.Frequency)
	assert.Equal(t, 50.0, pref.RiskThreshold)
	require.NotNil(t, pref.PausedUntil)

	pref, err = store.Update(ctx, 1, alert.PreferenceUpdate{SetPausedUntil: true})
	require.NoError(t, err)
	assert.Nil(t, pref.PausedUntil, "explicit null clears the pause")
}

func TestUnsubscribeAndResubscribe(t *testing.T) {
	gdb := testDB(t)
	store := &alert.PreferenceStore{DB: gdb}
	ctx := context.Background()

	pref, err := store.Unsubscribe(ctx, 1)
	require.NoError(t, err)
	assert.False(t, pref.OptedIn)
	require.NotNil(t, pref.UnsubscribedAt)
	assert.False(t, alert.ShouldAlert(pref, 100, time.Now().UTC()))

	pref, err = store.Update(ctx, 1, alert.PreferenceUpdate{OptedIn: boolp(true)})
	require.NoError(t, err)
	assert.True(t, pref.OptedIn)
	assert.Nil(t, pref.UnsubscribedAt, "re-opting in clears the unsubscribe mark")
}

func TestListForDigest(t *testing.T) {
	gdb := testDB(t)
	store := &alert.PreferenceStore{DB: gdb}
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []alert.AlertPreference{
		{UserID: 1, OptedIn: true, Frequency: alert.FrequencyDaily, RiskThreshold: 70},
		{UserID: 2, OptedIn: true, Frequency: alert.FrequencyWeekly, RiskThreshold: 70},
		{UserID: 3, OptedIn: true, Frequency: alert.FrequencyDaily, RiskThreshold: 70},
		{UserID: 4, OptedIn: true, Frequency: alert.FrequencyDaily, RiskThreshold: 70,
			PausedUntil: timep(now.Add(time.Hour))},
		{UserID: 5, OptedIn: true, Frequency: alert.FrequencyDaily, RiskThreshold: 70,
			PausedUntil: timep(now.Add(-time.Hour))},
	}
	for i := range rows {
		require.NoError(t, gdb.Create(&rows[i]).Error)
	}
	_, err := store.Unsubscribe(ctx, 3)
	require.NoError(t, err)

	prefs, err := store.ListForDigest(ctx, alert.FrequencyDaily, now)
	require.NoError(t, err)
	require.Len(t, prefs, 2)

	got := make([]uint64, 0, len(prefs))
	for _, p := range prefs {
		got = append(got, p.UserID)
	}
	assert.Equal(t, []uint64{1, 5}, got)
}
