package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrValidation wraps malformed preference updates: bad frequency,
// threshold out of [0,100], blackout_start after blackout_end.
var ErrValidation = errors.New("invalid preference")

// ErrNoPreference is returned when a user has no preference row yet.
var ErrNoPreference = errors.New("no alert preference")

// PreferenceStore owns AlertPreference rows. Injected wherever preferences
// are read; there is no process-wide singleton.
type PreferenceStore struct {
	DB *gorm.DB
}

// PreferenceUpdate carries a partial update. For nullable timestamp fields
// the Set flag distinguishes "leave alone" from "clear" (value nil).
type PreferenceUpdate struct {
	OptedIn       *bool
	Frequency     *string
	RiskThreshold *float64

	PausedUntil    *time.Time
	SetPausedUntil bool

	BlackoutStart    *time.Time
	SetBlackoutStart bool

	BlackoutEnd    *time.Time
	SetBlackoutEnd bool

	EmailOverride    *string
	SetEmailOverride bool
}

func (s *PreferenceStore) Get(ctx context.Context, userID uint64) (*AlertPreference, error) {
	var pref AlertPreference
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPreference
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// GetOrCreate returns the user's preference, creating the default row on
// first access. A concurrent create losing the unique-index race falls
// back to re-reading the winner's row.
func (s *PreferenceStore) GetOrCreate(ctx context.Context, userID uint64) (*AlertPreference, error) {
	pref, err := s.Get(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, ErrNoPreference) {
		return nil, err
	}

	fresh := AlertPreference{
		UserID:        userID,
		OptedIn:       true,
		Frequency:     FrequencyInstant,
		RiskThreshold: 70,
	}
	createErr := s.DB.WithContext(ctx).Create(&fresh).Error
	if createErr == nil {
		return &fresh, nil
	}
	if errors.Is(createErr, gorm.ErrDuplicatedKey) {
		return s.Get(ctx, userID)
	}
	return nil, createErr
}

func (s *PreferenceStore) Update(ctx context.Context, userID uint64, in PreferenceUpdate) (*AlertPreference, error) {
	pref, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Frequency != nil {
		if !ValidFrequency(*in.Frequency) {
			return nil, fmt.Errorf("%w: frequency must be instant, daily, or weekly", ErrValidation)
		}
		pref.Frequency = *in.Frequency
	}
	if in.RiskThreshold != nil {
		if *in.RiskThreshold < 0 || *in.RiskThreshold > 100 {
			return nil, fmt.Errorf("%w: risk_threshold must be between 0 and 100", ErrValidation)
		}
		pref.RiskThreshold = *in.RiskThreshold
	}
	if in.OptedIn != nil {
		pref.OptedIn = *in.OptedIn
		if *in.OptedIn {
			pref.UnsubscribedAt = nil
		}
	}
	if in.SetPausedUntil {
		pref.PausedUntil = in.PausedUntil
	}
	if in.SetBlackoutStart {
		pref.BlackoutStart = in.BlackoutStart
	}
	if in.SetBlackoutEnd {
		pref.BlackoutEnd = in.BlackoutEnd
	}
	if in.SetEmailOverride {
		pref.EmailOverride = in.EmailOverride
	}

	if pref.BlackoutStart != nil && pref.BlackoutEnd != nil && pref.BlackoutStart.After(*pref.BlackoutEnd) {
		return nil, fmt.Errorf("%w: blackout_start must be before blackout_end", ErrValidation)
	}

	if err := s.DB.WithContext(ctx).Save(pref).Error; err != nil {
		return nil, err
	}
	return pref, nil
}

// Unsubscribe opts the user out. The row is kept; unsubscribed_at records
// when.
func (s *PreferenceStore) Unsubscribe(ctx context.Context, userID uint64) (*AlertPreference, error) {
	pref, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	pref.OptedIn = false
	pref.UnsubscribedAt = &now
	if err := s.DB.WithContext(ctx).Save(pref).Error; err != nil {
		return nil, err
	}
	return pref, nil
}

// MarkSent records a successful send for the frequency gate.
func (s *PreferenceStore) MarkSent(ctx context.Context, userID uint64, at time.Time) error {
	return s.DB.WithContext(ctx).
		Model(&AlertPreference{}).
		Where("user_id = ?", userID).
		Update("last_sent_at", at).Error
}

// ListForDigest returns opted-in preferences on the given frequency whose
// pause has lapsed. Blackout windows are checked per-preference by the
// caller through the eligibility predicate.
func (s *PreferenceStore) ListForDigest(ctx context.Context, frequency string, now time.Time) ([]AlertPreference, error) {
	var prefs []AlertPreference
	err := s.DB.WithContext(ctx).
		Where("frequency = ? AND opted_in = ?", frequency, true).
		Where("paused_until IS NULL OR paused_until <= ?", now).
		Order("user_id asc").
		Find(&prefs).Error
	return prefs, err
}

// ShouldAlert is the pure eligibility predicate of (preference, risk, now).
// No side effects: pause auto-clears because it is a comparison, not a
// stored transition.
func ShouldAlert(pref *AlertPreference, riskLevel float64, now time.Time) bool {
	if pref == nil || !pref.OptedIn {
		return false
	}
	if pref.PausedUntil != nil && now.Before(*pref.PausedUntil) {
		return false
	}
	if inBlackout(pref, now) {
		return false
	}
	if riskLevel < pref.RiskThreshold {
		return false
	}
	switch pref.Frequency {
	case FrequencyInstant:
		return true
	case FrequencyDaily:
		return pref.LastSentAt == nil || now.Sub(*pref.LastSentAt) >= 24*time.Hour
	case FrequencyWeekly:
		return pref.LastSentAt == nil || now.Sub(*pref.LastSentAt) >= 7*24*time.Hour
	default:
		return false
	}
}

// ImmediateGate evaluates the immediate-alert path and returns the failure
// status, or "" when eligible. Pause, blackout, opt-out, and a non-instant
// frequency all read as "not subscribed to immediate alerts".
func ImmediateGate(pref *AlertPreference, riskScore float64, now time.Time) Status {
	if pref == nil || !pref.OptedIn {
		return StatusNotSubscribed
	}
	if pref.PausedUntil != nil && now.Before(*pref.PausedUntil) {
		return StatusNotSubscribed
	}
	if inBlackout(pref, now) {
		return StatusNotSubscribed
	}
	if pref.Frequency != FrequencyInstant && pref.Frequency != "immediate" {
		return StatusNotSubscribed
	}
	if riskScore < pref.RiskThreshold {
		return StatusBelowThreshold
	}
	return ""
}

// DigestGate evaluates whether a digest may go to this user right now.
func DigestGate(pref *AlertPreference, now time.Time) Status {
	if pref == nil || !pref.OptedIn {
		return StatusNotSubscribed
	}
	if pref.PausedUntil != nil && now.Before(*pref.PausedUntil) {
		return StatusNotSubscribed
	}
	if inBlackout(pref, now) {
		return StatusNotSubscribed
	}
	return ""
}

func inBlackout(pref *AlertPreference, now time.Time) bool {
	return pref.BlackoutStart != nil && pref.BlackoutEnd != nil &&
		!now.Before(*pref.BlackoutStart) && !now.After(*pref.BlackoutEnd)
}
