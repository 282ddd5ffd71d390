package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/auth"
)

type PreferenceHandler struct {
	Prefs *alert.PreferenceStore
}

type preferenceDTO struct {
	UserID        uint64     `json:"user_id"`
	OptedIn       bool       `json:"opted_in"`
	Frequency     string     `json:"frequency"`
	RiskThreshold float64    `json:"risk_threshold"`
	PausedUntil   *time.Time `json:"paused_until"`
	BlackoutStart *time.Time `json:"blackout_start"`
	BlackoutEnd   *time.Time `json:"blackout_end"`
	LastSentAt    *time.Time `json:"last_sent_at"`
	EmailOverride *string    `json:"email_override"`
	Unsubscribed  *time.Time `json:"unsubscribed_at"`
}

func toPreferenceDTO(p *alert.AlertPreference) preferenceDTO {
	return preferenceDTO{
		UserID:        p.UserID,
		OptedIn:       p.OptedIn,
		Frequency:     p.Frequency,
		RiskThreshold: p.RiskThreshold,
		PausedUntil:   p.PausedUntil,
		BlackoutStart: p.BlackoutStart,
		BlackoutEnd:   p.BlackoutEnd,
		LastSentAt:    p.LastSentAt,
		EmailOverride: p.EmailOverride,
		Unsubscribed:  p.UnsubscribedAt,
	}
}

func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	pref, err := h.Prefs.GetOrCreate(r.Context(), uid)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceDTO(pref))
}

// Update applies a partial preference update. Fields are decoded raw so a
// present-but-null timestamp clears the value while an absent key leaves
// it alone.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	var in alert.PreferenceUpdate
	if v, ok := raw["frequency"]; ok {
		var f string
		if err := json.Unmarshal(v, &f); err != nil {
			http.Error(w, "frequency must be a string", http.StatusBadRequest)
			return
		}
		in.Frequency = &f
	}
	if v, ok := raw["risk_threshold"]; ok {
		var t float64
		if err := json.Unmarshal(v, &t); err != nil {
			http.Error(w, "risk_threshold must be a number", http.StatusBadRequest)
			return
		}
		in.RiskThreshold = &t
	}
	if v, ok := raw["opted_in"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			http.Error(w, "opted_in must be a boolean", http.StatusBadRequest)
			return
		}
		in.OptedIn = &b
	}
	if v, ok := raw["email_override"]; ok {
		in.SetEmailOverride = true
		if !isNull(v) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				http.Error(w, "email_override must be a string or null", http.StatusBadRequest)
				return
			}
			in.EmailOverride = &s
		}
	}

	var badField string
	in.PausedUntil, in.SetPausedUntil, badField = parseTimeField(raw, "paused_until", badField)
	in.BlackoutStart, in.SetBlackoutStart, badField = parseTimeField(raw, "blackout_start", badField)
	in.BlackoutEnd, in.SetBlackoutEnd, badField = parseTimeField(raw, "blackout_end", badField)
	if badField != "" {
		http.Error(w, badField+" must be an RFC3339 timestamp or null", http.StatusBadRequest)
		return
	}

	pref, err := h.Prefs.Update(r.Context(), uid, in)
	if err != nil {
		if errors.Is(err, alert.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toPreferenceDTO(pref))
}

func (h *PreferenceHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	pref, err := h.Prefs.Unsubscribe(r.Context(), uid)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"unsubscribed_at": pref.UnsubscribedAt,
	})
}

func parseTimeField(raw map[string]json.RawMessage, key, prevBad string) (*time.Time, bool, string) {
	if prevBad != "" {
		return nil, false, prevBad
	}
	v, ok := raw[key]
	if !ok {
		return nil, false, ""
	}
	if isNull(v) {
		return nil, true, ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, false, key
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, false, key
	}
	t = t.UTC()
	return &t, true, ""
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}
