package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"firewatch/internal/email"
)

// RiskEvent is one entry of the inbound risk stream. How scores are
// computed is not this package's concern.
type RiskEvent struct {
	AreaID              *uint64  `json:"area_id,omitempty"`
	AreaName            string   `json:"area_name"`
	RiskScore           float64  `json:"risk_score"`
	ContributingFactors []string `json:"contributing_factors,omitempty"`
}

// ScoreSource supplies current and weekly risk figures for digest bodies.
// It is an external collaborator; a nil source renders digests with zero
// scores.
type ScoreSource interface {
	CurrentRisk(ctx context.Context, areaName string) (float64, bool)
	WeeklyRisk(ctx context.Context, areaName string) (avg float64, trend string, ok bool)
}

// Sender orchestrates alert delivery: eligibility, dedup, rendering,
// retried sends, and ledger records.
type Sender struct {
	DB       *gorm.DB
	Provider email.Provider
	Renderer *email.Renderer
	Tracker  *Tracker
	Prefs    *PreferenceStore
	Retry    *email.Executor
	Log      *zap.SugaredLogger

	// LookupEmail resolves a recipient address when the preference row
	// carries no override. Injected by the surrounding application.
	LookupEmail func(ctx context.Context, userID uint64) (string, error)

	// Scores is optional; digests fall back to zero scores without it.
	Scores ScoreSource

	MaxRetries int
}

type ImmediateAlertInput struct {
	UserID              uint64
	AreaID              uint64
	AreaName            string
	RiskScore           float64
	ContributingFactors []string
	Email               string // explicit override, optional
}

// SendImmediateAlert runs the full immediate path for one user/area pair.
// Exactly one ledger row is appended per eligible attempt, success or
// failure.
func (s *Sender) SendImmediateAlert(ctx context.Context, in ImmediateAlertInput) Outcome {
	now := time.Now().UTC()

	pref, err := s.Prefs.Get(ctx, in.UserID)
	if errors.Is(err, ErrNoPreference) {
		return Outcome{Status: StatusNotSubscribed, UserID: in.UserID}
	}
	if err != nil {
		return Outcome{Status: StatusError, UserID: in.UserID, Error: err.Error()}
	}

	if st := ImmediateGate(pref, in.RiskScore, now); st != "" {
		return Outcome{Status: st, UserID: in.UserID}
	}

	addr, err := s.resolveEmail(ctx, pref, in.Email)
	if err != nil {
		return Outcome{Status: StatusError, UserID: in.UserID, Error: err.Error()}
	}

	sig := EventSignature(in.AreaID, in.RiskScore, now.Format("2006-01-02"))
	dup, err := s.Tracker.IsDuplicate(ctx, in.UserID, sig)
	if err != nil {
		return Outcome{Status: StatusError, UserID: in.UserID, Error: err.Error()}
	}
	if dup {
		return Outcome{Status: StatusDuplicate, UserID: in.UserID}
	}

	html, text, err := s.Renderer.ImmediateAlert(in.AreaName, in.RiskScore, in.ContributingFactors)
	if err != nil {
		return Outcome{Status: StatusError, UserID: in.UserID, Error: err.Error()}
	}

	msg := email.Message{
		To:      addr,
		Subject: fmt.Sprintf("FireWatch Alert: %s - %.0f%% Risk", in.AreaName, in.RiskScore),
		HTML:    html,
		Text:    text,
		Tags:    map[string]string{"alert_type": TypeImmediate},
	}

	res := s.Retry.SendWithRetry(ctx, s.Provider.Send, msg)

	record := RecordInput{
		UserID:              in.UserID,
		AreaID:              &in.AreaID,
		Signature:           sig,
		AlertType:           TypeImmediate,
		RiskScore:           &in.RiskScore,
		ContributingFactors: in.ContributingFactors,
	}

	if res.Success {
		_, recErr := s.Tracker.RecordSend(ctx, record, res.ProviderMessageID)
		if errors.Is(recErr, ErrAlreadyRecorded) {
			// A concurrent attempt recorded first; the alert went out, so
			// this is a success for the caller.
			s.Log.Infow("send already recorded", "user_id", in.UserID, "signature", sig)
		} else if recErr != nil {
			s.Log.Errorw("record send failed", "user_id", in.UserID, "err", recErr)
		}
		if err := s.Prefs.MarkSent(ctx, in.UserID, now); err != nil {
			s.Log.Warnw("mark sent failed", "user_id", in.UserID, "err", err)
		}
		return Outcome{
			Status:            StatusSent,
			UserID:            in.UserID,
			ProviderMessageID: res.ProviderMessageID,
			Attempts:          res.Attempts,
		}
	}

	if _, recErr := s.Tracker.RecordFailure(ctx, record, res.ErrorMessage, res.Attempts-1); recErr != nil && !errors.Is(recErr, ErrAlreadyRecorded) {
		s.Log.Errorw("record failure failed", "user_id", in.UserID, "err", recErr)
	}
	return Outcome{
		Status:   StatusTransportFailed,
		UserID:   in.UserID,
		Error:    res.ErrorMessage,
		Attempts: res.Attempts,
	}
}

// ProcessRiskAlerts fans a batch of risk events out to every user/area
// pair monitoring an affected area. Pairs are de-duplicated within the
// batch before the ledger dedup even runs.
func (s *Sender) ProcessRiskAlerts(ctx context.Context, events []RiskEvent) []Outcome {
	type pair struct{ userID, areaID uint64 }
	seen := map[pair]struct{}{}

	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		var areas []MonitoredArea
		if err := s.DB.WithContext(ctx).Where("area_name = ?", ev.AreaName).Find(&areas).Error; err != nil {
			outcomes = append(outcomes, Outcome{Status: StatusError, Error: err.Error()})
			continue
		}
		if len(areas) == 0 && ev.AreaID != nil {
			if err := s.DB.WithContext(ctx).Where("id = ?", *ev.AreaID).Find(&areas).Error; err != nil {
				outcomes = append(outcomes, Outcome{Status: StatusError, Error: err.Error()})
				continue
			}
		}

		for _, area := range areas {
			key := pair{area.UserID, area.ID}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			name := area.AreaName
			if name == "" {
				name = ev.AreaName
			}
			outcomes = append(outcomes, s.SendImmediateAlert(ctx, ImmediateAlertInput{
				UserID:              area.UserID,
				AreaID:              area.ID,
				AreaName:            name,
				RiskScore:           ev.RiskScore,
				ContributingFactors: ev.ContributingFactors,
			}))
		}
	}
	return outcomes
}

// SendDailyDigest sends one summary per user on the daily frequency.
// Each digest period gets its own ledger entry, so a restarted job cannot
// double-send the same day.
func (s *Sender) SendDailyDigest(ctx context.Context) []Outcome {
	now := time.Now().UTC()
	date := now.Format("2006-01-02")
	sig := DigestSignature(TypeDailyDigest, date)

	prefs, err := s.Prefs.ListForDigest(ctx, FrequencyDaily, now)
	if err != nil {
		return []Outcome{{Status: StatusError, Error: err.Error()}}
	}

	outcomes := make([]Outcome, 0, len(prefs))
	for i := range prefs {
		pref := &prefs[i]
		out := s.sendDigestTo(ctx, pref, sig, now, func(areas []MonitoredArea) (email.Message, error) {
			rows := make([]email.DigestArea, 0, len(areas))
			for _, a := range areas {
				score := 0.0
				if s.Scores != nil {
					if v, ok := s.Scores.CurrentRisk(ctx, a.AreaName); ok {
						score = v
					}
				}
				rows = append(rows, email.DigestArea{AreaName: a.AreaName, RiskScore: score})
			}
			html, text, err := s.Renderer.DailyDigest(date, rows)
			if err != nil {
				return email.Message{}, err
			}
			return email.Message{
				Subject: fmt.Sprintf("FireWatch Daily Digest - %s", date),
				HTML:    html,
				Text:    text,
				Tags:    map[string]string{"alert_type": TypeDailyDigest},
			}, nil
		}, TypeDailyDigest)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// SendWeeklyDigest sends one summary per user on the weekly frequency,
// keyed by the Monday of the current week.
func (s *Sender) SendWeeklyDigest(ctx context.Context) []Outcome {
	now := time.Now().UTC()
	weekStart := now.AddDate(0, 0, -int((now.Weekday()+6)%7))
	weekEnd := weekStart.AddDate(0, 0, 6)
	weekRange := fmt.Sprintf("%s to %s", weekStart.Format("2006-01-02"), weekEnd.Format("2006-01-02"))
	sig := DigestSignature(TypeWeeklyDigest, weekStart.Format("2006-01-02"))

	prefs, err := s.Prefs.ListForDigest(ctx, FrequencyWeekly, now)
	if err != nil {
		return []Outcome{{Status: StatusError, Error: err.Error()}}
	}

	outcomes := make([]Outcome, 0, len(prefs))
	for i := range prefs {
		pref := &prefs[i]
		out := s.sendDigestTo(ctx, pref, sig, now, func(areas []MonitoredArea) (email.Message, error) {
			rows := make([]email.WeeklyArea, 0, len(areas))
			maxRisk := 0.0
			for _, a := range areas {
				avg, trend, ok := 0.0, "stable", false
				if s.Scores != nil {
					avg, trend, ok = s.Scores.WeeklyRisk(ctx, a.AreaName)
				}
				if !ok {
					avg, trend = 0, "stable"
				}
				if avg > maxRisk {
					maxRisk = avg
				}
				rows = append(rows, email.WeeklyArea{AreaName: a.AreaName, AvgRisk: avg, Trend: trend})
			}
			summary := email.WeeklySummary{AreaCount: len(areas), MaxRisk: maxRisk}
			html, text, err := s.Renderer.WeeklyDigest(weekRange, rows, summary)
			if err != nil {
				return email.Message{}, err
			}
			return email.Message{
				Subject: fmt.Sprintf("FireWatch Weekly Digest - %s", weekRange),
				HTML:    html,
				Text:    text,
				Tags:    map[string]string{"alert_type": TypeWeeklyDigest},
			}, nil
		}, TypeWeeklyDigest)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (s *Sender) sendDigestTo(
	ctx context.Context,
	pref *AlertPreference,
	sig string,
	now time.Time,
	build func([]MonitoredArea) (email.Message, error),
	alertType string,
) Outcome {
	if st := DigestGate(pref, now); st != "" {
		return Outcome{Status: st, UserID: pref.UserID}
	}

	dup, err := s.Tracker.IsDuplicate(ctx, pref.UserID, sig)
	if err != nil {
		return Outcome{Status: StatusError, UserID: pref.UserID, Error: err.Error()}
	}
	if dup {
		return Outcome{Status: StatusDuplicate, UserID: pref.UserID}
	}

	addr, err := s.resolveEmail(ctx, pref, "")
	if err != nil {
		return Outcome{Status: StatusError, UserID: pref.UserID, Error: err.Error()}
	}

	var areas []MonitoredArea
	if err := s.DB.WithContext(ctx).Where("user_id = ?", pref.UserID).Order("area_name asc").Find(&areas).Error; err != nil {
		return Outcome{Status: StatusError, UserID: pref.UserID, Error: err.Error()}
	}

	msg, err := build(areas)
	if err != nil {
		return Outcome{Status: StatusError, UserID: pref.UserID, Error: err.Error()}
	}
	msg.To = addr

	res := s.Retry.SendWithRetry(ctx, s.Provider.Send, msg)

	record := RecordInput{
		UserID:    pref.UserID,
		Signature: sig,
		AlertType: alertType,
	}
	if res.Success {
		if _, recErr := s.Tracker.RecordSend(ctx, record, res.ProviderMessageID); recErr != nil && !errors.Is(recErr, ErrAlreadyRecorded) {
			s.Log.Errorw("record digest send failed", "user_id", pref.UserID, "err", recErr)
		}
		if err := s.Prefs.MarkSent(ctx, pref.UserID, now); err != nil {
			s.Log.Warnw("mark sent failed", "user_id", pref.UserID, "err", err)
		}
		return Outcome{Status: StatusSent, UserID: pref.UserID, ProviderMessageID: res.ProviderMessageID, Attempts: res.Attempts}
	}

	if _, recErr := s.Tracker.RecordFailure(ctx, record, res.ErrorMessage, res.Attempts-1); recErr != nil && !errors.Is(recErr, ErrAlreadyRecorded) {
		s.Log.Errorw("record digest failure failed", "user_id", pref.UserID, "err", recErr)
	}
	return Outcome{Status: StatusTransportFailed, UserID: pref.UserID, Error: res.ErrorMessage, Attempts: res.Attempts}
}

// RetryFailedAlerts is the periodic recovery path for immediate sends the
// provider never accepted. One plain attempt per row per sweep; the
// in-process retry budget was already spent when the row was written.
// Returns how many rows were recovered.
func (s *Sender) RetryFailedAlerts(ctx context.Context) int {
	acts, err := s.Tracker.FailedAlerts(ctx, s.sweepBound())
	if err != nil {
		s.Log.Errorw("failed-alert query failed", "err", err)
		return 0
	}

	recovered := 0
	for _, act := range acts {
		if act.AlertType != TypeImmediate || act.AreaID == nil {
			// digests re-run on their own cadence
			continue
		}

		pref, err := s.Prefs.Get(ctx, act.UserID)
		if errors.Is(err, ErrNoPreference) {
			s.retire(ctx, act, "recipient no longer eligible")
			continue
		}
		if err != nil {
			s.Log.Warnw("retry preference read failed", "activity_id", act.ID, "err", err)
			continue
		}
		if ImmediateGate(pref, scoreOf(act), time.Now().UTC()) != "" {
			s.retire(ctx, act, "recipient no longer eligible")
			continue
		}

		var area MonitoredArea
		if err := s.DB.WithContext(ctx).Where("id = ?", *act.AreaID).First(&area).Error; err != nil {
			s.retire(ctx, act, "monitored area removed")
			continue
		}

		addr, err := s.resolveEmail(ctx, pref, "")
		if err != nil {
			s.retire(ctx, act, "no recipient address")
			continue
		}

		html, text, err := s.Renderer.ImmediateAlert(area.AreaName, scoreOf(act), act.ContributingFactors)
		if err != nil {
			s.Log.Errorw("retry render failed", "activity_id", act.ID, "err", err)
			continue
		}

		res := s.Provider.Send(ctx, email.Message{
			To:      addr,
			Subject: fmt.Sprintf("FireWatch Alert: %s - %.0f%% Risk", area.AreaName, scoreOf(act)),
			HTML:    html,
			Text:    text,
			Tags:    map[string]string{"alert_type": TypeImmediate},
		})

		if res.Success {
			if err := s.Tracker.ResolveRetry(ctx, act.ID, res.ProviderMessageID, act.RetryCount+1); err != nil {
				s.Log.Errorw("resolve retry failed", "activity_id", act.ID, "err", err)
				continue
			}
			recovered++
		} else {
			if err := s.Tracker.UpdateRetry(ctx, act.ID, res.ErrorMessage, act.RetryCount+1); err != nil {
				s.Log.Errorw("update retry failed", "activity_id", act.ID, "err", err)
			}
		}
	}

	if len(acts) > 0 {
		s.Log.Infow("retry sweep done", "candidates", len(acts), "recovered", recovered)
	}
	return recovered
}

// sweepBound caps total retry_count: the in-process budget already
// recorded on the row plus an equal number of sweep re-attempts.
func (s *Sender) sweepBound() int { return s.MaxRetries * 2 }

// retire pushes a row past the sweep bound so it is never picked again.
func (s *Sender) retire(ctx context.Context, act AlertActivity, reason string) {
	if err := s.Tracker.UpdateRetry(ctx, act.ID, reason, s.sweepBound()); err != nil {
		s.Log.Warnw("retire failed alert", "activity_id", act.ID, "err", err)
	}
}

func (s *Sender) resolveEmail(ctx context.Context, pref *AlertPreference, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if pref != nil && pref.EmailOverride != nil && *pref.EmailOverride != "" {
		return *pref.EmailOverride, nil
	}
	if s.LookupEmail == nil {
		return "", errors.New("no email resolver configured")
	}
	return s.LookupEmail(ctx, pref.UserID)
}

func scoreOf(act AlertActivity) float64 {
	if act.RiskScore == nil {
		return 0
	}
	return *act.RiskScore
}
