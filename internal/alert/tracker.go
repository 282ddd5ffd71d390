package alert

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrAlreadyRecorded means the (user_id, event_signature) row already
// exists: another attempt won the race. Callers treat this as "someone
// else already sent it", not a crash.
var ErrAlreadyRecorded = errors.New("activity already recorded")

// Tracker owns the alert_activity ledger: dedup checks, send/failure
// records, and webhook-driven status updates. Each call acquires its
// connection per operation; no transaction spans a network send.
type Tracker struct {
	DB          *gorm.DB
	DedupWindow time.Duration
}

func NewTracker(db *gorm.DB, dedupWindow time.Duration) *Tracker {
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	return &Tracker{DB: db, DedupWindow: dedupWindow}
}

// IsDuplicate reports whether a ledger row for (user, signature) exists
// within the dedup window. The window is measured from the original row's
// created_at, so a send at hour 23 still blocks at hour 25 of the same
// calendar day and unblocks only once the full window has elapsed.
func (t *Tracker) IsDuplicate(ctx context.Context, userID uint64, signature string) (bool, error) {
	cutoff := time.Now().UTC().Add(-t.DedupWindow)
	var n int64
	err := t.DB.WithContext(ctx).
		Model(&AlertActivity{}).
		Where("user_id = ? AND event_signature = ? AND created_at >= ?", userID, signature, cutoff).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type RecordInput struct {
	UserID              uint64
	AreaID              *uint64
	Signature           string
	AlertType           string
	RiskScore           *float64
	ContributingFactors []string
}

// RecordSend appends a success row. Returns ErrAlreadyRecorded when the
// unique index rejects the insert.
func (t *Tracker) RecordSend(ctx context.Context, in RecordInput, providerMessageID string) (*AlertActivity, error) {
	act := t.newActivity(in)
	act.ProviderMessageID = &providerMessageID
	if err := t.create(ctx, act); err != nil {
		return nil, err
	}
	return act, nil
}

// RecordFailure appends a failure row carrying the last error and the
// number of retries actually made beyond the first attempt.
func (t *Tracker) RecordFailure(ctx context.Context, in RecordInput, errorMessage string, retryCount int) (*AlertActivity, error) {
	act := t.newActivity(in)
	act.ErrorMessage = &errorMessage
	act.RetryCount = retryCount
	if err := t.create(ctx, act); err != nil {
		return nil, err
	}
	return act, nil
}

func (t *Tracker) newActivity(in RecordInput) *AlertActivity {
	alertType := in.AlertType
	if alertType == "" {
		alertType = TypeImmediate
	}
	return &AlertActivity{
		UserID:              in.UserID,
		AreaID:              in.AreaID,
		EventSignature:      in.Signature,
		AlertType:           alertType,
		RiskScore:           in.RiskScore,
		ContributingFactors: StringList(in.ContributingFactors),
	}
}

func (t *Tracker) create(ctx context.Context, act *AlertActivity) error {
	err := t.DB.WithContext(ctx).Create(act).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyRecorded
	}
	return err
}

// MarkDelivered applies a provider delivery confirmation. Idempotent:
// false when no row matches the provider message id.
func (t *Tracker) MarkDelivered(ctx context.Context, providerMessageID string) (bool, error) {
	res := t.DB.WithContext(ctx).
		Model(&AlertActivity{}).
		Where("provider_message_id = ?", providerMessageID).
		Updates(map[string]any{
			"delivered_at":  time.Now().UTC(),
			"error_message": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed applies a provider bounce/delay/complaint callback: stores the
// message and bumps retry_count.
func (t *Tracker) MarkFailed(ctx context.Context, providerMessageID, errorMessage string) (bool, error) {
	res := t.DB.WithContext(ctx).
		Model(&AlertActivity{}).
		Where("provider_message_id = ?", providerMessageID).
		Updates(map[string]any{
			"error_message": errorMessage,
			"retry_count":   gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FailedAlerts selects rows the retry sweep may re-attempt: never accepted
// by the provider, carrying an error, under the retry budget.
func (t *Tracker) FailedAlerts(ctx context.Context, maxRetryCount int) ([]AlertActivity, error) {
	var acts []AlertActivity
	err := t.DB.WithContext(ctx).
		Where("provider_message_id IS NULL AND error_message IS NOT NULL AND retry_count < ?", maxRetryCount).
		Order("created_at asc").
		Find(&acts).Error
	return acts, err
}

// UpdateRetry records another failed sweep attempt on an existing row.
func (t *Tracker) UpdateRetry(ctx context.Context, activityID uint64, errorMessage string, retryCount int) error {
	return t.DB.WithContext(ctx).
		Model(&AlertActivity{}).
		Where("id = ?", activityID).
		Updates(map[string]any{
			"error_message": errorMessage,
			"retry_count":   retryCount,
		}).Error
}

// ResolveRetry marks a previously failed row as accepted by the provider.
func (t *Tracker) ResolveRetry(ctx context.Context, activityID uint64, providerMessageID string, retryCount int) error {
	return t.DB.WithContext(ctx).
		Model(&AlertActivity{}).
		Where("id = ?", activityID).
		Updates(map[string]any{
			"provider_message_id": providerMessageID,
			"error_message":       nil,
			"retry_count":         retryCount,
		}).Error
}

// History returns the user's ledger, newest first, with the total count
// for pagination.
func (t *Tracker) History(ctx context.Context, userID uint64, page, perPage int) ([]AlertActivity, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	q := t.DB.WithContext(ctx).Model(&AlertActivity{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var acts []AlertActivity
	err := q.Order("created_at desc").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&acts).Error
	return acts, total, err
}
