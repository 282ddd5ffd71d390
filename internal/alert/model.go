package alert

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Frequency values for AlertPreference.
const (
	FrequencyInstant = "instant"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
)

// Alert types recorded in the activity ledger.
const (
	TypeImmediate    = "immediate"
	TypeDailyDigest  = "daily_digest"
	TypeWeeklyDigest = "weekly_digest"
)

// AlertPreference holds per-user alert settings. One row per user,
// created lazily on first read or write, never hard-deleted.
type AlertPreference struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"uniqueIndex;not null"`

	OptedIn       bool    `gorm:"not null;default:true"`
	Frequency     string  `gorm:"type:text;not null;default:'instant'"` // instant/daily/weekly
	RiskThreshold float64 `gorm:"not null;default:70"`                  // 0-100

	PausedUntil   *time.Time
	BlackoutStart *time.Time
	BlackoutEnd   *time.Time

	LastSentAt     *time.Time
	EmailOverride  *string `gorm:"type:text"`
	UnsubscribedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// MonitoredArea is an area a user watches for risk events.
type MonitoredArea struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"not null;uniqueIndex:uq_areas_user_name,priority:1"`
	AreaName    string `gorm:"type:text;not null;uniqueIndex:uq_areas_user_name,priority:2"`
	AreaGeoJSON string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
}

// AlertActivity is the delivery ledger. The (user_id, event_signature)
// unique index is the dedup enforcement point: a duplicate insert must be
// rejected at the storage layer, not just filtered in application logic.
type AlertActivity struct {
	ID     uint64  `gorm:"primaryKey"`
	UserID uint64  `gorm:"not null;index;uniqueIndex:uq_activity_user_signature,priority:1"`
	AreaID *uint64 `gorm:"index"`

	EventSignature string `gorm:"type:varchar(64);not null;uniqueIndex:uq_activity_user_signature,priority:2"`
	AlertType      string `gorm:"type:text;not null;default:'immediate'"` // immediate/daily_digest/weekly_digest
	RiskScore      *float64

	ContributingFactors StringList

	ProviderMessageID *string `gorm:"index"`
	ErrorMessage      *string `gorm:"type:text"`
	RetryCount        int     `gorm:"not null;default:0"`

	DeliveredAt *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// StringList is a text[] column on postgres and a plain text column on
// sqlite (used by the test suite), with pq's array encoding either way.
type StringList []string

func (s StringList) Value() (driver.Value, error) { return pq.StringArray(s).Value() }

func (s *StringList) Scan(src any) error { return (*pq.StringArray)(s).Scan(src) }

// GormDataType marks the field as a plain column at schema-parse time so
// gorm does not treat the slice as a relationship; the dialect-specific
// column type comes from GormDBDataType.
func (StringList) GormDataType() string { return "text" }

func (StringList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func ValidFrequency(f string) bool {
	switch f {
	case FrequencyInstant, FrequencyDaily, FrequencyWeekly:
		return true
	default:
		return false
	}
}
