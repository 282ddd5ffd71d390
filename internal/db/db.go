package db

import (
	"fmt"

	"firewatch/internal/alert"
	"firewatch/internal/auth"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables. The composite unique indexes (user+signature on the ledger,
	// user+name on areas, user on preferences) come from the model tags;
	// they are the enforcement point for dedup, not an optimization.
	if err := gdb.AutoMigrate(
		&auth.User{},
		&alert.AlertPreference{},
		&alert.MonitoredArea{},
		&alert.AlertActivity{},
	); err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_activity_user_created on alert_activities(user_id, created_at desc);`,
		`create index if not exists idx_activity_retryable on alert_activities(retry_count) where provider_message_id is null and error_message is not null;`,
		`create index if not exists idx_areas_name on monitored_areas(area_name);`,
		`create index if not exists idx_prefs_freq on alert_preferences(frequency) where opted_in;`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
