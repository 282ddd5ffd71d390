package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	AppEnv               string
	BaseURL              string

	JWTSecret string

	// Provider
	ResendAPIKey        string
	ResendWebhookSecret string
	SenderEmail         string
	SenderName          string
	UseMockProvider     bool

	// Delivery behavior
	MaxRetries         int
	RetryBaseDelay     time.Duration
	DedupWindow        time.Duration
	DailyDigestHour    int
	WeeklyDigestDay    time.Weekday
	RetrySweepInterval time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		AppEnv:               getenv("APP_ENV", "development"),
		BaseURL:              getenv("BASE_URL", "https://app.firewatch.dev"),

		ResendAPIKey:        getenv("RESEND_API_KEY", ""),
		ResendWebhookSecret: getenv("RESEND_WEBHOOK_SECRET", ""),
		SenderEmail:         getenv("SENDER_EMAIL", "alerts@firewatch.dev"),
		SenderName:          getenv("SENDER_NAME", "FireWatch Alerts"),
		UseMockProvider:     getenv("EMAIL_USE_MOCK", "false") == "true",

		MaxRetries:         getenvInt("EMAIL_MAX_RETRIES", 3),
		RetryBaseDelay:     getenvDuration("EMAIL_RETRY_BASE_DELAY", 2*time.Second),
		DedupWindow:        time.Duration(getenvInt("ALERT_DEDUP_WINDOW_HOURS", 24)) * time.Hour,
		DailyDigestHour:    getenvInt("DAILY_DIGEST_HOUR", 8),
		WeeklyDigestDay:    parseWeekday(getenv("WEEKLY_DIGEST_DAY", "mon")),
		RetrySweepInterval: time.Duration(getenvInt("RETRY_SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getenvDuration accepts either a Go duration ("2s") or a bare number of
// seconds ("2"), matching how deploy environments tend to set it.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func parseWeekday(s string) time.Weekday {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday
	case "tue", "tuesday":
		return time.Tuesday
	case "wed", "wednesday":
		return time.Wednesday
	case "thu", "thursday":
		return time.Thursday
	case "fri", "friday":
		return time.Friday
	case "sat", "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}
