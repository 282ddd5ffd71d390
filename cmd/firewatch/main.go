package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/auth"
	"firewatch/internal/config"
	"firewatch/internal/db"
	"firewatch/internal/email"
	httpx "firewatch/internal/http"
	"firewatch/internal/sched"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg, _ := config.Load()

	logger := newLogger(cfg.AppEnv)
	defer func() { _ = logger.Sync() }()
	slog := logger.Sugar()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal(err)
	}

	provider, err := buildProvider(cfg, slog)
	if err != nil {
		log.Fatal(err)
	}

	renderer, err := email.NewRenderer(cfg.BaseURL)
	if err != nil {
		log.Fatal(err)
	}

	prefs := &alert.PreferenceStore{DB: gdb}
	tracker := alert.NewTracker(gdb, cfg.DedupWindow)

	sender := &alert.Sender{
		DB:          gdb,
		Provider:    provider,
		Renderer:    renderer,
		Tracker:     tracker,
		Prefs:       prefs,
		Retry:       email.NewExecutor(cfg.MaxRetries, cfg.RetryBaseDelay),
		Log:         slog.With("component", "sender"),
		LookupEmail: userEmailLookup(gdb),
		MaxRetries:  cfg.MaxRetries,
	}

	scheduler := sched.New(slog, 30*time.Second)
	scheduler.Add(sched.Job{
		Name: "daily_digest",
		Next: sched.DailyAt(cfg.DailyDigestHour),
		Run:  func(ctx context.Context) { sender.SendDailyDigest(ctx) },
	})
	scheduler.Add(sched.Job{
		Name: "weekly_digest",
		Next: sched.WeeklyAt(cfg.WeeklyDigestDay, cfg.DailyDigestHour),
		Run:  func(ctx context.Context) { sender.SendWeeklyDigest(ctx) },
	})
	scheduler.Add(sched.Job{
		Name: "retry_sweep",
		Next: sched.Every(cfg.RetrySweepInterval),
		Run:  func(ctx context.Context) { sender.RetryFailedAlerts(ctx) },
	})
	scheduler.Start()

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	router := httpx.NewRouter(cfg, httpx.Deps{
		DB:       gdb,
		JWT:      jwtSvc,
		Sender:   sender,
		Tracker:  tracker,
		Prefs:    prefs,
		Provider: provider,
		Renderer: renderer,
		Log:      slog,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Infow("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	slog.Infow("shutting down")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(appEnv string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if appEnv == "production" || appEnv == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

func buildProvider(cfg config.Config, slog *zap.SugaredLogger) (email.Provider, error) {
	if cfg.UseMockProvider {
		slog.Warnw("using mock email provider")
		return email.NewMockProvider(), nil
	}
	return email.NewResendProvider(slog, email.ResendConfig{
		APIKey:      cfg.ResendAPIKey,
		SenderEmail: cfg.SenderEmail,
		SenderName:  cfg.SenderName,
	})
}

func userEmailLookup(gdb *gorm.DB) func(context.Context, uint64) (string, error) {
	return func(ctx context.Context, userID uint64) (string, error) {
		var u auth.User
		if err := gdb.WithContext(ctx).First(&u, userID).Error; err != nil {
			return "", err
		}
		return u.Email, nil
	}
}
