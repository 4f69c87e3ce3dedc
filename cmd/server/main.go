package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tutoring-scheduler/internal/app"
	"tutoring-scheduler/internal/availability"
	"tutoring-scheduler/internal/calendar"
	"tutoring-scheduler/internal/config"
	"tutoring-scheduler/internal/notify"
	"tutoring-scheduler/internal/server"
)

// calendarBackend is what the service needs from Google Calendar.
type calendarBackend interface {
	availability.BusySource
	app.EventScheduler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Info("Starting tutoring scheduler",
		zap.String("environment", cfg.Environment),
		zap.Bool("env_file", cfg.EnvFileLoaded),
		zap.String("timezone", cfg.Policy.Timezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.MigrationsAuto {
		migrator, err := app.NewMigrator(pool, logger)
		if err != nil {
			logger.Fatal("Failed to create migrator", zap.Error(err))
		}
		if err := migrator.Run(ctx); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		migrator.Close()
	}

	cal := newCalendar(ctx, cfg, logger)

	engine := availability.NewEngine(cal, availability.Options{
		CalendarID:    cfg.Google.CalendarID,
		AdvanceNotice: cfg.AdvanceNotice,
		Policy:        cfg.Policy,
		DaysAhead:     cfg.DaysAhead,
		FetchTimeout:  cfg.CalendarTimeout,
		Logger:        logger.Named("availability"),
	})

	a := &app.App{
		Store:     app.NewPGStore(pool),
		Engine:    engine,
		Events:    cal,
		Notifier:  newNotifier(cfg, logger),
		Clock:     availability.SystemClock{},
		Logger:    logger,
		JWTSecret: []byte(cfg.JWTSecret),
		Retry:     app.DefaultRetryPolicy(),

		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   app.RateLimit{
			Every: cfg.CalendarRateEvery(),
			Burst: cfg.CalendarRateBurst,
		},
	}

	reminders := app.NewReminderScheduler(a, cfg.ReminderInterval)
	reminders.Start(ctx)
	defer reminders.Stop()

	if err := server.Run(ctx, cfg.Addr(), a.Router(), logger); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}
	logger.Info("Tutoring scheduler stopped")
}

func newCalendar(ctx context.Context, cfg *config.Config, logger *zap.Logger) calendarBackend {
	if !cfg.CalendarConfigured() {
		logger.Warn("Google Calendar is not configured, availability will report the calendar as unavailable")
		return calendar.Disabled{}
	}

	key, err := cfg.ServiceAccountKeyJSON()
	if err != nil {
		logger.Fatal("Failed to read Google service account key", zap.Error(err))
	}

	client, err := calendar.NewFromServiceAccount(ctx, calendar.ServiceAccountConfig{
		KeyJSON:       key,
		DelegatedUser: cfg.Google.DelegatedUser,
		CalendarID:    cfg.Google.CalendarID,
	}, logger.Named("calendar"))
	if err != nil {
		logger.Fatal("Failed to create Google Calendar client", zap.Error(err))
	}
	return client
}

func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if !cfg.TelegramConfigured() {
		logger.Info("Telegram is not configured, admin notices are logged only")
		return notify.NewLog(logger.Named("notify"))
	}

	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.AdminChatID, logger.Named("notify"))
	if err != nil {
		logger.Fatal("Failed to create Telegram notifier", zap.Error(err))
	}
	return tg
}
