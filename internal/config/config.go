package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tutoring-scheduler/internal/availability"
)

type Config struct {
	Environment    string
	Port           string
	DatabaseURL    string
	JWTSecret      string
	MigrationsAuto bool

	Policy          availability.Config
	AdvanceNotice   time.Duration
	DaysAhead       int
	CalendarTimeout time.Duration

	Google   GoogleConfig
	Telegram TelegramConfig

	ReminderInterval time.Duration

	CORSOrigins []string

	// CalendarRatePerMinute caps calendar-backed requests per caller; 0 disables it.
	CalendarRatePerMinute int
	CalendarRateBurst     int

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

type GoogleConfig struct {
	// ServiceAccountKey holds either the key JSON itself or a path to it.
	ServiceAccountKey string
	DelegatedUser     string
	CalendarID        string
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	loaded := godotenv.Load(".env") == nil

	var errs []error
	p := parser{errs: &errs}

	policy := availability.DefaultConfig(os.Getenv("INSTRUCTOR_TIMEZONE"))
	policy.WorkingHours.Start = p.int("WORKING_HOURS_START", policy.WorkingHours.Start)
	policy.WorkingHours.End = p.int("WORKING_HOURS_END", policy.WorkingHours.End)
	policy.WorkingDays = p.weekdays("WORKING_DAYS", policy.WorkingDays)
	policy.SlotDuration = p.int("SLOT_DURATION_MINUTES", policy.SlotDuration)
	policy.BufferMinutes = p.int("BUFFER_MINUTES", policy.BufferMinutes)

	cfg := &Config{
		Environment:    getenv("ENV", "development"),
		Port:           getenv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_HMAC_SECRET")),
		MigrationsAuto: p.bool("MIGRATIONS_AUTO", true),

		Policy:          policy,
		AdvanceNotice:   time.Duration(p.int("ADVANCE_NOTICE_HOURS", 36)) * time.Hour,
		DaysAhead:       p.int("AVAILABILITY_DAYS_AHEAD", availability.DefaultDaysAhead),
		CalendarTimeout: p.duration("CALENDAR_TIMEOUT", availability.DefaultFetchTimeout),

		Google: GoogleConfig{
			ServiceAccountKey: strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_KEY")),
			DelegatedUser:     os.Getenv("GOOGLE_DELEGATED_USER_EMAIL"),
			CalendarID:        getenv("GOOGLE_CALENDAR_ID", "primary"),
		},
		Telegram: TelegramConfig{
			Token:       os.Getenv("TELEGRAM_TOKEN"),
			AdminChatID: p.int64("TELEGRAM_ADMIN_CHAT_ID", 0),
		},

		ReminderInterval: p.duration("REMINDER_INTERVAL", time.Hour),

		CORSOrigins:           splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		CalendarRatePerMinute: p.int("CALENDAR_RATE_PER_MINUTE", 30),
		CalendarRateBurst:     p.int("CALENDAR_RATE_BURST", 10),

		EnvFileLoaded: loaded,
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required but not set"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_HMAC_SECRET is required but not set"))
	}
	if cfg.AdvanceNotice <= 0 {
		errs = append(errs, fmt.Errorf("ADVANCE_NOTICE_HOURS must be positive"))
	}
	if cfg.DaysAhead <= 0 {
		errs = append(errs, fmt.Errorf("AVAILABILITY_DAYS_AHEAD must be positive"))
	}
	if _, err := cfg.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

// CalendarConfigured reports whether Google credentials were supplied.
func (c *Config) CalendarConfigured() bool {
	return c.Google.ServiceAccountKey != ""
}

// TelegramConfigured reports whether admin notices go to Telegram.
func (c *Config) TelegramConfigured() bool {
	return c.Telegram.Token != "" && c.Telegram.AdminChatID != 0
}

// ServiceAccountKeyJSON returns the key JSON, reading it from disk when
// GOOGLE_SERVICE_ACCOUNT_KEY holds a path.
func (c *Config) ServiceAccountKeyJSON() ([]byte, error) {
	key := c.Google.ServiceAccountKey
	if key == "" || strings.HasPrefix(key, "{") {
		return []byte(key), nil
	}
	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	return data, nil
}

// CalendarRateEvery converts the per-minute cap into a token interval.
func (c *Config) CalendarRateEvery() time.Duration {
	if c.CalendarRatePerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.CalendarRatePerMinute)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, raw string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (p parser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p parser) int64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p parser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

// weekdays parses a comma separated list where 0 is Sunday.
func (p parser) weekdays(key string, def []time.Weekday) []time.Weekday {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var days []time.Weekday
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			p.fail(key, raw, fmt.Errorf("weekday %q must be 0-6", part))
			return def
		}
		days = append(days, time.Weekday(n))
	}
	return days
}
