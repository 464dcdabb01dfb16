package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/chair-portal/internal/recurrence"
)

const envPrefix = "CHAIRPORTAL_"

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported notification delivery modes.
const (
	MailModeLog  = "log"
	MailModeSMTP = "smtp"
)

// MailConfig configures outbound notification delivery.
type MailConfig struct {
	Mode     string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// Config captures environment driven configuration values for the chair portal.
type Config struct {
	HTTPAddr          string
	DBDriver          string
	DatabaseDSN       string
	Location          *time.Location
	SessionTTL        time.Duration
	ReminderThreshold time.Duration
	DigestWeekday     time.Weekday
	DigestHour        int
	CalendarFeedDays  int
	MaxRangeDays      int
	TemplateFile      string
	Template          recurrence.Template
	Mail              MailConfig
	CronSpec          string
	JobTimeout        time.Duration
	PublicBaseURL     string
	LogLevel          string
	LogFormat         string
}

// LoadDotEnv populates the process environment from .env files when present.
// Variables already set in the environment are not overridden.
func LoadDotEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if len(existing) == 0 {
		return false, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return false, fmt.Errorf("load dotenv: %w", err)
	}
	return true, nil
}

// Load parses configuration values from the current process environment.
//
// Optional values receive defaults. Missing and malformed values are collected
// and reported together. A malformed schedule template is reported as a
// *recurrence.ConfigurationError so that startup can abort on it.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:          ":8080",
		DBDriver:          DriverSQLite,
		DatabaseDSN:       "chairportal.db",
		SessionTTL:        24 * time.Hour,
		ReminderThreshold: 24 * time.Hour,
		DigestWeekday:     time.Sunday,
		DigestHour:        10,
		CalendarFeedDays:  90,
		MaxRangeDays:      366,
		JobTimeout:        5 * time.Minute,
		Mail: MailConfig{
			Mode: MailModeLog,
			Port: 587,
			From: "noreply@backporchmeetings.org",
			TLS:  true,
		},
		PublicBaseURL: "http://localhost:8080",
		LogLevel:      "info",
		LogFormat:     "json",
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if addr := lookup("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if driver := strings.ToLower(lookup("DB_DRIVER")); driver != "" {
		switch driver {
		case DriverSQLite, DriverPostgres:
			cfg.DBDriver = driver
		default:
			invalid = append(invalid, envPrefix+"DB_DRIVER")
		}
	}
	if dsn := lookup("DATABASE_DSN"); dsn != "" {
		cfg.DatabaseDSN = dsn
	} else if cfg.DBDriver == DriverPostgres {
		missing = append(missing, envPrefix+"DATABASE_DSN")
	}

	tz := lookup("TIMEZONE")
	if tz == "" {
		tz = "America/Denver"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		invalid = append(invalid, envPrefix+"TIMEZONE")
	} else {
		cfg.Location = loc
	}

	parseDuration("SESSION_TTL", &cfg.SessionTTL, &invalid)
	parseDuration("REMINDER_THRESHOLD", &cfg.ReminderThreshold, &invalid)
	parseDuration("JOB_TIMEOUT", &cfg.JobTimeout, &invalid)

	if value := lookup("DIGEST_WEEKDAY"); value != "" {
		day, ok := parseWeekday(value)
		if !ok {
			invalid = append(invalid, envPrefix+"DIGEST_WEEKDAY")
		} else {
			cfg.DigestWeekday = day
		}
	}
	parseInt("DIGEST_HOUR", &cfg.DigestHour, 0, 23, &invalid)
	parseInt("CALENDAR_FEED_DAYS", &cfg.CalendarFeedDays, 1, 730, &invalid)
	parseInt("MAX_RANGE_DAYS", &cfg.MaxRangeDays, 1, 3660, &invalid)

	if mode := strings.ToLower(lookup("MAIL_MODE")); mode != "" {
		switch mode {
		case MailModeLog, MailModeSMTP:
			cfg.Mail.Mode = mode
		default:
			invalid = append(invalid, envPrefix+"MAIL_MODE")
		}
	}
	cfg.Mail.Host = lookup("MAIL_HOST")
	cfg.Mail.Username = lookup("MAIL_USERNAME")
	cfg.Mail.Password = os.Getenv(envPrefix + "MAIL_PASSWORD")
	if from := lookup("MAIL_FROM"); from != "" {
		cfg.Mail.From = from
	}
	parseInt("MAIL_PORT", &cfg.Mail.Port, 1, 65535, &invalid)
	if value := lookup("MAIL_TLS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, envPrefix+"MAIL_TLS")
		} else {
			cfg.Mail.TLS = enabled
		}
	}
	if cfg.Mail.Mode == MailModeSMTP && cfg.Mail.Host == "" {
		missing = append(missing, envPrefix+"MAIL_HOST")
	}

	cfg.CronSpec = lookup("CRON_SPEC")
	if base := lookup("PUBLIC_BASE_URL"); base != "" {
		cfg.PublicBaseURL = strings.TrimRight(base, "/")
	}
	if level := lookup("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := lookup("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	cfg.TemplateFile = lookup("SCHEDULE_FILE")
	if cfg.TemplateFile != "" {
		template, err := recurrence.LoadTemplateFile(cfg.TemplateFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Template = template
	} else {
		cfg.Template = recurrence.DefaultTemplate()
		if err := cfg.Template.Validate(); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func parseDuration(key string, target *time.Duration, invalid *[]string) {
	value := lookup(key)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		*invalid = append(*invalid, envPrefix+key)
		return
	}
	*target = parsed
}

func parseInt(key string, target *int, min, max int, invalid *[]string) {
	value := lookup(key)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < min || parsed > max {
		*invalid = append(*invalid, envPrefix+key)
		return
	}
	*target = parsed
}

func parseWeekday(value string) (time.Weekday, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for day := time.Sunday; day <= time.Saturday; day++ {
		name := strings.ToLower(day.String())
		if normalized == name || normalized == name[:3] || normalized == strconv.Itoa(int(day)) {
			return day, true
		}
	}
	return time.Sunday, false
}
