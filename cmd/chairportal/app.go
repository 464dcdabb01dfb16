package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/config"
	httptransport "github.com/example/chair-portal/internal/http"
	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/persistence/sqlstore"
	"github.com/example/chair-portal/internal/recurrence"
)

// portal holds the services built from one configuration and store.
type portal struct {
	cfg    config.Config
	logger *slog.Logger
	store  *sqlstore.Store

	users        *application.UserService
	auth         *application.AuthService
	calendar     *application.CalendarService
	signups      *application.SignupService
	availability *application.AvailabilityService
	reminders    *application.ReminderService
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	applied, err := store.Migrate(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if applied > 0 {
		logger.InfoContext(ctx, "migrations applied", "count", applied)
	}
	return store, nil
}

func openStoreNoMigrate(cfg config.Config) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func newSender(cfg config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.Mail.Mode != config.MailModeSMTP {
		return notify.NewLogSender(logger), nil
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		TLS:      cfg.Mail.TLS,
	})
}

// newPortal wires repositories and services. now is injectable for tests.
func newPortal(cfg config.Config, store *sqlstore.Store, sender notify.Sender, now func() time.Time, logger *slog.Logger) *portal {
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	users := newUserStoreAdapter(store.Users)
	sessions := newSessionRepositoryAdapter(store.Sessions)
	meetings := newMeetingRepositoryAdapter(store.Meetings, loc)
	signups := newSignupRepositoryAdapter(store.Signups, loc)
	availability := newAvailabilityRepositoryAdapter(store.Availability, loc)
	notifications := newNotificationLogAdapter(store.Notifications)

	engine := recurrence.NewEngine(loc, cfg.Template)
	calendar := application.NewCalendarServiceWithLogger(engine, meetings, signups, uuid.NewString, now, cfg.MaxRangeDays, logger)

	p := &portal{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		users:        application.NewUserServiceWithLogger(users, application.HashPassword, uuid.NewString, now, logger),
		auth:         application.NewAuthServiceWithLogger(users, sessions, application.VerifyPassword, newToken, now, cfg.SessionTTL, logger),
		calendar:     calendar,
		signups:      application.NewSignupServiceWithLogger(calendar, signups, users, sender, uuid.NewString, now, logger),
		availability: application.NewAvailabilityServiceWithLogger(availability, users, sender, loc, uuid.NewString, now, logger),
	}
	p.reminders = application.NewReminderServiceWithLogger(calendar, signups, availability, users, notifications, sender, application.ReminderConfig{
		Location:      loc,
		Threshold:     cfg.ReminderThreshold,
		DigestWeekday: cfg.DigestWeekday,
		DigestHour:    cfg.DigestHour,
		PortalURL:     cfg.PublicBaseURL,
	}, now, logger)
	return p
}

func (p *portal) handler() http.Handler {
	return httptransport.NewRouter(httptransport.RouterConfig{
		Auth:     httptransport.NewAuthHandler(p.auth, p.logger),
		Users:    httptransport.NewUserHandler(p.users, p.logger),
		Calendar: httptransport.NewCalendarHandler(p.calendar, httptransport.CalendarOptions{
			FeedDays:  p.cfg.CalendarFeedDays,
			PortalURL: p.cfg.PublicBaseURL,
		}, p.logger),
		Signups:        httptransport.NewSignupHandler(p.signups, p.logger),
		Availability:   httptransport.NewAvailabilityHandler(p.availability, p.logger),
		Ops:            httptransport.NewOpsHandler(p.reminders, p.store.Pool().DB(), p.logger),
		Sessions:       p.auth,
		Logger:         p.logger,
		RequestTimeout: 30 * time.Second,
	})
}

// newToken returns an unguessable session token.
func newToken() string {
	return randomHex(32)
}

func randomHex(bytes int) string {
	if bytes <= 0 {
		bytes = 16
	}
	buf := make([]byte, bytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return uuid.NewString() + uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
