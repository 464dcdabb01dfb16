package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/recurrence"
)

const (
	// DefaultReminderThreshold is how far ahead of a meeting the chair reminder goes out.
	DefaultReminderThreshold = 24 * time.Hour
	// DefaultDigestHour is the local hour from which the weekly digest is due.
	DefaultDigestHour = 10

	confirmationRetryWindow = 7 * 24 * time.Hour
	digestLookaheadDays     = 7
)

// NotificationLog records periodic deliveries. RecordNotification reports a
// repeated key as ErrAlreadyExists.
type NotificationLog interface {
	HasNotification(ctx context.Context, kind, periodKey, recipientID string) (bool, error)
	RecordNotification(ctx context.Context, kind, periodKey, recipientID string, sentAt time.Time) error
}

// UserDirectory lists accounts for broadcast notifications.
type UserDirectory interface {
	UserLookup
	ListUsers(ctx context.Context) ([]User, error)
}

// CalendarMaterializer produces calendar entries for a day range.
type CalendarMaterializer interface {
	Materialize(ctx context.Context, from, to time.Time) ([]CalendarEntry, error)
}

// ReminderConfig tunes the reminder scan.
type ReminderConfig struct {
	Location      *time.Location
	Threshold     time.Duration
	DigestWeekday time.Weekday
	DigestHour    int
	// DigestDisabled skips the weekly open-slot digest.
	DigestDisabled bool
	PortalURL      string
}

// ReminderService runs the idempotent notification scan.
type ReminderService struct {
	calendar      CalendarMaterializer
	signups       SignupRepository
	availability  AvailabilityRepository
	users         UserDirectory
	notifications NotificationLog
	sender        notify.Sender
	cfg           ReminderConfig
	now           func() time.Time
	logger        *slog.Logger
}

// NewReminderService wires dependencies for the reminder scan.
func NewReminderService(calendar CalendarMaterializer, signups SignupRepository, availability AvailabilityRepository, users UserDirectory, notifications NotificationLog, sender notify.Sender, cfg ReminderConfig, now func() time.Time) *ReminderService {
	return NewReminderServiceWithLogger(calendar, signups, availability, users, notifications, sender, cfg, now, nil)
}

// NewReminderServiceWithLogger wires dependencies for the reminder scan with a logger.
func NewReminderServiceWithLogger(calendar CalendarMaterializer, signups SignupRepository, availability AvailabilityRepository, users UserDirectory, notifications NotificationLog, sender notify.Sender, cfg ReminderConfig, now func() time.Time, logger *slog.Logger) *ReminderService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultReminderThreshold
	}
	if cfg.DigestHour < 0 || cfg.DigestHour > 23 {
		cfg.DigestHour = DefaultDigestHour
	}
	if now == nil {
		now = time.Now
	}
	return &ReminderService{
		calendar:      calendar,
		signups:       signups,
		availability:  availability,
		users:         users,
		notifications: notifications,
		sender:        sender,
		cfg:           cfg,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

func (s *ReminderService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReminderService", operation, attrs...)
}

// RunScan sends due chair reminders, retries missing confirmations, and
// delivers the weekly open-slot digest. Running it again does not resend
// anything already delivered. Delivery failures are counted and skipped;
// storage failures abort with ErrTransientStore.
func (s *ReminderService) RunScan(ctx context.Context) (report ScanReport, err error) {
	if s == nil {
		return ScanReport{}, fmt.Errorf("ReminderService is nil")
	}
	if s.signups == nil || s.availability == nil || s.users == nil {
		return ScanReport{}, fmt.Errorf("reminder repositories not configured")
	}
	if s.sender == nil {
		return ScanReport{}, fmt.Errorf("notification sender not configured")
	}

	now := s.now()
	logger := s.loggerWith(ctx, "RunScan", "now", now.Format(time.RFC3339))
	defer func() {
		attrs := []any{
			"reminders_sent", report.RemindersSent,
			"reminders_failed", report.RemindersFailed,
			"confirmations_sent", report.ConfirmationsSent,
			"confirmations_failed", report.ConfirmationsFailed,
			"digest_period", report.DigestPeriod,
			"digests_sent", report.DigestsSent,
			"digests_failed", report.DigestsFailed,
		}
		if err != nil {
			logger.With(attrs...).ErrorContext(ctx, "reminder scan aborted", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(attrs...).InfoContext(ctx, "reminder scan completed")
	}()

	if err = s.sendReminders(ctx, logger, now, &report); err != nil {
		return
	}
	if err = s.retryConfirmations(ctx, logger, now, &report); err != nil {
		return
	}
	err = s.sendDigest(ctx, logger, now, &report)
	return
}

func (s *ReminderService) sendReminders(ctx context.Context, logger *slog.Logger, now time.Time, report *ScanReport) error {
	loc := s.cfg.Location
	horizon := now.Add(s.cfg.Threshold)

	items, err := s.signups.ListSignupsBetween(ctx, recurrence.DateOf(now, loc), recurrence.DateOf(horizon, loc))
	if err != nil {
		return storeFailure(err)
	}

	for _, item := range items {
		if item.Signup.ReminderSentAt != nil || item.Meeting.Cancelled() {
			continue
		}
		start := item.Meeting.StartsAt()
		if !start.After(now) || start.After(horizon) {
			continue
		}

		user, found, err := s.lookupUser(ctx, item.Signup.UserID)
		if err != nil {
			return err
		}
		if !found {
			logger.WarnContext(ctx, "skipping reminder for missing user", "signup_id", item.Signup.ID, "user_id", item.Signup.UserID)
			continue
		}

		if err := s.sender.Send(ctx, chairMessage(notify.KindChairReminder, user, item.Meeting, item.Signup)); err != nil {
			report.RemindersFailed++
			logger.WarnContext(ctx, "chair reminder not delivered", "signup_id", item.Signup.ID, "error", err)
			continue
		}

		marked, err := s.signups.MarkReminderSent(ctx, item.Signup.ID, now)
		if err != nil {
			return storeFailure(err)
		}
		if marked {
			report.RemindersSent++
		}
	}
	return nil
}

func (s *ReminderService) retryConfirmations(ctx context.Context, logger *slog.Logger, now time.Time, report *ScanReport) error {
	cutoff := now.Add(-confirmationRetryWindow)

	signups, err := s.signups.ListUnconfirmedSignups(ctx, cutoff)
	if err != nil {
		return storeFailure(err)
	}
	for _, item := range signups {
		if item.Meeting.Cancelled() || !item.Meeting.StartsAt().After(now) {
			continue
		}
		user, found, err := s.lookupUser(ctx, item.Signup.UserID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := s.sender.Send(ctx, chairMessage(notify.KindChairConfirmation, user, item.Meeting, item.Signup)); err != nil {
			report.ConfirmationsFailed++
			logger.WarnContext(ctx, "chair confirmation retry failed", "signup_id", item.Signup.ID, "error", err)
			continue
		}
		if err := s.signups.MarkSignupConfirmationSent(ctx, item.Signup.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
			return storeFailure(err)
		}
		report.ConfirmationsSent++
	}

	today := recurrence.DateOf(now, s.cfg.Location)
	offers, err := s.availability.ListUnconfirmedAvailability(ctx, cutoff)
	if err != nil {
		return storeFailure(err)
	}
	for _, offer := range offers {
		if offer.Date.Before(today) {
			continue
		}
		user, found, err := s.lookupUser(ctx, offer.UserID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := s.sender.Send(ctx, availabilityMessage(user, offer)); err != nil {
			report.ConfirmationsFailed++
			logger.WarnContext(ctx, "availability confirmation retry failed", "availability_id", offer.ID, "error", err)
			continue
		}
		if err := s.availability.MarkAvailabilityConfirmationSent(ctx, offer.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
			return storeFailure(err)
		}
		report.ConfirmationsSent++
	}
	return nil
}

func (s *ReminderService) sendDigest(ctx context.Context, logger *slog.Logger, now time.Time, report *ScanReport) error {
	if s.cfg.DigestDisabled || s.calendar == nil || s.notifications == nil {
		return nil
	}

	period, due := digestSchedule(now, s.cfg.Location, s.cfg.DigestWeekday, s.cfg.DigestHour)
	if now.Before(due) {
		return nil
	}
	report.DigestPeriod = period

	tomorrow := recurrence.DateOf(now, s.cfg.Location).AddDate(0, 0, 1)
	entries, err := s.calendar.Materialize(ctx, tomorrow, tomorrow.AddDate(0, 0, digestLookaheadDays))
	if err != nil {
		return storeFailure(err)
	}
	var open []Meeting
	for _, entry := range entries {
		if entry.IsOpen {
			open = append(open, entry.Meeting)
		}
	}
	if len(open) == 0 {
		logger.DebugContext(ctx, "no open meetings for digest", "period", period)
		return nil
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return storeFailure(err)
	}

	kind := string(notify.KindOpenSlotDigest)
	for _, user := range users {
		if user.IsAdmin || user.Email == "" {
			continue
		}
		summaries := digestMeetingsFor(user, open)
		if len(summaries) == 0 {
			continue
		}

		sent, err := s.notifications.HasNotification(ctx, kind, period, user.ID)
		if err != nil {
			return storeFailure(err)
		}
		if sent {
			continue
		}

		msg := notify.Message{
			To:      recipientFor(user),
			Kind:    notify.KindOpenSlotDigest,
			Payload: notify.DigestPayload{Meetings: summaries, PortalURL: s.cfg.PortalURL},
		}
		if err := s.sender.Send(ctx, msg); err != nil {
			report.DigestsFailed++
			logger.WarnContext(ctx, "open slot digest not delivered", "user_id", user.ID, "error", err)
			continue
		}
		if err := s.notifications.RecordNotification(ctx, kind, period, user.ID, now); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return storeFailure(err)
		}
		report.DigestsSent++
	}
	return nil
}

func (s *ReminderService) lookupUser(ctx context.Context, id string) (User, bool, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, false, nil
		}
		return User{}, false, storeFailure(err)
	}
	return user, true, nil
}

func digestMeetingsFor(user User, meetings []Meeting) []notify.MeetingSummary {
	var out []notify.MeetingSummary
	for _, m := range meetings {
		if m.GenderRestriction != GenderUnspecified && !strings.EqualFold(m.GenderRestriction, user.Gender) {
			continue
		}
		out = append(out, meetingSummary(m))
	}
	return out
}

// digestSchedule returns the ISO week key containing now and the instant in
// that week from which the digest is due.
func digestSchedule(now time.Time, loc *time.Location, weekday time.Weekday, hour int) (string, time.Time) {
	local := now.In(loc)
	year, week := local.ISOWeek()
	today := recurrence.DateOf(local, loc)
	monday := today.AddDate(0, 0, -isoOffset(local.Weekday()))
	dueDay := monday.AddDate(0, 0, isoOffset(weekday))
	due := time.Date(dueDay.Year(), dueDay.Month(), dueDay.Day(), hour, 0, 0, 0, loc)
	return fmt.Sprintf("%04d-W%02d", year, week), due
}

// isoOffset counts days since Monday.
func isoOffset(day time.Weekday) int {
	return (int(day) + 6) % 7
}

func storeFailure(err error) error {
	if err == nil || errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}
