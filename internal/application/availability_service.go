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

// AvailabilityRepository captures the persistence operations for volunteer
// dates. CreateAvailability reports a repeated (user, date) as ErrAlreadyExists.
type AvailabilityRepository interface {
	CreateAvailability(ctx context.Context, availability Availability) error
	GetAvailability(ctx context.Context, id string) (Availability, error)
	DeleteAvailability(ctx context.Context, id string) error
	ListAvailabilityByDate(ctx context.Context, date time.Time) ([]Availability, error)
	ListAvailabilityForUser(ctx context.Context, userID string, from time.Time) ([]Availability, error)
	ListUnconfirmedAvailability(ctx context.Context, createdAfter time.Time) ([]Availability, error)
	MarkAvailabilityConfirmationSent(ctx context.Context, id string, sentAt time.Time) error
}

// AvailabilityService records which dates users are willing to chair.
type AvailabilityService struct {
	availability AvailabilityRepository
	users        UserLookup
	sender       notify.Sender
	location     *time.Location
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewAvailabilityService wires dependencies for the availability service.
func NewAvailabilityService(availability AvailabilityRepository, users UserLookup, sender notify.Sender, loc *time.Location, idGenerator func() string, now func() time.Time) *AvailabilityService {
	return NewAvailabilityServiceWithLogger(availability, users, sender, loc, idGenerator, now, nil)
}

// NewAvailabilityServiceWithLogger wires dependencies for the availability service with a logger.
func NewAvailabilityServiceWithLogger(availability AvailabilityRepository, users UserLookup, sender notify.Sender, loc *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AvailabilityService {
	if loc == nil {
		loc = time.UTC
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		availability: availability,
		users:        users,
		sender:       sender,
		location:     loc,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

func (s *AvailabilityService) ready() error {
	if s == nil {
		return fmt.Errorf("AvailabilityService is nil")
	}
	if s.availability == nil {
		return fmt.Errorf("availability repository not configured")
	}
	return nil
}

// Volunteer records that the principal can chair on a date.
func (s *AvailabilityService) Volunteer(ctx context.Context, params VolunteerParams) (availability Availability, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if s.users == nil {
		err = fmt.Errorf("user lookup not configured")
		return
	}

	logger := s.loggerWith(ctx, "Volunteer",
		"principal_id", params.Principal.UserID,
		"date", params.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "volunteer failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("availability_id", availability.ID).InfoContext(ctx, "availability recorded")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	vErr := &ValidationError{}
	date, parseErr := recurrence.ParseDate(strings.TrimSpace(params.Date), s.location)
	if parseErr != nil {
		vErr.add("date", "date must use YYYY-MM-DD")
	}
	preference := TimePreference(strings.ToLower(strings.TrimSpace(string(params.TimePreference))))
	if preference == "" {
		preference = TimePreferenceAny
	}
	if !preference.Valid() {
		vErr.add("time_preference", "time preference must be morning, afternoon, evening, or any")
	}
	notes := strings.TrimSpace(params.Notes)
	if len(notes) > maxNotesLength {
		vErr.add("notes", fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	if date.Before(recurrence.DateOf(now, s.location)) {
		err = ErrPastDate
		return
	}

	var user User
	user, err = s.users.GetUser(ctx, params.Principal.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrUnauthorized
		}
		return
	}

	candidate := Availability{
		ID:                  s.idGenerator(),
		UserID:              user.ID,
		Date:                date,
		TimePreference:      preference,
		Notes:               notes,
		DisplayNameSnapshot: user.DisplayName,
		CreatedAt:           now,
	}
	if err = s.availability.CreateAvailability(ctx, candidate); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			err = ErrDuplicateSignup
		}
		return
	}

	availability = candidate
	s.sendConfirmation(ctx, logger, user, &availability)
	return
}

func (s *AvailabilityService) sendConfirmation(ctx context.Context, logger *slog.Logger, user User, availability *Availability) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, availabilityMessage(user, *availability)); err != nil {
		logger.WarnContext(ctx, "availability confirmation not delivered", "error", err)
		return
	}
	sentAt := s.now()
	if err := s.availability.MarkAvailabilityConfirmationSent(ctx, availability.ID, sentAt); err != nil {
		logger.WarnContext(ctx, "failed to record availability confirmation", "error", err, "error_kind", ErrorKind(err))
		return
	}
	availability.ConfirmationSentAt = &sentAt
}

// ListForDate returns every volunteer for a date in registration order. Admin only.
func (s *AvailabilityService) ListForDate(ctx context.Context, principal Principal, date string) ([]Availability, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	day, err := recurrence.ParseDate(strings.TrimSpace(date), s.location)
	if err != nil {
		return nil, newValidationError("date", "date must use YYYY-MM-DD")
	}

	items, err := s.availability.ListAvailabilityByDate(ctx, day)
	if err != nil {
		s.loggerWith(ctx, "ListForDate", "date", date).
			ErrorContext(ctx, "failed to list availability", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return items, nil
}

// ListUpcomingForUser returns the principal's volunteer dates from today on, ascending.
func (s *AvailabilityService) ListUpcomingForUser(ctx context.Context, principal Principal) ([]Availability, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	return s.availability.ListAvailabilityForUser(ctx, principal.UserID, recurrence.DateOf(s.now(), s.location))
}

// Withdraw deletes a volunteer record. Only its owner or an admin may withdraw.
func (s *AvailabilityService) Withdraw(ctx context.Context, principal Principal, id string) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "Withdraw",
		"principal_id", principal.UserID,
		"availability_id", id,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "withdraw failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "availability withdrawn")
	}()

	if principal.UserID == "" {
		return ErrUnauthorized
	}

	var existing Availability
	existing, err = s.availability.GetAvailability(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if existing.UserID != principal.UserID && !principal.IsAdmin {
		return ErrNotOwner
	}
	return s.availability.DeleteAvailability(ctx, existing.ID)
}
