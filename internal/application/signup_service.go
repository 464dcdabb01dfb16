package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/notify"
)

const maxNotesLength = 1000

// SignupRepository captures the persistence operations for chair signups.
// CreateSignup reports an occupied meeting as ErrAlreadyExists.
type SignupRepository interface {
	SignupReader
	CreateSignup(ctx context.Context, signup ChairSignup) error
	DeleteSignup(ctx context.Context, id string) error
	ListSignupsForUser(ctx context.Context, userID string, from time.Time) ([]SignupWithMeeting, error)
	ListSignupsBetween(ctx context.Context, from, to time.Time) ([]SignupWithMeeting, error)
	ListUnconfirmedSignups(ctx context.Context, createdAfter time.Time) ([]SignupWithMeeting, error)
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkSignupConfirmationSent(ctx context.Context, id string, sentAt time.Time) error
}

// MeetingResolver turns meeting ids, including template instance ids, into meetings.
type MeetingResolver interface {
	GetMeeting(ctx context.Context, id string) (CalendarEntry, error)
	ResolveMeeting(ctx context.Context, id string) (Meeting, error)
	Today() time.Time
}

// SignupService keeps at most one chairperson per meeting.
type SignupService struct {
	meetings    MeetingResolver
	signups     SignupRepository
	users       UserLookup
	sender      notify.Sender
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewSignupService wires dependencies for the signup service.
func NewSignupService(meetings MeetingResolver, signups SignupRepository, users UserLookup, sender notify.Sender, idGenerator func() string, now func() time.Time) *SignupService {
	return NewSignupServiceWithLogger(meetings, signups, users, sender, idGenerator, now, nil)
}

// NewSignupServiceWithLogger wires dependencies for the signup service with a logger.
func NewSignupServiceWithLogger(meetings MeetingResolver, signups SignupRepository, users UserLookup, sender notify.Sender, idGenerator func() string, now func() time.Time, logger *slog.Logger) *SignupService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &SignupService{
		meetings:    meetings,
		signups:     signups,
		users:       users,
		sender:      sender,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *SignupService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SignupService", operation, attrs...)
}

func (s *SignupService) ready() error {
	if s == nil {
		return fmt.Errorf("SignupService is nil")
	}
	if s.meetings == nil {
		return fmt.Errorf("meeting resolver not configured")
	}
	if s.signups == nil {
		return fmt.Errorf("signup repository not configured")
	}
	if s.users == nil {
		return fmt.Errorf("user lookup not configured")
	}
	return nil
}

// Claim makes the principal the chairperson of a meeting. The unique
// constraint on the meeting decides concurrent claims.
func (s *SignupService) Claim(ctx context.Context, params ClaimParams) (signup ChairSignup, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Claim",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "claim failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("signup_id", signup.ID).InfoContext(ctx, "meeting claimed")
	}()

	if params.Principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	notes := strings.TrimSpace(params.Notes)
	if len(notes) > maxNotesLength {
		err = newValidationError("notes", fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
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

	var entry CalendarEntry
	entry, err = s.meetings.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		return
	}
	if err = checkClaimable(entry.Meeting, user, s.now()); err != nil {
		return
	}

	var meeting Meeting
	meeting, err = s.meetings.ResolveMeeting(ctx, params.MeetingID)
	if err != nil {
		return
	}
	if err = checkClaimable(meeting, user, s.now()); err != nil {
		return
	}

	candidate := ChairSignup{
		ID:                  s.idGenerator(),
		MeetingID:           meeting.ID,
		UserID:              user.ID,
		DisplayNameSnapshot: user.DisplayName,
		Notes:               notes,
		MemberNumber:        user.MemberNumber,
		CreatedAt:           s.now(),
	}
	if err = s.signups.CreateSignup(ctx, candidate); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			err = ErrAlreadyClaimed
		case errors.Is(err, ErrNotFound):
			err = ErrMeetingNotFound
		}
		return
	}

	signup = candidate
	s.sendConfirmation(ctx, logger, user, meeting, &signup)
	return
}

func checkClaimable(meeting Meeting, user User, now time.Time) error {
	if meeting.Cancelled() || !meeting.AcceptingSignups || !meeting.StartsAt().After(now) {
		return ErrMeetingClosed
	}
	if restriction := meeting.GenderRestriction; restriction != GenderUnspecified && !strings.EqualFold(restriction, user.Gender) {
		return ErrGenderRestricted
	}
	return nil
}

func (s *SignupService) sendConfirmation(ctx context.Context, logger *slog.Logger, user User, meeting Meeting, signup *ChairSignup) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, chairMessage(notify.KindChairConfirmation, user, meeting, *signup)); err != nil {
		logger.WarnContext(ctx, "chair confirmation not delivered", "error", err)
		return
	}
	sentAt := s.now()
	if err := s.signups.MarkSignupConfirmationSent(ctx, signup.ID, sentAt); err != nil {
		logger.WarnContext(ctx, "failed to record chair confirmation", "error", err, "error_kind", ErrorKind(err))
		return
	}
	signup.ConfirmationSentAt = &sentAt
}

// Release removes the chair signup of a meeting. Only the chair or an admin may release.
func (s *SignupService) Release(ctx context.Context, params ReleaseParams) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "Release",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "release failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "signup released")
	}()

	if params.Principal.UserID == "" {
		return ErrUnauthorized
	}

	var entry CalendarEntry
	entry, err = s.meetings.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		return err
	}
	if entry.Chair == nil {
		return ErrSignupNotFound
	}
	if entry.Chair.UserID != params.Principal.UserID && !params.Principal.IsAdmin {
		return ErrNotOwner
	}

	if err = s.signups.DeleteSignup(ctx, entry.Chair.SignupID); errors.Is(err, ErrNotFound) {
		err = ErrSignupNotFound
	}
	return err
}

// ListMySignups returns the principal's signups for meetings from today on.
func (s *SignupService) ListMySignups(ctx context.Context, principal Principal) ([]SignupWithMeeting, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	signups, err := s.signups.ListSignupsForUser(ctx, principal.UserID, s.meetings.Today())
	if err != nil {
		s.loggerWith(ctx, "ListMySignups", "principal_id", principal.UserID).
			ErrorContext(ctx, "failed to list signups", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return signups, nil
}
