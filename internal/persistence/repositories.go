package persistence

import (
	"context"
	"time"
)

// UserRepository exposes account storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// MeetingFilter narrows meeting queries. Dates are inclusive YYYY-MM-DD bounds.
type MeetingFilter struct {
	FromDate string
	ToDate   string
	Source   string
}

// MeetingRepository stores explicitly persisted meetings.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	// EnsureMeeting inserts the meeting unless a row already occupies its slot
	// or template key, and returns the stored row either way.
	EnsureMeeting(ctx context.Context, meeting Meeting) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	FindMeetingByTemplateKey(ctx context.Context, key string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
	DeleteMeeting(ctx context.Context, id string) error
}

// SignupRepository stores chair signups. CreateSignup must surface the
// UNIQUE(meeting_id) violation as ErrDuplicate.
type SignupRepository interface {
	CreateSignup(ctx context.Context, signup ChairSignup) error
	GetSignupByMeeting(ctx context.Context, meetingID string) (ChairSignup, error)
	DeleteSignup(ctx context.Context, id string) error
	ListSignupsForMeetings(ctx context.Context, meetingIDs []string) ([]ChairSignup, error)
	ListSignupsForUser(ctx context.Context, userID string, fromDate string) ([]SignupWithMeeting, error)
	ListSignupsBetween(ctx context.Context, fromDate, toDate string) ([]SignupWithMeeting, error)
	ListUnconfirmedSignups(ctx context.Context, createdAfter time.Time) ([]SignupWithMeeting, error)
	// MarkReminderSent sets the marker only if unset and reports whether it changed.
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkSignupConfirmationSent(ctx context.Context, id string, sentAt time.Time) error
}

// AvailabilityRepository stores volunteer dates. CreateAvailability must
// surface the UNIQUE(user_id, volunteer_date) violation as ErrDuplicate.
type AvailabilityRepository interface {
	CreateAvailability(ctx context.Context, availability Availability) error
	GetAvailability(ctx context.Context, id string) (Availability, error)
	DeleteAvailability(ctx context.Context, id string) error
	ListAvailabilityByDate(ctx context.Context, date string) ([]Availability, error)
	ListAvailabilityForUser(ctx context.Context, userID string, fromDate string) ([]Availability, error)
	ListUnconfirmedAvailability(ctx context.Context, createdAfter time.Time) ([]Availability, error)
	MarkAvailabilityConfirmationSent(ctx context.Context, id string, sentAt time.Time) error
}

// SessionRepository stores authentication session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// NotificationLogRepository records periodic notifications.
type NotificationLogRepository interface {
	HasNotification(ctx context.Context, kind, periodKey, recipientID string) (bool, error)
	RecordNotification(ctx context.Context, record NotificationRecord) error
}
