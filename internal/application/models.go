package application

import (
	"strconv"
	"time"

	"github.com/example/chair-portal/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Gender values accepted on profiles and meeting restrictions.
const (
	GenderUnspecified = recurrence.GenderAny
	GenderMale        = recurrence.GenderMale
	GenderFemale      = recurrence.GenderFemale
)

// User represents a portal account exposed by the application services.
type User struct {
	ID           string
	MemberNumber int
	Email        string
	DisplayName  string
	Gender       string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BPID returns the public member identifier, or "" before a number is assigned.
func (u User) BPID() string {
	return FormatBPID(u.MemberNumber)
}

// FormatBPID renders a member number as its public identifier.
func FormatBPID(memberNumber int) string {
	if memberNumber <= 0 {
		return ""
	}
	return "BP-" + strconv.Itoa(memberNumber)
}

// UserCredentials models the authentication attributes persisted for a user.
type UserCredentials struct {
	User         User
	PasswordHash string
}

// RegisterParams captures the data required to create an account.
type RegisterParams struct {
	Email       string
	DisplayName string
	Password    string
	Gender      string
}

// UpdateProfileParams captures the editable profile fields.
type UpdateProfileParams struct {
	Principal   Principal
	DisplayName string
	Gender      string
}

// Session represents an authenticated session issued to a user.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	RevokedAt *time.Time
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email    string
	Password string
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User    User
	Session Session
}

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

const (
	MeetingStatusScheduled MeetingStatus = "scheduled"
	MeetingStatusCancelled MeetingStatus = "cancelled"
)

// MeetingSource records how a meeting came to exist.
type MeetingSource string

const (
	MeetingSourceAdmin    MeetingSource = "admin"
	MeetingSourceTemplate MeetingSource = "template"
	MeetingSourceImport   MeetingSource = "import"
)

// Meeting is a single scheduled occurrence, either stored or generated from
// the recurring template. Date is midnight of the meeting day in the
// organizational timezone.
type Meeting struct {
	ID                string
	Date              time.Time
	StartTime         recurrence.TimeOfDay
	EndTime           *recurrence.TimeOfDay
	Title             string
	Description       string
	VideoLink         string
	MeetingType       string
	GenderRestriction string
	AcceptingSignups  bool
	Status            MeetingStatus
	Source            MeetingSource
	// TemplateKey is the template instance id a stored row was materialized from.
	TemplateKey string
	// Persisted is false for template instances that exist only on read.
	Persisted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartsAt returns the meeting start instant.
func (m Meeting) StartsAt() time.Time {
	return m.StartTime.On(m.Date, m.Date.Location())
}

// EndsAt returns the meeting end instant; meetings without an end time last an hour.
func (m Meeting) EndsAt() time.Time {
	if m.EndTime != nil {
		end := m.EndTime.On(m.Date, m.Date.Location())
		if !m.StartTime.Before(*m.EndTime) {
			end = m.EndTime.On(m.Date.AddDate(0, 0, 1), m.Date.Location())
		}
		return end
	}
	return m.StartsAt().Add(recurrence.DefaultDuration)
}

// Cancelled reports whether an admin cancelled the meeting.
func (m Meeting) Cancelled() bool {
	return m.Status == MeetingStatusCancelled
}

// ChairInfo is the signup state attached to a calendar entry.
type ChairInfo struct {
	SignupID    string
	UserID      string
	DisplayName string
	BPID        string
	Notes       string
}

// CalendarEntry is a meeting together with its chairperson, if any.
type CalendarEntry struct {
	Meeting Meeting
	Chair   *ChairInfo
	IsOpen  bool
}

func newCalendarEntry(meeting Meeting, signup *ChairSignup) CalendarEntry {
	entry := CalendarEntry{Meeting: meeting}
	if signup != nil {
		entry.Chair = &ChairInfo{
			SignupID:    signup.ID,
			UserID:      signup.UserID,
			DisplayName: signup.DisplayNameSnapshot,
			BPID:        FormatBPID(signup.MemberNumber),
			Notes:       signup.Notes,
		}
	}
	entry.IsOpen = meeting.AcceptingSignups && meeting.Status == MeetingStatusScheduled && entry.Chair == nil
	return entry
}

// MeetingInput captures admin or import provided meeting fields. Dates use
// YYYY-MM-DD and times HH:MM in the organizational timezone.
type MeetingInput struct {
	Date              string
	StartTime         string
	EndTime           string
	Title             string
	Description       string
	VideoLink         string
	MeetingType       string
	GenderRestriction string
	// AcceptingSignups defaults to true when nil.
	AcceptingSignups *bool
}

// CreateMeetingParams wraps the data required to create a meeting.
type CreateMeetingParams struct {
	Principal Principal
	Input     MeetingInput
}

// UpdateMeetingParams wraps the data required to update a meeting.
type UpdateMeetingParams struct {
	Principal Principal
	MeetingID string
	Input     MeetingInput
}

// ImportMeetingsParams wraps an external calendar import.
type ImportMeetingsParams struct {
	Principal Principal
	Meetings  []MeetingInput
	// Replace deletes future imported meetings without a signup that are absent from Meetings.
	Replace bool
}

// ImportReport summarizes an import run.
type ImportReport struct {
	Created  int
	Existing int
	Removed  int
	Skipped  int
}

// ChairSignup binds one user to one meeting.
type ChairSignup struct {
	ID                  string
	MeetingID           string
	UserID              string
	DisplayNameSnapshot string
	Notes               string
	MemberNumber        int
	CreatedAt           time.Time
	ConfirmationSentAt  *time.Time
	ReminderSentAt      *time.Time
}

// SignupWithMeeting joins a signup with the meeting it covers.
type SignupWithMeeting struct {
	Signup  ChairSignup
	Meeting Meeting
}

// ClaimParams captures a request to chair a meeting.
type ClaimParams struct {
	Principal Principal
	MeetingID string
	Notes     string
}

// ReleaseParams captures a request to give up a chair signup.
type ReleaseParams struct {
	Principal Principal
	MeetingID string
}

// TimePreference is the part of day a volunteer prefers.
type TimePreference string

const (
	TimePreferenceMorning   TimePreference = "morning"
	TimePreferenceAfternoon TimePreference = "afternoon"
	TimePreferenceEvening   TimePreference = "evening"
	TimePreferenceAny       TimePreference = "any"
)

// Valid reports whether p is one of the known preferences.
func (p TimePreference) Valid() bool {
	switch p {
	case TimePreferenceMorning, TimePreferenceAfternoon, TimePreferenceEvening, TimePreferenceAny:
		return true
	}
	return false
}

// Availability is a user's offer to chair on a date.
type Availability struct {
	ID                  string
	UserID              string
	Date                time.Time
	TimePreference      TimePreference
	Notes               string
	DisplayNameSnapshot string
	CreatedAt           time.Time
	ConfirmationSentAt  *time.Time
}

// VolunteerParams captures an availability offer.
type VolunteerParams struct {
	Principal      Principal
	Date           string
	TimePreference TimePreference
	Notes          string
}

// ScanReport counts the work done by one reminder scan.
type ScanReport struct {
	RemindersSent       int
	RemindersFailed     int
	ConfirmationsSent   int
	ConfirmationsFailed int
	DigestPeriod        string
	DigestsSent         int
	DigestsFailed       int
}
