package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/persistence"
)

var (
	userCounter         uint64
	meetingCounter      uint64
	signupCounter       uint64
	availabilityCounter uint64
	sessionCounter      uint64
)

var referenceTime = time.Date(2025, time.March, 3, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate returns the calendar day of ReferenceTime shifted by offset days,
// formatted as YYYY-MM-DD.
func ReferenceDate(offset int) string {
	return referenceTime.AddDate(0, 0, offset).Format("2006-01-02")
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic portal account.
type UserFixture struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Gender       string
	IsAdmin      bool
	CreatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		DisplayName:  fmt.Sprintf("User %03d", idx),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		CreatedAt:    referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserDisplayName overrides the generated display name.
func WithUserDisplayName(name string) UserOption {
	return func(f *UserFixture) {
		f.DisplayName = name
	}
}

// WithUserPasswordHash overrides the generated password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) {
		f.PasswordHash = hash
	}
}

// WithUserGender sets the profile gender.
func WithUserGender(gender string) UserOption {
	return func(f *UserFixture) {
		f.Gender = gender
	}
}

// WithUserAdmin sets the admin flag on the generated fixture.
func WithUserAdmin(isAdmin bool) UserOption {
	return func(f *UserFixture) {
		f.IsAdmin = isAdmin
	}
}

// Application returns the fixture as an application.User value. The member
// number is assigned by storage and therefore left zero.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:          f.ID,
		Email:       f.Email,
		DisplayName: f.DisplayName,
		Gender:      f.Gender,
		IsAdmin:     f.IsAdmin,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.CreatedAt,
	}
}

// Credentials returns the fixture as application.UserCredentials.
func (f UserFixture) Credentials() application.UserCredentials {
	return application.UserCredentials{User: f.Application(), PasswordHash: f.PasswordHash}
}

// Principal returns an application.Principal derived from the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, IsAdmin: f.IsAdmin}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: f.PasswordHash,
		Gender:       f.Gender,
		IsAdmin:      f.IsAdmin,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.CreatedAt,
	}
}

// ---------------------------- Meeting fixtures ----------------------------

// MeetingFixture represents a deterministic stored meeting.
type MeetingFixture struct {
	ID                string
	Date              string
	StartTime         string
	EndTime           string
	Title             string
	VideoLink         string
	GenderRestriction string
	AcceptingSignups  bool
	Status            string
	Source            string
	TemplateKey       string
	CreatedAt         time.Time
}

// MeetingOption configures the generated meeting fixture.
type MeetingOption func(*MeetingFixture)

// NewMeetingFixture returns an admin-created meeting one week after
// ReferenceTime, open for signups.
func NewMeetingFixture(opts ...MeetingOption) MeetingFixture {
	idx := atomic.AddUint64(&meetingCounter, 1)
	fixture := MeetingFixture{
		ID:               fmt.Sprintf("meeting-%03d", idx),
		Date:             ReferenceDate(7),
		StartTime:        "19:00",
		EndTime:          "20:00",
		Title:            fmt.Sprintf("Meeting %03d", idx),
		VideoLink:        "https://meet.example.com/backporch",
		AcceptingSignups: true,
		Status:           string(application.MeetingStatusScheduled),
		Source:           string(application.MeetingSourceAdmin),
		CreatedAt:        referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMeetingID overrides the generated meeting ID.
func WithMeetingID(id string) MeetingOption {
	return func(f *MeetingFixture) {
		f.ID = id
	}
}

// WithMeetingDate sets the YYYY-MM-DD date.
func WithMeetingDate(date string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Date = date
	}
}

// WithMeetingTimes sets the HH:MM start and end. An empty end leaves it unset.
func WithMeetingTimes(start, end string) MeetingOption {
	return func(f *MeetingFixture) {
		f.StartTime = start
		f.EndTime = end
	}
}

// WithMeetingTitle overrides the title.
func WithMeetingTitle(title string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Title = title
	}
}

// WithMeetingGender restricts chairs to the given gender.
func WithMeetingGender(gender string) MeetingOption {
	return func(f *MeetingFixture) {
		f.GenderRestriction = gender
	}
}

// WithMeetingClosed marks the meeting as not accepting signups.
func WithMeetingClosed() MeetingOption {
	return func(f *MeetingFixture) {
		f.AcceptingSignups = false
	}
}

// WithMeetingCancelled marks the meeting as cancelled.
func WithMeetingCancelled() MeetingOption {
	return func(f *MeetingFixture) {
		f.Status = string(application.MeetingStatusCancelled)
	}
}

// WithMeetingImported marks the meeting as coming from an ICS import.
func WithMeetingImported() MeetingOption {
	return func(f *MeetingFixture) {
		f.Source = string(application.MeetingSourceImport)
	}
}

// WithMeetingTemplateKey binds the row to a template instance.
func WithMeetingTemplateKey(key string) MeetingOption {
	return func(f *MeetingFixture) {
		f.Source = string(application.MeetingSourceTemplate)
		f.TemplateKey = key
	}
}

// Input returns the editable fields as an application.MeetingInput.
func (f MeetingFixture) Input() application.MeetingInput {
	accepting := f.AcceptingSignups
	return application.MeetingInput{
		Date:              f.Date,
		StartTime:         f.StartTime,
		EndTime:           f.EndTime,
		Title:             f.Title,
		VideoLink:         f.VideoLink,
		GenderRestriction: f.GenderRestriction,
		AcceptingSignups:  &accepting,
	}
}

// Persistence returns the fixture as a persistence.Meeting value.
func (f MeetingFixture) Persistence() persistence.Meeting {
	meeting := persistence.Meeting{
		ID:                f.ID,
		EventDate:         f.Date,
		StartTime:         f.StartTime,
		Title:             f.Title,
		VideoLink:         f.VideoLink,
		GenderRestriction: f.GenderRestriction,
		AcceptingSignups:  f.AcceptingSignups,
		Status:            f.Status,
		Source:            f.Source,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.CreatedAt,
	}
	if f.EndTime != "" {
		meeting.EndTime = stringPtr(f.EndTime)
	}
	if f.TemplateKey != "" {
		meeting.TemplateKey = stringPtr(f.TemplateKey)
	}
	return meeting
}

// ----------------------------- Signup fixtures -----------------------------

// SignupFixture represents a deterministic chair signup.
type SignupFixture struct {
	ID                  string
	MeetingID           string
	UserID              string
	DisplayNameSnapshot string
	Notes               string
	CreatedAt           time.Time
	ConfirmationSentAt  *time.Time
	ReminderSentAt      *time.Time
}

// SignupOption configures the generated signup fixture.
type SignupOption func(*SignupFixture)

// NewSignupFixture returns a signup binding userID to meetingID.
func NewSignupFixture(meetingID, userID string, opts ...SignupOption) SignupFixture {
	idx := atomic.AddUint64(&signupCounter, 1)
	fixture := SignupFixture{
		ID:                  fmt.Sprintf("signup-%03d", idx),
		MeetingID:           meetingID,
		UserID:              userID,
		DisplayNameSnapshot: fmt.Sprintf("Chair %03d", idx),
		CreatedAt:           referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSignupNotes sets the chair's notes.
func WithSignupNotes(notes string) SignupOption {
	return func(f *SignupFixture) {
		f.Notes = notes
	}
}

// WithSignupDisplayName overrides the display name snapshot.
func WithSignupDisplayName(name string) SignupOption {
	return func(f *SignupFixture) {
		f.DisplayNameSnapshot = name
	}
}

// WithSignupConfirmed marks the confirmation email as sent at t.
func WithSignupConfirmed(t time.Time) SignupOption {
	return func(f *SignupFixture) {
		f.ConfirmationSentAt = timePtr(t)
	}
}

// WithSignupReminded marks the reminder email as sent at t.
func WithSignupReminded(t time.Time) SignupOption {
	return func(f *SignupFixture) {
		f.ReminderSentAt = timePtr(t)
	}
}

// Persistence returns the fixture as a persistence.ChairSignup value.
func (f SignupFixture) Persistence() persistence.ChairSignup {
	return persistence.ChairSignup{
		ID:                  f.ID,
		MeetingID:           f.MeetingID,
		UserID:              f.UserID,
		DisplayNameSnapshot: f.DisplayNameSnapshot,
		Notes:               f.Notes,
		CreatedAt:           f.CreatedAt,
		ConfirmationSentAt:  copyTimePtr(f.ConfirmationSentAt),
		ReminderSentAt:      copyTimePtr(f.ReminderSentAt),
	}
}

// -------------------------- Availability fixtures --------------------------

// AvailabilityFixture represents a deterministic volunteer date.
type AvailabilityFixture struct {
	ID                  string
	UserID              string
	Date                string
	TimePreference      string
	Notes               string
	DisplayNameSnapshot string
	CreatedAt           time.Time
}

// AvailabilityOption configures the generated availability fixture.
type AvailabilityOption func(*AvailabilityFixture)

// NewAvailabilityFixture returns an offer by userID for a date one week out.
func NewAvailabilityFixture(userID string, opts ...AvailabilityOption) AvailabilityFixture {
	idx := atomic.AddUint64(&availabilityCounter, 1)
	fixture := AvailabilityFixture{
		ID:                  fmt.Sprintf("availability-%03d", idx),
		UserID:              userID,
		Date:                ReferenceDate(7),
		TimePreference:      string(application.TimePreferenceAny),
		DisplayNameSnapshot: fmt.Sprintf("Volunteer %03d", idx),
		CreatedAt:           referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAvailabilityDate sets the YYYY-MM-DD volunteer date.
func WithAvailabilityDate(date string) AvailabilityOption {
	return func(f *AvailabilityFixture) {
		f.Date = date
	}
}

// WithAvailabilityPreference sets the preferred part of day.
func WithAvailabilityPreference(pref application.TimePreference) AvailabilityOption {
	return func(f *AvailabilityFixture) {
		f.TimePreference = string(pref)
	}
}

// Persistence returns the fixture as a persistence.Availability value.
func (f AvailabilityFixture) Persistence() persistence.Availability {
	return persistence.Availability{
		ID:                  f.ID,
		UserID:              f.UserID,
		VolunteerDate:       f.Date,
		TimePreference:      f.TimePreference,
		Notes:               f.Notes,
		DisplayNameSnapshot: f.DisplayNameSnapshot,
		CreatedAt:           f.CreatedAt,
	}
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture represents a deterministic session record.
type SessionFixture struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a deterministic session fixture with optional overrides.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	fixture := SessionFixture{
		ID:        fmt.Sprintf("session-%03d", idx),
		UserID:    fmt.Sprintf("user-%03d", idx),
		Token:     fmt.Sprintf("token-%03d", idx),
		ExpiresAt: referenceTime.Add(24 * time.Hour),
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionUserID sets the user ID.
func WithSessionUserID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.UserID = id
	}
}

// WithSessionToken overrides the token value.
func WithSessionToken(token string) SessionOption {
	return func(f *SessionFixture) {
		f.Token = token
	}
}

// WithSessionExpiresAt sets the expiration timestamp.
func WithSessionExpiresAt(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.ExpiresAt = t
	}
}

// WithSessionRevokedAt sets the optional revoked timestamp.
func WithSessionRevokedAt(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.RevokedAt = timePtr(t)
	}
}

// Application returns the fixture as an application.Session value.
func (f SessionFixture) Application() application.Session {
	return application.Session{
		ID:        f.ID,
		UserID:    f.UserID,
		Token:     f.Token,
		ExpiresAt: f.ExpiresAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
		RevokedAt: copyTimePtr(f.RevokedAt),
	}
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:        f.ID,
		UserID:    f.UserID,
		Token:     f.Token,
		ExpiresAt: f.ExpiresAt,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.CreatedAt,
		RevokedAt: copyTimePtr(f.RevokedAt),
	}
}

func stringPtr(value string) *string {
	return &value
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}
