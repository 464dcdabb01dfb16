package persistence

import "time"

// User is the stored shape of a portal account.
type User struct {
	ID           string
	MemberNumber int
	Email        string
	DisplayName  string
	PasswordHash string
	Gender       string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Meeting is a persisted meeting row. EventDate is YYYY-MM-DD and the
// times are HH:MM in the organizational timezone.
type Meeting struct {
	ID                string
	EventDate         string
	StartTime         string
	EndTime           *string
	Title             string
	Description       string
	VideoLink         string
	MeetingType       string
	GenderRestriction string
	AcceptingSignups  bool
	Status            string
	Source            string
	TemplateKey       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChairSignup binds one user to one meeting.
type ChairSignup struct {
	ID                  string
	MeetingID           string
	UserID              string
	DisplayNameSnapshot string
	Notes               string
	CreatedAt           time.Time
	ConfirmationSentAt  *time.Time
	ReminderSentAt      *time.Time
	// MemberNumber is read from the owning user; zero when the user is gone.
	MemberNumber int
}

// SignupWithMeeting joins a signup with its meeting row.
type SignupWithMeeting struct {
	Signup  ChairSignup
	Meeting Meeting
}

// Availability records a volunteer date.
type Availability struct {
	ID                  string
	UserID              string
	VolunteerDate       string
	TimePreference      string
	Notes               string
	DisplayNameSnapshot string
	CreatedAt           time.Time
	ConfirmationSentAt  *time.Time
}

// Session stores authentication session state.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationRecord marks a periodic notification as delivered.
type NotificationRecord struct {
	Kind        string
	PeriodKey   string
	RecipientID string
	SentAt      time.Time
}
