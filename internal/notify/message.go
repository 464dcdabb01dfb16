// Package notify renders and delivers portal emails.
//
// Callers hand a Message (recipient, kind, structured payload) to a Sender.
// Rendering is shared by every Sender implementation so that the log sender
// and the SMTP sender produce identical content.
package notify

import (
	"context"
	"errors"
)

// Kind identifies a notification template.
type Kind string

const (
	KindChairConfirmation        Kind = "chair_confirmation"
	KindChairReminder            Kind = "chair_reminder"
	KindAvailabilityConfirmation Kind = "availability_confirmation"
	KindOpenSlotDigest           Kind = "open_slot_digest"
)

// Recipient identifies who receives a notification.
type Recipient struct {
	UserID      string
	Email       string
	DisplayName string
}

// MeetingSummary is the meeting data templates may reference.
type MeetingSummary struct {
	ID          string
	Title       string
	Description string
	Date        string
	Weekday     string
	LongDate    string
	StartTime   string
	VideoLink   string
}

// ChairPayload accompanies KindChairConfirmation and KindChairReminder.
type ChairPayload struct {
	Meeting MeetingSummary
	BPID    string
	Notes   string
}

// AvailabilityPayload accompanies KindAvailabilityConfirmation.
type AvailabilityPayload struct {
	Date           string
	LongDate       string
	TimePreference string
	Notes          string
}

// DigestPayload accompanies KindOpenSlotDigest.
type DigestPayload struct {
	Meetings  []MeetingSummary
	PortalURL string
}

// Message is a single notification request.
type Message struct {
	To      Recipient
	Kind    Kind
	Payload any
}

// Sender delivers messages. Implementations report delivery failure through
// the returned error; callers decide whether to retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	// ErrNoRecipient is returned when a message has no email address.
	ErrNoRecipient = errors.New("notify: recipient email is required")
	// ErrUnknownKind is returned for kinds without a template.
	ErrUnknownKind = errors.New("notify: unknown notification kind")
)
