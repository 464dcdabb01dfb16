package application

import (
	"context"

	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/recurrence"
)

const (
	longDateLayout  = "Monday, January 02, 2006"
	clockTimeLayout = "03:04 PM"
)

// UserLookup resolves the account behind a principal or signup.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (User, error)
}

func recipientFor(user User) notify.Recipient {
	return notify.Recipient{UserID: user.ID, Email: user.Email, DisplayName: user.DisplayName}
}

func meetingSummary(m Meeting) notify.MeetingSummary {
	return notify.MeetingSummary{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Date:        m.Date.Format(recurrence.DateLayout),
		Weekday:     m.Date.Weekday().String(),
		LongDate:    m.Date.Format(longDateLayout),
		StartTime:   m.StartsAt().Format(clockTimeLayout),
		VideoLink:   m.VideoLink,
	}
}

func chairMessage(kind notify.Kind, user User, meeting Meeting, signup ChairSignup) notify.Message {
	return notify.Message{
		To:   recipientFor(user),
		Kind: kind,
		Payload: notify.ChairPayload{
			Meeting: meetingSummary(meeting),
			BPID:    user.BPID(),
			Notes:   signup.Notes,
		},
	}
}

func availabilityMessage(user User, availability Availability) notify.Message {
	return notify.Message{
		To:   recipientFor(user),
		Kind: notify.KindAvailabilityConfirmation,
		Payload: notify.AvailabilityPayload{
			Date:           availability.Date.Format(recurrence.DateLayout),
			LongDate:       availability.Date.Format(longDateLayout),
			TimePreference: string(availability.TimePreference),
			Notes:          availability.Notes,
		},
	}
}
