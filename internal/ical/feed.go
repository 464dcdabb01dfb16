// Package ical converts calendar entries to and from iCalendar feeds.
package ical

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/example/chair-portal/internal/application"
)

const (
	ProductID    = "-//Back Porch Meetings//backporchmeetings.org//"
	CalendarName = "Back Porch Chairperson Calendar"
	uidDomain    = "backporchmeetings.org"

	// Non-standard properties carrying fields iCalendar has no slot for.
	propGenderRestriction ics.ComponentProperty = "X-BACKPORCH-GENDER-RESTRICTION"

	onlineLocation = "Online"
	noChairLine    = "No chair yet"
	chairPrefix    = "Chair: "
)

// Feed renders calendar entries as an iCalendar document.
type Feed struct {
	// PortalURL, when set, links each event to its meeting page.
	PortalURL string
	Now       func() time.Time
}

// Encode writes entries as a PUBLISH calendar. Cancelled meetings are omitted.
func (f Feed) Encode(w io.Writer, entries []application.CalendarEntry) error {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	stamp := now().UTC()

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(CalendarName)

	for _, entry := range entries {
		m := entry.Meeting
		if m.Cancelled() {
			continue
		}

		event := cal.AddEvent(EventUID(m.ID))
		event.SetDtStampTime(stamp)
		event.SetStartAt(m.StartsAt().UTC())
		event.SetEndAt(m.EndsAt().UTC())
		event.SetSummary(m.Title)
		event.SetDescription(describe(m.Description, entry.Chair))

		location := onlineLocation
		if m.VideoLink != "" {
			location = m.VideoLink
		}
		event.SetLocation(location)

		if m.MeetingType != "" {
			event.AddProperty(ics.ComponentPropertyCategories, m.MeetingType)
		}
		if m.GenderRestriction != "" {
			event.SetProperty(propGenderRestriction, m.GenderRestriction)
		}
		if f.PortalURL != "" {
			event.SetURL(strings.TrimRight(f.PortalURL, "/") + "/meetings/" + m.ID)
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

// EventUID is the stable UID used for a meeting in exported feeds.
func EventUID(meetingID string) string {
	return "meeting-" + meetingID + "@" + uidDomain
}

func describe(description string, chair *application.ChairInfo) string {
	line := noChairLine
	if chair != nil {
		line = chairPrefix + chair.DisplayName
		if chair.BPID != "" {
			line += " (" + chair.BPID + ")"
		}
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return line
	}
	return description + "\n\n" + line
}

// stripChairLine removes the trailer added by describe so a re-imported
// description matches the original.
func stripChairLine(description string) string {
	description = strings.TrimSpace(description)
	idx := strings.LastIndex(description, "\n")
	last := description[idx+1:]
	if last != noChairLine && !strings.HasPrefix(last, chairPrefix) {
		return description
	}
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(description[:idx])
}
