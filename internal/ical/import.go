package ical

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/recurrence"
)

const (
	utcLayout      = "20060102T150405Z"
	floatingLayout = "20060102T150405"
	dateOnlyLayout = "20060102"
)

// SkippedEvent names a VEVENT that could not become a meeting.
type SkippedEvent struct {
	UID    string
	Reason string
}

// DecodeResult is the outcome of reading an external feed.
type DecodeResult struct {
	Meetings []application.MeetingInput
	Skipped  []SkippedEvent
}

// Decode reads VEVENTs and converts their start and end to dates and times in
// loc. Floating times are read in loc. Cancelled and all-day events are skipped.
func Decode(r io.Reader, loc *time.Location) (DecodeResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("parse calendar: %w", err)
	}

	var result DecodeResult
	for _, event := range cal.Events() {
		input, reason := meetingInput(event, loc)
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedEvent{UID: event.Id(), Reason: reason})
			continue
		}
		result.Meetings = append(result.Meetings, input)
	}
	return result, nil
}

func meetingInput(event *ics.VEvent, loc *time.Location) (application.MeetingInput, string) {
	if strings.EqualFold(propertyValue(event, ics.ComponentPropertyStatus), string(ics.ObjectStatusCancelled)) {
		return application.MeetingInput{}, "cancelled"
	}

	title := propertyValue(event, ics.ComponentPropertySummary)
	if title == "" {
		return application.MeetingInput{}, "missing summary"
	}

	start, err := propertyTime(event, ics.ComponentPropertyDtStart, loc)
	if err != nil {
		return application.MeetingInput{}, err.Error()
	}
	start = start.In(loc)

	input := application.MeetingInput{
		Date:              start.Format(recurrence.DateLayout),
		StartTime:         start.Format("15:04"),
		Title:             title,
		Description:       stripChairLine(propertyValue(event, ics.ComponentPropertyDescription)),
		MeetingType:       firstCategory(propertyValue(event, ics.ComponentPropertyCategories)),
		GenderRestriction: propertyValue(event, propGenderRestriction),
	}

	if location := propertyValue(event, ics.ComponentPropertyLocation); isLink(location) {
		input.VideoLink = location
	}

	if event.GetProperty(ics.ComponentPropertyDtEnd) != nil {
		end, err := propertyTime(event, ics.ComponentPropertyDtEnd, loc)
		if err != nil {
			return application.MeetingInput{}, err.Error()
		}
		if end.After(start) {
			input.EndTime = end.In(loc).Format("15:04")
		}
	}
	return input, ""
}

func propertyValue(event *ics.VEvent, property ics.ComponentProperty) string {
	p := event.GetProperty(property)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(unescapeText(p.Value))
}

// propertyTime reads a DATE-TIME property honoring a TZID parameter, a UTC
// suffix, or a floating value in loc.
func propertyTime(event *ics.VEvent, property ics.ComponentProperty, loc *time.Location) (time.Time, error) {
	p := event.GetProperty(property)
	if p == nil {
		return time.Time{}, fmt.Errorf("missing %s", strings.ToLower(string(property)))
	}
	value := strings.TrimSpace(p.Value)

	valueLoc := loc
	if tzid, ok := p.ICalParameters[string(ics.ParameterTzid)]; ok && len(tzid) > 0 {
		if named, err := time.LoadLocation(strings.Trim(tzid[0], `"`)); err == nil {
			valueLoc = named
		}
	}

	switch len(value) {
	case len(utcLayout):
		t, err := time.Parse(utcLayout, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s %q", strings.ToLower(string(property)), value)
		}
		return t, nil
	case len(floatingLayout):
		t, err := time.ParseInLocation(floatingLayout, value, valueLoc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s %q", strings.ToLower(string(property)), value)
		}
		return t, nil
	case len(dateOnlyLayout):
		return time.Time{}, fmt.Errorf("all-day events are not supported")
	default:
		return time.Time{}, fmt.Errorf("invalid %s %q", strings.ToLower(string(property)), value)
	}
}

func firstCategory(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

func isLink(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(value string) string {
	return textUnescaper.Replace(value)
}
