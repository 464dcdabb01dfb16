package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Occurrence is a dated instance generated from a template rule.
type Occurrence struct {
	ID    string
	Rule  Rule
	Date  time.Time
	Start time.Time
	End   time.Time
}

// Engine expands the recurring template into occurrences.
type Engine struct {
	location *time.Location
	template Template
}

// NewEngine constructs an Engine over the provided template. Results are
// normalized to loc; when loc is nil UTC is used.
func NewEngine(loc *time.Location, template Template) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	rules := make([]Rule, len(template.Rules))
	copy(rules, template.Rules)
	return &Engine{location: loc, template: Template{Rules: rules}}
}

// ErrInvalidWindow indicates the generation window ends before it starts.
var ErrInvalidWindow = errors.New("recurrence: window end precedes start")

// Location returns the organizational timezone.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []Rule {
	if e == nil {
		return nil
	}
	rules := make([]Rule, len(e.template.Rules))
	copy(rules, e.template.Rules)
	return rules
}

// Today returns the organizational calendar day containing now.
func (e *Engine) Today(now time.Time) time.Time {
	return DateOf(now, e.Location())
}

// GenerateOccurrences produces occurrences for every day in the inclusive
// range [from, to]. Only the calendar day of each bound is considered.
//
// Days are stepped with AddDate so that DST transitions keep wall-clock times.
// Output is ordered by start time and then rule order.
func (e *Engine) GenerateOccurrences(from, to time.Time) ([]Occurrence, error) {
	loc := e.Location()
	first := DateOf(from, loc)
	last := DateOf(to, loc)
	if last.Before(first) {
		return nil, ErrInvalidWindow
	}

	occurrences := make([]Occurrence, 0)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		dayOccurrences := make([]Occurrence, 0, len(e.template.Rules))
		for _, rule := range e.template.Rules {
			if !rule.Matches(day) {
				continue
			}
			dayOccurrences = append(dayOccurrences, e.occurrence(rule, day))
		}
		sortByStart(dayOccurrences)
		occurrences = append(occurrences, dayOccurrences...)
	}

	return occurrences, nil
}

// Lookup resolves an occurrence identifier produced by this engine. It fails
// when the rule is unknown, disabled, or does not fall on the encoded date.
func (e *Engine) Lookup(id string) (Occurrence, bool) {
	key, date, ok := ParseOccurrenceID(id, e.Location())
	if !ok {
		return Occurrence{}, false
	}
	for _, rule := range e.template.Rules {
		if rule.Key != key {
			continue
		}
		if !rule.Matches(date) {
			return Occurrence{}, false
		}
		return e.occurrence(rule, date), true
	}
	return Occurrence{}, false
}

func (e *Engine) occurrence(rule Rule, day time.Time) Occurrence {
	start := rule.Start.On(day, e.Location())
	duration := rule.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Occurrence{
		ID:    OccurrenceID(rule.Key, day),
		Rule:  rule,
		Date:  day,
		Start: start,
		End:   start.Add(duration),
	}
}

func sortByStart(items []Occurrence) {
	// insertion sort keeps rule order for equal start times
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Start.Before(items[j-1].Start); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

const occurrencePrefix = "tpl-"

// OccurrenceID builds the deterministic identifier of a template instance.
func OccurrenceID(ruleKey string, day time.Time) string {
	return fmt.Sprintf("%s%s-%s", occurrencePrefix, ruleKey, day.Format("20060102"))
}

// IsOccurrenceID reports whether id has the template instance shape.
func IsOccurrenceID(id string) bool {
	return strings.HasPrefix(id, occurrencePrefix)
}

// ParseOccurrenceID splits an identifier built by OccurrenceID.
func ParseOccurrenceID(id string, loc *time.Location) (string, time.Time, bool) {
	if !IsOccurrenceID(id) {
		return "", time.Time{}, false
	}
	rest := strings.TrimPrefix(id, occurrencePrefix)
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return "", time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("20060102", rest[idx+1:], loc)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:idx], day, true
}
