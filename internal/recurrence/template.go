package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Kind selects how a rule repeats.
type Kind int

const (
	// KindUnspecified indicates the rule kind is not set.
	KindUnspecified Kind = iota
	// KindDaily generates an occurrence on every calendar day.
	KindDaily
	// KindWeekly generates an occurrence on one weekday.
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	default:
		return "unspecified"
	}
}

// Gender restriction values shared by template rules and meetings.
const (
	GenderAny    = ""
	GenderMale   = "male"
	GenderFemale = "female"
)

// DefaultDuration applies to rules that do not specify one.
const DefaultDuration = time.Hour

// Rule is one entry of the recurring schedule template. Kind decides whether
// Weekday is consulted.
type Rule struct {
	Key               string
	Kind              Kind
	Weekday           time.Weekday
	Start             TimeOfDay
	Duration          time.Duration
	Title             string
	Description       string
	MeetingType       string
	GenderRestriction string
	Enabled           bool
}

// Daily builds an enabled rule repeating every day at start.
func Daily(key string, start TimeOfDay, title string) Rule {
	return Rule{Key: key, Kind: KindDaily, Start: start, Title: title, Duration: DefaultDuration, MeetingType: "Regular", Enabled: true}
}

// WeeklyOn builds an enabled rule repeating on weekday at start.
func WeeklyOn(key string, weekday time.Weekday, start TimeOfDay, title string) Rule {
	return Rule{Key: key, Kind: KindWeekly, Weekday: weekday, Start: start, Title: title, Duration: DefaultDuration, MeetingType: "Regular", Enabled: true}
}

// Matches reports whether the rule produces an occurrence on the given day.
func (r Rule) Matches(day time.Time) bool {
	if !r.Enabled {
		return false
	}
	switch r.Kind {
	case KindDaily:
		return true
	case KindWeekly:
		return day.Weekday() == r.Weekday
	default:
		return false
	}
}

// Template is the process-wide set of recurring rules.
type Template struct {
	Rules []Rule
}

// ConfigurationError reports a malformed template. It is only produced at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "recurrence: invalid template configuration"
	}
	return "recurrence: invalid template configuration: " + strings.Join(e.Problems, "; ")
}

var ruleKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate checks every rule and returns a *ConfigurationError describing all problems found.
func (t Template) Validate() error {
	var problems []string
	seen := make(map[string]struct{}, len(t.Rules))

	for i, rule := range t.Rules {
		label := fmt.Sprintf("rule[%d]", i)
		if rule.Key != "" {
			label = fmt.Sprintf("rule %q", rule.Key)
		}

		switch {
		case rule.Key == "":
			problems = append(problems, label+": key is required")
		case !ruleKeyPattern.MatchString(rule.Key):
			problems = append(problems, label+": key must contain only lowercase letters, digits and dashes")
		default:
			if _, dup := seen[rule.Key]; dup {
				problems = append(problems, label+": key is duplicated")
			}
			seen[rule.Key] = struct{}{}
		}

		switch rule.Kind {
		case KindDaily:
		case KindWeekly:
			if rule.Weekday < time.Sunday || rule.Weekday > time.Saturday {
				problems = append(problems, label+": weekday is out of range")
			}
		default:
			problems = append(problems, label+": kind must be daily or weekly")
		}

		if strings.TrimSpace(rule.Title) == "" {
			problems = append(problems, label+": title is required")
		}
		if rule.Start.Hour < 0 || rule.Start.Hour > 23 || rule.Start.Minute < 0 || rule.Start.Minute > 59 {
			problems = append(problems, label+": time is out of range")
		}
		if rule.Duration < 0 {
			problems = append(problems, label+": duration must not be negative")
		}
		switch rule.GenderRestriction {
		case GenderAny, GenderMale, GenderFemale:
		default:
			problems = append(problems, label+": gender restriction must be empty, male or female")
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// DefaultTemplate is the Back Porch static schedule.
func DefaultTemplate() Template {
	daily := Daily("daily-literature", MustTimeOfDay("17:30"), "Daily Literature-based Meeting")
	daily.Description = "AA-approved literature only."

	women := WeeklyOn("saturday-women", time.Saturday, MustTimeOfDay("08:30"), "Women's Meeting")
	women.Description = "Women only meeting."
	women.GenderRestriction = GenderFemale

	coed := WeeklyOn("sunday-coed", time.Sunday, MustTimeOfDay("08:30"), "Co-ed Meeting")
	coed.Description = "Open to everyone."

	men := WeeklyOn("sunday-men", time.Sunday, MustTimeOfDay("15:30"), "Men's Meeting")
	men.Description = "Men only meeting."
	men.GenderRestriction = GenderMale

	return Template{Rules: []Rule{daily, women, coed, men}}
}

type ruleFile struct {
	Key               string `json:"key"`
	Kind              string `json:"kind"`
	Weekday           string `json:"weekday"`
	Time              string `json:"time"`
	Duration          string `json:"duration"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	MeetingType       string `json:"meeting_type"`
	GenderRestriction string `json:"gender_restriction"`
	Enabled           *bool  `json:"enabled"`
}

type templateFile struct {
	Rules []ruleFile `json:"rules"`
}

var weekdaysByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadTemplateFile reads a JSON template definition and validates it.
func LoadTemplateFile(path string) (Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Template{}, &ConfigurationError{Problems: []string{fmt.Sprintf("read %s: %v", path, err)}}
	}
	return ParseTemplate(raw)
}

// ParseTemplate decodes a JSON template definition and validates it.
func ParseTemplate(raw []byte) (Template, error) {
	var file templateFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return Template{}, &ConfigurationError{Problems: []string{fmt.Sprintf("decode template: %v", err)}}
	}

	var problems []string
	template := Template{Rules: make([]Rule, 0, len(file.Rules))}
	for i, entry := range file.Rules {
		rule := Rule{
			Key:               strings.TrimSpace(entry.Key),
			Title:             strings.TrimSpace(entry.Title),
			Description:       strings.TrimSpace(entry.Description),
			MeetingType:       strings.TrimSpace(entry.MeetingType),
			GenderRestriction: strings.ToLower(strings.TrimSpace(entry.GenderRestriction)),
			Duration:          DefaultDuration,
			Enabled:           entry.Enabled == nil || *entry.Enabled,
		}
		if rule.MeetingType == "" {
			rule.MeetingType = "Regular"
		}

		switch strings.ToLower(strings.TrimSpace(entry.Kind)) {
		case "daily":
			rule.Kind = KindDaily
		case "weekly":
			rule.Kind = KindWeekly
			day, ok := weekdaysByName[strings.ToLower(strings.TrimSpace(entry.Weekday))]
			if !ok {
				problems = append(problems, fmt.Sprintf("rule[%d]: weekday %q is not recognised", i, entry.Weekday))
			}
			rule.Weekday = day
		}

		if strings.TrimSpace(entry.Time) == "" {
			problems = append(problems, fmt.Sprintf("rule[%d]: time is required", i))
		} else if start, err := ParseTimeOfDay(strings.TrimSpace(entry.Time)); err != nil {
			problems = append(problems, fmt.Sprintf("rule[%d]: %v", i, err))
		} else {
			rule.Start = start
		}

		if d := strings.TrimSpace(entry.Duration); d != "" {
			parsed, err := time.ParseDuration(d)
			if err != nil || parsed <= 0 {
				problems = append(problems, fmt.Sprintf("rule[%d]: duration %q is invalid", i, entry.Duration))
			} else {
				rule.Duration = parsed
			}
		}

		template.Rules = append(template.Rules, rule)
	}

	if err := template.Validate(); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			problems = append(problems, cfgErr.Problems...)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return Template{}, &ConfigurationError{Problems: problems}
	}
	return template, nil
}
