package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Rendered is the final subject and plain text body of a message.
type Rendered struct {
	Subject string
	Body    string
}

type templatePair struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[Kind]templatePair{
	KindChairConfirmation: mustPair(
		"Back Porch: You are chairing {{.Payload.Meeting.Title}}",
		`Dear {{.To.DisplayName}},

Thank you for signing up to chair the {{.Payload.Meeting.Title}} on {{.Payload.Meeting.LongDate}} at {{.Payload.Meeting.StartTime}}.
{{if .Payload.BPID}}
Your chairperson ID is {{.Payload.BPID}}.
{{end}}{{if .Payload.Notes}}
Your notes: {{.Payload.Notes}}
{{end}}
You will receive a reminder before the meeting starts.

Back Porch Meetings
`),
	KindChairReminder: mustPair(
		"Back Porch Chair Reminder: {{.Payload.Meeting.Title}}",
		`Dear {{.To.DisplayName}},

This is a reminder that you are scheduled to chair the {{.Payload.Meeting.Title}} on {{.Payload.Meeting.LongDate}} at {{.Payload.Meeting.StartTime}}.

Meeting details:
- Date: {{.Payload.Meeting.LongDate}}
- Time: {{.Payload.Meeting.StartTime}}
- Description: {{or .Payload.Meeting.Description "N/A"}}
- Zoom Link: {{or .Payload.Meeting.VideoLink "Contact group for link"}}

Thank you for your service to the Back Porch community!

Back Porch Meetings
`),
	KindAvailabilityConfirmation: mustPair(
		"Back Porch: Chairperson availability received for {{.Payload.Date}}",
		`Dear {{.To.DisplayName}},

Thank you for volunteering to chair on {{.Payload.LongDate}} ({{.Payload.TimePreference}}).
{{if .Payload.Notes}}
Your notes: {{.Payload.Notes}}
{{end}}
An administrator will follow up with a specific meeting assignment.

Back Porch Meetings
`),
	KindOpenSlotDigest: mustPair(
		"Back Porch: Open Chair Positions This Week",
		`Dear {{.To.DisplayName}},

There are open chair positions available this week. Please visit the chairperson portal to sign up:
{{if .Payload.PortalURL}}{{.Payload.PortalURL}}
{{end}}
{{range .Payload.Meetings}}- {{.Title}} on {{.Weekday}}, {{.LongDate}} at {{.StartTime}}
{{end}}
Thank you for your service!

Back Porch Meetings
`),
}

func mustPair(subject, body string) templatePair {
	return templatePair{
		subject: template.Must(template.New("subject").Option("missingkey=error").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=error").Parse(body)),
	}
}

// Render produces the subject and body for msg.
func Render(msg Message) (Rendered, error) {
	pair, ok := templates[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	if err := checkPayload(msg); err != nil {
		return Rendered{}, err
	}

	var subject, body bytes.Buffer
	if err := pair.subject.Execute(&subject, msg); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s subject: %w", msg.Kind, err)
	}
	if err := pair.body.Execute(&body, msg); err != nil {
		return Rendered{}, fmt.Errorf("notify: render %s body: %w", msg.Kind, err)
	}
	return Rendered{Subject: strings.TrimSpace(subject.String()), Body: body.String()}, nil
}

func checkPayload(msg Message) error {
	var ok bool
	switch msg.Kind {
	case KindChairConfirmation, KindChairReminder:
		_, ok = msg.Payload.(ChairPayload)
	case KindAvailabilityConfirmation:
		_, ok = msg.Payload.(AvailabilityPayload)
	case KindOpenSlotDigest:
		_, ok = msg.Payload.(DigestPayload)
	}
	if !ok {
		return fmt.Errorf("notify: payload %T does not match kind %s", msg.Payload, msg.Kind)
	}
	return nil
}
