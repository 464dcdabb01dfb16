package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/example/chair-portal/internal/recurrence"
	"github.com/example/chair-portal/internal/scheduler"
)

// DefaultMaxRangeDays bounds a single calendar request.
const DefaultMaxRangeDays = 366

const (
	defaultMeetingType = "Regular"
	maxTitleLength     = 200
)

// MeetingQuery narrows stored meeting listings. Bounds are inclusive calendar
// days; a zero To leaves the range open ended.
type MeetingQuery struct {
	From   time.Time
	To     time.Time
	Source MeetingSource
}

// MeetingRepository captures the persistence operations for stored meetings.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	// EnsureMeeting inserts the meeting unless its slot or template key is
	// already taken and returns the stored row either way.
	EnsureMeeting(ctx context.Context, meeting Meeting) (Meeting, error)
	UpdateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	FindMeetingByTemplateKey(ctx context.Context, key string) (Meeting, error)
	ListMeetings(ctx context.Context, query MeetingQuery) ([]Meeting, error)
	DeleteMeeting(ctx context.Context, id string) error
}

// SignupReader exposes the signup lookups needed to decorate calendar entries.
type SignupReader interface {
	GetSignupByMeeting(ctx context.Context, meetingID string) (ChairSignup, error)
	ListSignupsForMeetings(ctx context.Context, meetingIDs []string) ([]ChairSignup, error)
}

// CalendarService materializes the meeting calendar from the recurring
// template and stored meetings, and manages stored meetings for admins.
type CalendarService struct {
	engine       *recurrence.Engine
	meetings     MeetingRepository
	signups      SignupReader
	idGenerator  func() string
	now          func() time.Time
	maxRangeDays int
	logger       *slog.Logger
}

// NewCalendarService wires dependencies for the calendar service.
func NewCalendarService(engine *recurrence.Engine, meetings MeetingRepository, signups SignupReader, idGenerator func() string, now func() time.Time, maxRangeDays int) *CalendarService {
	return NewCalendarServiceWithLogger(engine, meetings, signups, idGenerator, now, maxRangeDays, nil)
}

// NewCalendarServiceWithLogger wires dependencies for the calendar service with a logger.
func NewCalendarServiceWithLogger(engine *recurrence.Engine, meetings MeetingRepository, signups SignupReader, idGenerator func() string, now func() time.Time, maxRangeDays int, logger *slog.Logger) *CalendarService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC, recurrence.Template{})
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if maxRangeDays <= 0 {
		maxRangeDays = DefaultMaxRangeDays
	}
	return &CalendarService{
		engine:       engine,
		meetings:     meetings,
		signups:      signups,
		idGenerator:  idGenerator,
		now:          now,
		maxRangeDays: maxRangeDays,
		logger:       defaultLogger(logger),
	}
}

func (s *CalendarService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CalendarService", operation, attrs...)
}

// Location returns the organizational timezone.
func (s *CalendarService) Location() *time.Location {
	return s.engine.Location()
}

// Today returns the current organizational calendar day.
func (s *CalendarService) Today() time.Time {
	return s.engine.Today(s.now())
}

// Materialize returns every visible meeting in the inclusive day range
// [from, to], ordered by date, start time and title.
func (s *CalendarService) Materialize(ctx context.Context, from, to time.Time) (entries []CalendarEntry, err error) {
	if s == nil {
		return nil, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return nil, fmt.Errorf("meeting repository not configured")
	}

	loc := s.engine.Location()
	first := recurrence.DateOf(from, loc)
	last := recurrence.DateOf(to, loc)

	logger := s.loggerWith(ctx, "Materialize",
		"from", first.Format(recurrence.DateLayout),
		"to", last.Format(recurrence.DateLayout),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "calendar materialization failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("entry_count", len(entries)).DebugContext(ctx, "calendar materialized")
	}()

	if last.Before(first) {
		err = newValidationError("to", "must not be before from")
		return
	}
	if days := calendarDays(first, last) + 1; days > s.maxRangeDays {
		err = newValidationError("to", fmt.Sprintf("range must not exceed %d days", s.maxRangeDays))
		return
	}

	var occurrences []recurrence.Occurrence
	occurrences, err = s.engine.GenerateOccurrences(first, last)
	if err != nil {
		return
	}
	generated := make([]Meeting, 0, len(occurrences))
	for _, occ := range occurrences {
		generated = append(generated, meetingFromOccurrence(occ))
	}

	var persisted []Meeting
	persisted, err = s.meetings.ListMeetings(ctx, MeetingQuery{From: first, To: last})
	if err != nil {
		return
	}

	entries, err = s.attachSignups(ctx, scheduler.Resolve(persisted, generated, describeMeeting))
	return
}

func (s *CalendarService) attachSignups(ctx context.Context, meetings []Meeting) ([]CalendarEntry, error) {
	ids := make([]string, 0, len(meetings))
	for _, m := range meetings {
		if m.Persisted {
			ids = append(ids, m.ID)
		}
	}

	byMeeting := make(map[string]*ChairSignup, len(ids))
	if len(ids) > 0 && s.signups != nil {
		signups, err := s.signups.ListSignupsForMeetings(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range signups {
			byMeeting[signups[i].MeetingID] = &signups[i]
		}
	}

	entries := make([]CalendarEntry, len(meetings))
	for i, m := range meetings {
		entries[i] = newCalendarEntry(m, byMeeting[m.ID])
	}
	return entries, nil
}

// GetMeeting returns one meeting by stored id or template instance id,
// together with its chair.
func (s *CalendarService) GetMeeting(ctx context.Context, id string) (CalendarEntry, error) {
	if s == nil {
		return CalendarEntry{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return CalendarEntry{}, fmt.Errorf("meeting repository not configured")
	}

	meeting, err := s.findMeeting(ctx, strings.TrimSpace(id))
	if err != nil {
		return CalendarEntry{}, err
	}
	if !meeting.Persisted || s.signups == nil {
		return newCalendarEntry(meeting, nil), nil
	}

	signup, err := s.signups.GetSignupByMeeting(ctx, meeting.ID)
	switch {
	case err == nil:
		return newCalendarEntry(meeting, &signup), nil
	case errors.Is(err, ErrNotFound):
		return newCalendarEntry(meeting, nil), nil
	default:
		return CalendarEntry{}, err
	}
}

// ResolveMeeting returns the stored meeting for id, persisting a template
// instance on first use. Concurrent callers converge on the same row.
func (s *CalendarService) ResolveMeeting(ctx context.Context, id string) (meeting Meeting, err error) {
	if s == nil {
		return Meeting{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return Meeting{}, fmt.Errorf("meeting repository not configured")
	}

	id = strings.TrimSpace(id)
	meeting, err = s.findMeeting(ctx, id)
	if err != nil || meeting.Persisted {
		return
	}

	logger := s.loggerWith(ctx, "ResolveMeeting", "template_key", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "template instance persistence failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("meeting_id", meeting.ID).InfoContext(ctx, "template instance persisted")
	}()

	now := s.now()
	candidate := meeting
	candidate.ID = s.idGenerator()
	candidate.TemplateKey = id
	candidate.Source = MeetingSourceTemplate
	candidate.Persisted = true
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	meeting, err = s.meetings.EnsureMeeting(ctx, candidate)
	return
}

// findMeeting resolves id without writing. Template instances shadowed by a
// stored row resolve to that row.
func (s *CalendarService) findMeeting(ctx context.Context, id string) (Meeting, error) {
	if id == "" {
		return Meeting{}, ErrMeetingNotFound
	}

	if !recurrence.IsOccurrenceID(id) {
		meeting, err := s.meetings.GetMeeting(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return Meeting{}, ErrMeetingNotFound
		}
		return meeting, err
	}

	stored, err := s.meetings.FindMeetingByTemplateKey(ctx, id)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Meeting{}, err
	}

	occ, ok := s.engine.Lookup(id)
	if !ok {
		return Meeting{}, ErrMeetingNotFound
	}
	generated := meetingFromOccurrence(occ)

	sameDay, err := s.meetings.ListMeetings(ctx, MeetingQuery{From: generated.Date, To: generated.Date})
	if err != nil {
		return Meeting{}, err
	}
	slot := describeMeeting(generated).Slot.Key()
	for _, m := range sameDay {
		if describeMeeting(m).Slot.Key() == slot {
			return m, nil
		}
	}
	return generated, nil
}

// CreateMeeting stores an admin defined meeting.
func (s *CalendarService) CreateMeeting(ctx context.Context, params CreateMeetingParams) (meeting Meeting, err error) {
	if s == nil {
		return Meeting{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return Meeting{}, fmt.Errorf("meeting repository not configured")
	}

	logger := s.loggerWith(ctx, "CreateMeeting", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("meeting_id", meeting.ID).InfoContext(ctx, "meeting created")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	candidate, vErr := s.buildMeeting(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	candidate.ID = s.idGenerator()
	candidate.Source = MeetingSourceAdmin
	candidate.Persisted = true
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	if err = s.meetings.CreateMeeting(ctx, candidate); err != nil {
		return
	}
	meeting = candidate
	return
}

// UpdateMeeting edits a meeting. Template instances are persisted first so
// the edit sticks to that single date, which therefore cannot change.
func (s *CalendarService) UpdateMeeting(ctx context.Context, params UpdateMeetingParams) (meeting Meeting, err error) {
	if s == nil {
		return Meeting{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return Meeting{}, fmt.Errorf("meeting repository not configured")
	}

	logger := s.loggerWith(ctx, "UpdateMeeting",
		"principal_id", params.Principal.UserID,
		"meeting_id", params.MeetingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting updated")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	updated, vErr := s.buildMeeting(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var existing Meeting
	existing, err = s.findMeeting(ctx, strings.TrimSpace(params.MeetingID))
	if err != nil {
		return
	}
	// A template row shadows its instance only on the instance's own day.
	if existing.TemplateKey != "" && !sameDay(existing.Date, updated.Date) {
		err = newValidationError("date", "a recurring meeting keeps its date; cancel it and create a new meeting instead")
		return
	}
	if !existing.Persisted {
		if existing, err = s.ResolveMeeting(ctx, existing.ID); err != nil {
			return
		}
	}

	updated.ID = existing.ID
	updated.TemplateKey = existing.TemplateKey
	updated.Source = existing.Source
	updated.Status = existing.Status
	updated.Persisted = true
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()
	if params.Input.AcceptingSignups == nil {
		updated.AcceptingSignups = existing.AcceptingSignups
	}

	if err = s.meetings.UpdateMeeting(ctx, updated); err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrMeetingNotFound
		}
		return
	}
	meeting = updated
	return
}

// CancelMeeting marks a meeting cancelled. Cancelled meetings disappear from
// the calendar and stop accepting signups.
func (s *CalendarService) CancelMeeting(ctx context.Context, principal Principal, meetingID string) (meeting Meeting, err error) {
	if s == nil {
		return Meeting{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return Meeting{}, fmt.Errorf("meeting repository not configured")
	}

	logger := s.loggerWith(ctx, "CancelMeeting",
		"principal_id", principal.UserID,
		"meeting_id", meetingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting cancellation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting cancelled")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	meeting, err = s.ResolveMeeting(ctx, meetingID)
	if err != nil {
		return
	}
	if meeting.Cancelled() {
		return
	}

	meeting.Status = MeetingStatusCancelled
	meeting.AcceptingSignups = false
	meeting.UpdatedAt = s.now()
	if err = s.meetings.UpdateMeeting(ctx, meeting); err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrMeetingNotFound
		}
		meeting = Meeting{}
	}
	return
}

// DeleteMeeting removes a stored meeting and its signup. Deleting a
// materialized template instance restores the generated one.
func (s *CalendarService) DeleteMeeting(ctx context.Context, principal Principal, meetingID string) (err error) {
	if s == nil {
		return fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return fmt.Errorf("meeting repository not configured")
	}

	logger := s.loggerWith(ctx, "DeleteMeeting",
		"principal_id", principal.UserID,
		"meeting_id", meetingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting deletion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting deleted")
	}()

	if !principal.IsAdmin {
		return ErrUnauthorized
	}

	var meeting Meeting
	meeting, err = s.findMeeting(ctx, strings.TrimSpace(meetingID))
	if err != nil {
		return err
	}
	if !meeting.Persisted {
		return ErrMeetingNotFound
	}

	if err = s.meetings.DeleteMeeting(ctx, meeting.ID); errors.Is(err, ErrNotFound) {
		err = ErrMeetingNotFound
	}
	return err
}

// ImportMeetings stores externally sourced meetings. Meetings are matched by
// (date, start time, title) so repeated imports are idempotent.
func (s *CalendarService) ImportMeetings(ctx context.Context, params ImportMeetingsParams) (report ImportReport, err error) {
	if s == nil {
		return ImportReport{}, fmt.Errorf("CalendarService is nil")
	}
	if s.meetings == nil {
		return ImportReport{}, fmt.Errorf("meeting repository not configured")
	}

	logger := s.loggerWith(ctx, "ImportMeetings",
		"principal_id", params.Principal.UserID,
		"meeting_count", len(params.Meetings),
		"replace", params.Replace,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting import failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"created", report.Created,
			"existing", report.Existing,
			"removed", report.Removed,
			"skipped", report.Skipped,
		).InfoContext(ctx, "meetings imported")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	inFeed := make(map[string]struct{}, len(params.Meetings))
	for i, input := range params.Meetings {
		candidate, vErr := s.buildMeeting(input)
		if vErr.HasErrors() {
			report.Skipped++
			logger.WarnContext(ctx, "skipping invalid imported meeting", "index", i, "title", input.Title, "error", vErr)
			continue
		}
		candidate.ID = s.idGenerator()
		candidate.Source = MeetingSourceImport
		candidate.Persisted = true
		candidate.CreatedAt = now
		candidate.UpdatedAt = now

		var stored Meeting
		stored, err = s.meetings.EnsureMeeting(ctx, candidate)
		if err != nil {
			return
		}
		inFeed[describeMeeting(candidate).Slot.Key()] = struct{}{}
		if stored.ID == candidate.ID {
			report.Created++
		} else {
			report.Existing++
		}
	}

	if !params.Replace {
		return
	}

	var imported []Meeting
	imported, err = s.meetings.ListMeetings(ctx, MeetingQuery{From: s.engine.Today(now), Source: MeetingSourceImport})
	if err != nil {
		return
	}

	var stale []Meeting
	for _, m := range imported {
		if _, ok := inFeed[describeMeeting(m).Slot.Key()]; ok {
			continue
		}
		if !m.StartsAt().After(now) {
			continue
		}
		stale = append(stale, m)
	}
	if len(stale) == 0 {
		return
	}

	var entries []CalendarEntry
	entries, err = s.attachSignups(ctx, stale)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Chair != nil {
			continue
		}
		if err = s.meetings.DeleteMeeting(ctx, entry.Meeting.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				err = nil
				continue
			}
			return
		}
		report.Removed++
	}
	return
}

func (s *CalendarService) buildMeeting(input MeetingInput) (Meeting, *ValidationError) {
	vErr := &ValidationError{}
	loc := s.engine.Location()

	meeting := Meeting{
		Title:             strings.TrimSpace(input.Title),
		Description:       strings.TrimSpace(input.Description),
		VideoLink:         strings.TrimSpace(input.VideoLink),
		MeetingType:       strings.TrimSpace(input.MeetingType),
		GenderRestriction: strings.ToLower(strings.TrimSpace(input.GenderRestriction)),
		AcceptingSignups:  true,
		Status:            MeetingStatusScheduled,
	}
	if input.AcceptingSignups != nil {
		meeting.AcceptingSignups = *input.AcceptingSignups
	}
	if meeting.MeetingType == "" {
		meeting.MeetingType = defaultMeetingType
	}

	if date := strings.TrimSpace(input.Date); date == "" {
		vErr.add("date", "date is required")
	} else if parsed, err := recurrence.ParseDate(date, loc); err != nil {
		vErr.add("date", "date must use YYYY-MM-DD")
	} else {
		meeting.Date = parsed
	}

	start, startErr := recurrence.ParseTimeOfDay(strings.TrimSpace(input.StartTime))
	if strings.TrimSpace(input.StartTime) == "" {
		vErr.add("start_time", "start time is required")
	} else if startErr != nil {
		vErr.add("start_time", "start time must use HH:MM")
	} else {
		meeting.StartTime = start
	}

	if raw := strings.TrimSpace(input.EndTime); raw != "" {
		end, err := recurrence.ParseTimeOfDay(raw)
		switch {
		case err != nil:
			vErr.add("end_time", "end time must use HH:MM")
		case startErr == nil && !start.Before(end):
			vErr.add("end_time", "end time must be after start time")
		default:
			meeting.EndTime = &end
		}
	}

	if meeting.Title == "" {
		vErr.add("title", "title is required")
	} else if len(meeting.Title) > maxTitleLength {
		vErr.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}

	if meeting.VideoLink != "" {
		parsed, err := url.Parse(meeting.VideoLink)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			vErr.add("video_link", "video link must be an http or https URL")
		}
	}

	switch meeting.GenderRestriction {
	case GenderUnspecified, GenderMale, GenderFemale:
	default:
		vErr.add("gender_restriction", "gender restriction must be empty, male, or female")
	}

	return meeting, vErr
}

func meetingFromOccurrence(occ recurrence.Occurrence) Meeting {
	end := recurrence.TimeOfDay{Hour: occ.End.Hour(), Minute: occ.End.Minute()}
	meetingType := occ.Rule.MeetingType
	if meetingType == "" {
		meetingType = defaultMeetingType
	}
	return Meeting{
		ID:                occ.ID,
		Date:              occ.Date,
		StartTime:         occ.Rule.Start,
		EndTime:           &end,
		Title:             occ.Rule.Title,
		Description:       occ.Rule.Description,
		MeetingType:       meetingType,
		GenderRestriction: occ.Rule.GenderRestriction,
		AcceptingSignups:  true,
		Status:            MeetingStatusScheduled,
		Source:            MeetingSourceTemplate,
		TemplateKey:       occ.ID,
	}
}

func describeMeeting(m Meeting) scheduler.Candidate {
	return scheduler.Candidate{
		ID:          m.ID,
		Slot:        scheduler.NewSlot(m.Date, m.StartTime.String(), m.Title),
		TemplateKey: m.TemplateKey,
		Persisted:   m.Persisted,
		Cancelled:   m.Cancelled(),
	}
}

// calendarDays counts whole days between two calendar days regardless of DST.
func calendarDays(first, last time.Time) int {
	a := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

func sameDay(a, b time.Time) bool {
	return a.Format(recurrence.DateLayout) == b.Format(recurrence.DateLayout)
}
