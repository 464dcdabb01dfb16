package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/recurrence"
)

var (
	testToday  = time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)
	memberUser = application.Principal{UserID: "user-1"}
	adminUser  = application.Principal{UserID: "admin-1", IsAdmin: true}
)

type tokenValidator map[string]application.Principal

func (v tokenValidator) ValidateSession(ctx context.Context, token string) (application.Principal, error) {
	p, ok := v[token]
	if !ok {
		return application.Principal{}, application.ErrUnauthorized
	}
	return p, nil
}

type stubAuthService struct {
	result  application.AuthenticateResult
	err     error
	revoked []string
}

func (s *stubAuthService) Authenticate(ctx context.Context, params application.AuthenticateParams) (application.AuthenticateResult, error) {
	return s.result, s.err
}

func (s *stubAuthService) RevokeSession(ctx context.Context, token string) error {
	s.revoked = append(s.revoked, token)
	return nil
}

type stubUserService struct {
	registered []application.RegisterParams
	err        error
}

func (s *stubUserService) Register(ctx context.Context, params application.RegisterParams) (application.User, error) {
	if s.err != nil {
		return application.User{}, s.err
	}
	s.registered = append(s.registered, params)
	return application.User{ID: "user-9", MemberNumber: 1009, Email: params.Email, DisplayName: params.DisplayName}, nil
}

func (s *stubUserService) GetProfile(ctx context.Context, principal application.Principal) (application.User, error) {
	return application.User{ID: principal.UserID, DisplayName: "Alice", IsAdmin: principal.IsAdmin}, nil
}

func (s *stubUserService) UpdateProfile(ctx context.Context, params application.UpdateProfileParams) (application.User, error) {
	return application.User{ID: params.Principal.UserID, DisplayName: params.DisplayName, Gender: params.Gender}, nil
}

func (s *stubUserService) ListUsers(ctx context.Context, principal application.Principal) ([]application.User, error) {
	return []application.User{{ID: "admin-1"}, {ID: "user-1"}}, nil
}

type stubCalendarService struct {
	entries     []application.CalendarEntry
	err         error
	from, to    time.Time
	created     []application.MeetingInput
	imported    application.ImportMeetingsParams
	importCalls int
}

func (s *stubCalendarService) Location() *time.Location { return time.UTC }

func (s *stubCalendarService) Today() time.Time { return testToday }

func (s *stubCalendarService) Materialize(ctx context.Context, from, to time.Time) ([]application.CalendarEntry, error) {
	s.from, s.to = from, to
	return s.entries, s.err
}

func (s *stubCalendarService) GetMeeting(ctx context.Context, id string) (application.CalendarEntry, error) {
	for _, e := range s.entries {
		if e.Meeting.ID == id {
			return e, nil
		}
	}
	return application.CalendarEntry{}, application.ErrMeetingNotFound
}

func (s *stubCalendarService) CreateMeeting(ctx context.Context, params application.CreateMeetingParams) (application.Meeting, error) {
	s.created = append(s.created, params.Input)
	return testMeeting("m-new", params.Input.Title), nil
}

func (s *stubCalendarService) UpdateMeeting(ctx context.Context, params application.UpdateMeetingParams) (application.Meeting, error) {
	return testMeeting(params.MeetingID, params.Input.Title), nil
}

func (s *stubCalendarService) CancelMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.Meeting, error) {
	m := testMeeting(meetingID, "Cancelled")
	m.Status = application.MeetingStatusCancelled
	return m, nil
}

func (s *stubCalendarService) DeleteMeeting(ctx context.Context, principal application.Principal, meetingID string) error {
	return nil
}

func (s *stubCalendarService) ImportMeetings(ctx context.Context, params application.ImportMeetingsParams) (application.ImportReport, error) {
	s.importCalls++
	s.imported = params
	return application.ImportReport{Created: len(params.Meetings)}, nil
}

type stubSignupService struct {
	err      error
	claims   []application.ClaimParams
	releases []application.ReleaseParams
}

func (s *stubSignupService) Claim(ctx context.Context, params application.ClaimParams) (application.ChairSignup, error) {
	if s.err != nil {
		return application.ChairSignup{}, s.err
	}
	s.claims = append(s.claims, params)
	return application.ChairSignup{
		ID:                  "signup-1",
		MeetingID:           params.MeetingID,
		UserID:              params.Principal.UserID,
		DisplayNameSnapshot: "Alice",
		MemberNumber:        1001,
		Notes:               params.Notes,
		CreatedAt:           testToday,
	}, nil
}

func (s *stubSignupService) Release(ctx context.Context, params application.ReleaseParams) error {
	if s.err != nil {
		return s.err
	}
	s.releases = append(s.releases, params)
	return nil
}

func (s *stubSignupService) ListMySignups(ctx context.Context, principal application.Principal) ([]application.SignupWithMeeting, error) {
	return nil, s.err
}

type stubAvailabilityService struct {
	err    error
	params []application.VolunteerParams
}

func (s *stubAvailabilityService) Volunteer(ctx context.Context, params application.VolunteerParams) (application.Availability, error) {
	if s.err != nil {
		return application.Availability{}, s.err
	}
	s.params = append(s.params, params)
	date, _ := recurrence.ParseDate(params.Date, time.UTC)
	return application.Availability{ID: "avail-1", UserID: params.Principal.UserID, Date: date, TimePreference: params.TimePreference}, nil
}

func (s *stubAvailabilityService) ListUpcomingForUser(ctx context.Context, principal application.Principal) ([]application.Availability, error) {
	return nil, nil
}

func (s *stubAvailabilityService) ListForDate(ctx context.Context, principal application.Principal, date string) ([]application.Availability, error) {
	return []application.Availability{{ID: "avail-1", Date: testToday, TimePreference: application.TimePreferenceAny}}, nil
}

func (s *stubAvailabilityService) Withdraw(ctx context.Context, principal application.Principal, id string) error {
	return s.err
}

type stubReminderRunner struct {
	report application.ScanReport
}

func (s stubReminderRunner) RunScan(ctx context.Context) (application.ScanReport, error) {
	return s.report, nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

type testDeps struct {
	auth         *stubAuthService
	users        *stubUserService
	calendar     *stubCalendarService
	signups      *stubSignupService
	availability *stubAvailabilityService
	pinger       stubPinger
}

func newTestDeps() *testDeps {
	return &testDeps{
		auth:         &stubAuthService{},
		users:        &stubUserService{},
		calendar:     &stubCalendarService{},
		signups:      &stubSignupService{},
		availability: &stubAvailabilityService{},
	}
}

func (d *testDeps) router() http.Handler {
	return NewRouter(RouterConfig{
		Auth:         NewAuthHandler(d.auth, nil),
		Users:        NewUserHandler(d.users, nil),
		Calendar:     NewCalendarHandler(d.calendar, CalendarOptions{PortalURL: "https://portal.example.org"}, nil),
		Signups:      NewSignupHandler(d.signups, nil),
		Availability: NewAvailabilityHandler(d.availability, nil),
		Ops:          NewOpsHandler(stubReminderRunner{report: application.ScanReport{RemindersSent: 2, DigestPeriod: "2025-W49"}}, d.pinger, nil),
		Sessions:     tokenValidator{"member-token": memberUser, "admin-token": adminUser},
	})
}

func testMeeting(id, title string) application.Meeting {
	return application.Meeting{
		ID:               id,
		Date:             testToday.AddDate(0, 0, 2),
		StartTime:        recurrence.MustTimeOfDay("19:00"),
		Title:            title,
		AcceptingSignups: true,
		Status:           application.MeetingStatusScheduled,
		Source:           application.MeetingSourceAdmin,
	}
}

func serve(t *testing.T, handler http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAuthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("login issues session token via cookie and header", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.auth.result = application.AuthenticateResult{
			User:    application.User{ID: "user-1", Email: "alice@example.org"},
			Session: application.Session{Token: "tok-1", ExpiresAt: testToday.Add(24 * time.Hour)},
		}
		rec := serve(t, deps.router(), http.MethodPost, "/sessions", "", `{"email":"Alice@Example.org","password":"secret-pass"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Session-Token"); got != "tok-1" {
			t.Fatalf("X-Session-Token = %q", got)
		}
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Name != sessionCookieName || cookies[0].Value != "tok-1" {
			t.Fatalf("unexpected cookies %+v", cookies)
		}
		var body loginResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Token != "tok-1" || body.User.ID != "user-1" {
			t.Fatalf("unexpected body %+v", body)
		}
	})

	t.Run("bad credentials map to 401", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.auth.err = application.ErrInvalidCredentials
		rec := serve(t, deps.router(), http.MethodPost, "/sessions", "", `{"email":"alice@example.org","password":"wrong"}`)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if body := decodeError(t, rec); body.ErrorCode != "AUTH_INVALID_CREDENTIALS" {
			t.Fatalf("error_code = %q", body.ErrorCode)
		}
	})

	t.Run("malformed email is rejected before the service", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/sessions", "", `{"email":"nope","password":"x"}`)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		if body := decodeError(t, rec); body.Errors["email"] == "" {
			t.Fatalf("expected email field error, got %+v", body)
		}
	})

	t.Run("logout revokes the session", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodDelete, "/sessions/current", "member-token", "")

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if len(deps.auth.revoked) != 1 || deps.auth.revoked[0] != "member-token" {
			t.Fatalf("revoked = %v", deps.auth.revoked)
		}
	})
}

func TestUserHandlers(t *testing.T) {
	t.Parallel()

	t.Run("register returns the new member", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/users", "", `{"email":"new@example.org","display_name":"New Person","password":"long-enough","gender":"female"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var body userResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.User.BPID != "BP-1009" {
			t.Fatalf("bp_id = %q", body.User.BPID)
		}
	})

	t.Run("short password is reported by field", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/users", "", `{"email":"new@example.org","display_name":"New","password":"short"}`)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		if body := decodeError(t, rec); body.Errors["password"] == "" {
			t.Fatalf("expected password error, got %+v", body.Errors)
		}
		if len(deps.users.registered) != 0 {
			t.Fatal("service should not be called")
		}
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.users.err = application.ErrAlreadyExists
		rec := serve(t, deps.router(), http.MethodPost, "/users", "", `{"email":"alice@example.org","display_name":"Alice","password":"long-enough"}`)

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("admin listing requires administrator", func(t *testing.T) {
		t.Parallel()

		router := newTestDeps().router()
		if rec := serve(t, router, http.MethodGet, "/admin/users", "member-token", ""); rec.Code != http.StatusForbidden {
			t.Fatalf("member status = %d, want 403", rec.Code)
		}
		if rec := serve(t, router, http.MethodGet, "/admin/users", "admin-token", ""); rec.Code != http.StatusOK {
			t.Fatalf("admin status = %d, want 200", rec.Code)
		}
	})
}

func TestCalendarHandlers(t *testing.T) {
	t.Parallel()

	t.Run("calendar requires a session", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodGet, "/calendar", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("default range starts today", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.calendar.entries = []application.CalendarEntry{{Meeting: testMeeting("m-1", "Evening"), IsOpen: true}}
		rec := serve(t, deps.router(), http.MethodGet, "/calendar", "member-token", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !deps.calendar.from.Equal(testToday) || !deps.calendar.to.Equal(testToday.AddDate(0, 0, defaultCalendarDays-1)) {
			t.Fatalf("range = %s..%s", deps.calendar.from, deps.calendar.to)
		}
		var body calendarResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Entries) != 1 || !body.Entries[0].IsOpen || body.Entries[0].Meeting.StartTime != "19:00" {
			t.Fatalf("unexpected entries %+v", body.Entries)
		}
	})

	t.Run("explicit range is parsed", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodGet, "/calendar?from=2025-12-05&to=2025-12-07", "member-token", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := deps.calendar.to.Format(recurrence.DateLayout); got != "2025-12-07" {
			t.Fatalf("to = %s", got)
		}
	})

	t.Run("bad date is a validation error", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodGet, "/calendar?from=12/05/2025", "member-token", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		if body := decodeError(t, rec); body.Errors["from"] == "" {
			t.Fatalf("expected from error, got %+v", body)
		}
	})

	t.Run("unknown meeting is 404", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodGet, "/meetings/nope", "member-token", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if body := decodeError(t, rec); body.ErrorCode != "MEETING_NOT_FOUND" {
			t.Fatalf("error_code = %q", body.ErrorCode)
		}
	})

	t.Run("feed is public and served as iCalendar", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.calendar.entries = []application.CalendarEntry{{Meeting: testMeeting("m-1", "Evening"), IsOpen: true}}
		rec := serve(t, deps.router(), http.MethodGet, "/calendar.ics", "", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Fatalf("content type = %q", ct)
		}
		if !strings.Contains(rec.Body.String(), "BEGIN:VCALENDAR") {
			t.Fatalf("body is not a calendar: %s", rec.Body.String())
		}
		if !deps.calendar.to.Equal(testToday.AddDate(0, 0, defaultFeedDays)) {
			t.Fatalf("feed range ends %s", deps.calendar.to)
		}
	})

	t.Run("admin creates a meeting", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/admin/meetings", "admin-token",
			`{"date":"2025-12-10","start_time":"18:30","title":"Special Meeting","video_link":"https://zoom.example/j/1"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		if len(deps.calendar.created) != 1 || deps.calendar.created[0].StartTime != "18:30" {
			t.Fatalf("created = %+v", deps.calendar.created)
		}
	})

	t.Run("meeting body is validated", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/admin/meetings", "admin-token",
			`{"date":"tomorrow","start_time":"7pm","title":"","video_link":"not a url"}`)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
		body := decodeError(t, rec)
		for _, field := range []string{"date", "start_time", "title", "video_link"} {
			if body.Errors[field] == "" {
				t.Errorf("expected %s error in %+v", field, body.Errors)
			}
		}
		if len(deps.calendar.created) != 0 {
			t.Fatal("service should not be called")
		}
	})

	t.Run("members cannot create meetings", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/admin/meetings", "member-token",
			`{"date":"2025-12-10","start_time":"18:30","title":"Special Meeting"}`)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("cancel returns the cancelled meeting", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/admin/meetings/m-1/cancel", "admin-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body meetingResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Meeting.Status != "cancelled" || body.Meeting.ID != "m-1" {
			t.Fatalf("unexpected meeting %+v", body.Meeting)
		}
	})

	t.Run("import reads the ICS body", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		ics := "BEGIN:VCALENDAR\r\n" +
			"VERSION:2.0\r\n" +
			"PRODID:-//Example//Intergroup//EN\r\n" +
			"BEGIN:VEVENT\r\n" +
			"UID:a@example.org\r\n" +
			"DTSTAMP:20251201T000000Z\r\n" +
			"DTSTART:20251210T190000Z\r\n" +
			"SUMMARY:Big Book Study\r\n" +
			"END:VEVENT\r\n" +
			"BEGIN:VEVENT\r\n" +
			"UID:b@example.org\r\n" +
			"DTSTAMP:20251201T000000Z\r\n" +
			"DTSTART;VALUE=DATE:20251212\r\n" +
			"SUMMARY:Picnic\r\n" +
			"END:VEVENT\r\n" +
			"END:VCALENDAR\r\n"
		rec := serve(t, deps.router(), http.MethodPost, "/admin/import?replace=true", "admin-token", ics)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if deps.calendar.importCalls != 1 || !deps.calendar.imported.Replace {
			t.Fatalf("import params = %+v", deps.calendar.imported)
		}
		if len(deps.calendar.imported.Meetings) != 1 || deps.calendar.imported.Meetings[0].StartTime != "19:00" {
			t.Fatalf("meetings = %+v", deps.calendar.imported.Meetings)
		}
		var body importResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Created != 1 || body.Skipped != 1 || len(body.Unreadable) != 1 || body.Unreadable[0].UID != "b@example.org" {
			t.Fatalf("unexpected report %+v", body)
		}
	})
}

func TestSignupHandlers(t *testing.T) {
	t.Parallel()

	t.Run("claim returns the signup", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/meetings/tpl-evening-20251203/signup", "member-token", `{"notes":"happy to"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		if len(deps.signups.claims) != 1 {
			t.Fatalf("claims = %+v", deps.signups.claims)
		}
		claim := deps.signups.claims[0]
		if claim.MeetingID != "tpl-evening-20251203" || claim.Principal != memberUser || claim.Notes != "happy to" {
			t.Fatalf("unexpected claim %+v", claim)
		}
	})

	t.Run("claim without a body is allowed", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/meetings/m-1/signup", "member-token", "")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"slot taken", application.ErrAlreadyClaimed, http.StatusConflict, "SLOT_TAKEN"},
		{"unknown meeting", application.ErrMeetingNotFound, http.StatusNotFound, "MEETING_NOT_FOUND"},
		{"gender restricted", application.ErrGenderRestricted, http.StatusForbidden, "GENDER_RESTRICTED"},
		{"closed", application.ErrMeetingClosed, http.StatusConflict, "MEETING_CLOSED"},
		{"past", application.ErrPastDate, http.StatusUnprocessableEntity, "PAST_DATE"},
		{"wrapped transient", fmt.Errorf("claim: %w", application.ErrTransientStore), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run("claim error "+tc.name, func(t *testing.T) {
			t.Parallel()

			deps := newTestDeps()
			deps.signups.err = tc.err
			rec := serve(t, deps.router(), http.MethodPost, "/meetings/m-1/signup", "member-token", "{}")

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if body := decodeError(t, rec); body.ErrorCode != tc.wantCode {
				t.Fatalf("error_code = %q, want %q", body.ErrorCode, tc.wantCode)
			}
		})
	}

	t.Run("release maps ownership errors", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.signups.err = application.ErrNotOwner
		rec := serve(t, deps.router(), http.MethodDelete, "/meetings/m-1/signup", "member-token", "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("release succeeds with no content", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodDelete, "/meetings/m-1/signup", "admin-token", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if len(deps.signups.releases) != 1 || deps.signups.releases[0].Principal != adminUser {
			t.Fatalf("releases = %+v", deps.signups.releases)
		}
	})
}

func TestAvailabilityHandlers(t *testing.T) {
	t.Parallel()

	t.Run("volunteer records the offer", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		rec := serve(t, deps.router(), http.MethodPost, "/availability", "member-token", `{"date":"2025-12-05","time_preference":"evening"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		if len(deps.availability.params) != 1 || deps.availability.params[0].TimePreference != application.TimePreferenceEvening {
			t.Fatalf("params = %+v", deps.availability.params)
		}
	})

	t.Run("unknown preference is rejected", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/availability", "member-token", `{"date":"2025-12-05","time_preference":"midnight"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("duplicate date is a conflict", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.availability.err = application.ErrDuplicateSignup
		rec := serve(t, deps.router(), http.MethodPost, "/availability", "member-token", `{"date":"2025-12-05"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		if body := decodeError(t, rec); body.ErrorCode != "ALREADY_VOLUNTEERED" {
			t.Fatalf("error_code = %q", body.ErrorCode)
		}
	})

	t.Run("admin lists by date", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodGet, "/admin/availability?date=2025-12-01", "admin-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body listAvailabilityResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Availability) != 1 || body.Availability[0].Date != "2025-12-01" {
			t.Fatalf("unexpected body %+v", body)
		}
	})
}

func TestOpsHandlers(t *testing.T) {
	t.Parallel()

	t.Run("health reports ok", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodGet, "/healthz", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("health reports an unreachable store", func(t *testing.T) {
		t.Parallel()

		deps := newTestDeps()
		deps.pinger = stubPinger{err: errors.New("connection refused")}
		rec := serve(t, deps.router(), http.MethodGet, "/healthz", "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("admin triggers a reminder scan", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newTestDeps().router(), http.MethodPost, "/admin/reminders/run", "admin-token", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body scanReportDTO
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.RemindersSent != 2 || body.DigestPeriod != "2025-W49" {
			t.Fatalf("unexpected report %+v", body)
		}
	})
}

func TestJSONFieldName(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"Email", "email"},
		{"DisplayName", "display_name"},
		{"TimePreference", "time_preference"},
	}
	for _, c := range cases {
		if got := jsonFieldName(c.in); got != c.want {
			t.Errorf("jsonFieldName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
