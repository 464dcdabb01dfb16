package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/config"
	"github.com/example/chair-portal/internal/notify"
	"github.com/example/chair-portal/internal/persistence"
	"github.com/example/chair-portal/internal/recurrence"
	"github.com/example/chair-portal/internal/testfixtures"
)

func TestTranslateError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", persistence.ErrNotFound, application.ErrNotFound},
		{"dangling reference", persistence.ErrForeignKeyViolation, application.ErrNotFound},
		{"duplicate", persistence.ErrDuplicate, application.ErrAlreadyExists},
		{"transient", fmt.Errorf("ping: %w", persistence.ErrTransient), application.ErrTransientStore},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := translateError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Fatalf("translateError(%v) = %v, want %v in chain", tc.in, got, tc.want)
			}
			if !errors.Is(got, tc.in) {
				t.Fatalf("translateError dropped the storage error: %v", got)
			}
		})
	}

	if translateError(nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	other := errors.New("boom")
	if translateError(other) != other {
		t.Fatal("unrelated errors must pass through unchanged")
	}
}

func TestMeetingRepositoryAdapter_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	loc := time.FixedZone("EST", -5*60*60)
	adapter := newMeetingRepositoryAdapter(harness.Meetings, loc)

	end := recurrence.TimeOfDay{Hour: 20, Minute: 30}
	meeting := application.Meeting{
		ID:               "m-1",
		Date:             time.Date(2025, 3, 10, 0, 0, 0, 0, loc),
		StartTime:        recurrence.TimeOfDay{Hour: 19},
		EndTime:          &end,
		Title:            "Speaker Night",
		AcceptingSignups: true,
		Status:           application.MeetingStatusScheduled,
		Source:           application.MeetingSourceAdmin,
		CreatedAt:        testfixtures.ReferenceTime(),
		UpdatedAt:        testfixtures.ReferenceTime(),
	}
	if err := adapter.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	got, err := adapter.GetMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if !got.Persisted {
		t.Fatal("stored meetings must be marked persisted")
	}
	if !got.StartsAt().Equal(meeting.StartsAt()) {
		t.Fatalf("StartsAt = %v, want %v", got.StartsAt(), meeting.StartsAt())
	}
	if got.EndTime == nil || *got.EndTime != end {
		t.Fatalf("EndTime = %v, want %v", got.EndTime, end)
	}
	if got.Date.Location() != loc {
		t.Fatalf("date location = %v, want %v", got.Date.Location(), loc)
	}
	if got.GenderRestriction != application.GenderUnspecified {
		t.Fatalf("GenderRestriction = %q, want unrestricted", got.GenderRestriction)
	}
	row, err := harness.Meetings.GetMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("raw GetMeeting failed: %v", err)
	}
	if row.GenderRestriction != storedGenderAny {
		t.Fatalf("stored restriction = %q, want %q", row.GenderRestriction, storedGenderAny)
	}

	women := meeting
	women.ID, women.Title, women.GenderRestriction = "m-2", "Women's Meeting", application.GenderFemale
	if err := adapter.CreateMeeting(ctx, women); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if got, err := adapter.GetMeeting(ctx, "m-2"); err != nil || got.GenderRestriction != application.GenderFemale {
		t.Fatalf("restricted meeting = %q, %v", got.GenderRestriction, err)
	}

	if _, err := adapter.GetMeeting(ctx, "missing"); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected application.ErrNotFound, got %v", err)
	}
}

type portalHarness struct {
	portal *portal
	server *httptest.Server
	sender *testfixtures.RecordingSender
	clock  *testfixtures.Clock
}

func newPortalHarness(t *testing.T, rules ...recurrence.Rule) *portalHarness {
	t.Helper()

	store := testfixtures.NewSQLiteHarness(t).Store
	cfg := config.Config{
		Location:          time.UTC,
		SessionTTL:        time.Hour,
		ReminderThreshold: 24 * time.Hour,
		DigestWeekday:     time.Sunday,
		DigestHour:        10,
		CalendarFeedDays:  30,
		MaxRangeDays:      366,
		PublicBaseURL:     "http://portal.test",
		Template:          recurrence.Template{Rules: rules},
	}
	// Monday 2025-03-03 15:04 UTC.
	clock := testfixtures.NewClock(time.Time{})
	sender := &testfixtures.RecordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := newPortal(cfg, store, sender, clock.NowFunc(), logger)
	server := httptest.NewServer(p.handler())
	t.Cleanup(server.Close)
	return &portalHarness{portal: p, server: server, sender: sender, clock: clock}
}

func (h *portalHarness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (h *portalHarness) login(t *testing.T, email, password string) string {
	t.Helper()

	resp, data := h.do(t, http.MethodPost, "/sessions", "", map[string]string{"email": email, "password": password})
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		t.Fatalf("login status = %d: %s", resp.StatusCode, data)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		t.Fatalf("login response %s: %v", data, err)
	}
	return out.Token
}

func TestPortal_ChairSignupFlow(t *testing.T) {
	h := newPortalHarness(t)
	ctx := context.Background()

	if _, err := h.portal.users.CreateAdmin(ctx, application.RegisterParams{
		Email:       "admin@example.com",
		DisplayName: "Admin",
		Password:    "admin-password",
	}); err != nil {
		t.Fatalf("CreateAdmin failed: %v", err)
	}
	adminToken := h.login(t, "admin@example.com", "admin-password")

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		resp, data := h.do(t, http.MethodPost, "/users", "", map[string]string{
			"email":        email,
			"display_name": strings.Split(email, "@")[0],
			"password":     "member-password",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("register %s status = %d: %s", email, resp.StatusCode, data)
		}
	}
	aliceToken := h.login(t, "alice@example.com", "member-password")
	bobToken := h.login(t, "bob@example.com", "member-password")

	resp, data := h.do(t, http.MethodPost, "/admin/meetings", aliceToken, map[string]any{
		"date": "2025-03-04", "start_time": "10:00", "title": "Morning Meditation",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member create meeting status = %d, want 403: %s", resp.StatusCode, data)
	}

	resp, data = h.do(t, http.MethodPost, "/admin/meetings", adminToken, map[string]any{
		"date": "2025-03-04", "start_time": "10:00", "end_time": "11:00", "title": "Morning Meditation",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create meeting status = %d: %s", resp.StatusCode, data)
	}
	var created struct {
		Meeting struct {
			ID string `json:"id"`
		} `json:"meeting"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.Meeting.ID == "" {
		t.Fatalf("create meeting response %s: %v", data, err)
	}
	signupPath := "/meetings/" + created.Meeting.ID + "/signup"

	resp, data = h.do(t, http.MethodPost, signupPath, aliceToken, map[string]string{"notes": "happy to"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("alice claim status = %d: %s", resp.StatusCode, data)
	}
	resp, data = h.do(t, http.MethodPost, signupPath, bobToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("bob claim status = %d, want 409: %s", resp.StatusCode, data)
	}
	if got := h.sender.Count(notify.KindChairConfirmation); got != 1 {
		t.Fatalf("confirmations = %d, want 1", got)
	}

	resp, data = h.do(t, http.MethodGet, "/calendar?from=2025-03-04&to=2025-03-04", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("calendar status = %d: %s", resp.StatusCode, data)
	}
	var calendar struct {
		Entries []struct {
			IsOpen bool `json:"is_open"`
			Chair  *struct {
				DisplayName string `json:"display_name"`
				BPID        string `json:"bp_id"`
			} `json:"chair"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(data, &calendar); err != nil {
		t.Fatalf("decode calendar: %v", err)
	}
	if len(calendar.Entries) != 1 || calendar.Entries[0].IsOpen || calendar.Entries[0].Chair == nil {
		t.Fatalf("unexpected calendar: %s", data)
	}
	if calendar.Entries[0].Chair.DisplayName != "alice" || !strings.HasPrefix(calendar.Entries[0].Chair.BPID, "BP-") {
		t.Fatalf("unexpected chair: %+v", calendar.Entries[0].Chair)
	}

	report, err := h.portal.reminders.RunScan(ctx)
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if report.RemindersSent != 1 {
		t.Fatalf("reminders sent = %d, want 1", report.RemindersSent)
	}
	report, err = h.portal.reminders.RunScan(ctx)
	if err != nil {
		t.Fatalf("second RunScan failed: %v", err)
	}
	if report.RemindersSent != 0 || h.sender.Count(notify.KindChairReminder) != 1 {
		t.Fatalf("reminder resent: report=%+v count=%d", report, h.sender.Count(notify.KindChairReminder))
	}

	resp, data = h.do(t, http.MethodDelete, signupPath, bobToken, nil)
	if resp.StatusCode == http.StatusNoContent {
		t.Fatalf("bob released alice's signup: %s", data)
	}
	resp, data = h.do(t, http.MethodDelete, signupPath, aliceToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("alice release status = %d: %s", resp.StatusCode, data)
	}
}

func TestPortal_HealthAndFeed(t *testing.T) {
	h := newPortalHarness(t)

	resp, data := h.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d: %s", resp.StatusCode, data)
	}

	resp, data = h.do(t, http.MethodGet, "/calendar.ics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feed status = %d: %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.Contains(data, []byte("BEGIN:VCALENDAR")) {
		t.Fatalf("feed is not an iCalendar document: %s", data)
	}

	resp, _ = h.do(t, http.MethodGet, "/calendar", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous calendar status = %d, want 401", resp.StatusCode)
	}
}

func (h *portalHarness) member(t *testing.T, email, gender string) application.Principal {
	t.Helper()

	user, err := h.portal.users.Register(context.Background(), application.RegisterParams{
		Email:       email,
		DisplayName: strings.Split(email, "@")[0],
		Password:    "member-password",
		Gender:      gender,
	})
	if err != nil {
		t.Fatalf("Register %s failed: %v", email, err)
	}
	return application.Principal{UserID: user.ID}
}

func dailyRule() recurrence.Rule {
	return recurrence.Daily("daily", recurrence.MustTimeOfDay("19:00"), "Daily Meeting")
}

func TestPortal_UnrestrictedMeetingsStayUnrestricted(t *testing.T) {
	h := newPortalHarness(t, dailyRule())
	ctx := context.Background()
	alice := h.member(t, "alice@example.com", "")
	bob := h.member(t, "bob@example.com", application.GenderMale)

	signup, err := h.portal.signups.Claim(ctx, application.ClaimParams{Principal: alice, MeetingID: "tpl-daily-20250305"})
	if err != nil {
		t.Fatalf("claim of template instance failed: %v", err)
	}

	admin := application.Principal{UserID: "admin", IsAdmin: true}
	created, err := h.portal.calendar.CreateMeeting(ctx, application.CreateMeetingParams{
		Principal: admin,
		Input:     application.MeetingInput{Date: "2025-03-06", StartTime: "12:00", Title: "Noon Meeting"},
	})
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if _, err := h.portal.signups.Claim(ctx, application.ClaimParams{Principal: bob, MeetingID: created.ID}); err != nil {
		t.Fatalf("claim of admin meeting failed: %v", err)
	}

	entries, err := h.portal.calendar.Materialize(ctx, testfixtures.ReferenceTime().AddDate(0, 0, 2), testfixtures.ReferenceTime().AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	for _, entry := range entries {
		if entry.Meeting.GenderRestriction != application.GenderUnspecified {
			t.Fatalf("meeting %s restriction = %q, want none", entry.Meeting.ID, entry.Meeting.GenderRestriction)
		}
		if entry.Meeting.ID == signup.MeetingID && (entry.Chair == nil || entry.Chair.UserID != alice.UserID) {
			t.Fatalf("expected alice to chair %s, got %+v", signup.MeetingID, entry.Chair)
		}
	}
}

func TestPortal_DigestListsStoredUnrestrictedMeetings(t *testing.T) {
	h := newPortalHarness(t)
	ctx := context.Background()
	h.member(t, "alice@example.com", application.GenderFemale)

	if _, err := h.portal.calendar.CreateMeeting(ctx, application.CreateMeetingParams{
		Principal: application.Principal{UserID: "admin", IsAdmin: true},
		Input:     application.MeetingInput{Date: "2025-03-11", StartTime: "12:00", Title: "Noon Meeting"},
	}); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	// Sunday 10:30 is past the default digest time.
	h.clock.Set(time.Date(2025, time.March, 9, 10, 30, 0, 0, time.UTC))
	report, err := h.portal.reminders.RunScan(ctx)
	if err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}
	if report.DigestsSent != 1 || h.sender.Count(notify.KindOpenSlotDigest) != 1 {
		t.Fatalf("expected one digest, got report=%+v", report)
	}
}

func TestPortal_ConcurrentClaimsThenReclaim(t *testing.T) {
	h := newPortalHarness(t, dailyRule())
	ctx := context.Background()
	const meetingID = "tpl-daily-20250305"

	members := []application.Principal{
		h.member(t, "alice@example.com", ""),
		h.member(t, "bob@example.com", application.GenderFemale),
	}

	errs := make([]error, len(members))
	var wg sync.WaitGroup
	for i, principal := range members {
		wg.Add(1)
		go func(i int, principal application.Principal) {
			defer wg.Done()
			_, errs[i] = h.portal.signups.Claim(ctx, application.ClaimParams{Principal: principal, MeetingID: meetingID})
		}(i, principal)
	}
	wg.Wait()

	winner, loser := -1, -1
	for i, err := range errs {
		switch {
		case err == nil:
			winner = i
		case errors.Is(err, application.ErrAlreadyClaimed):
			loser = i
		default:
			t.Fatalf("claim %d: unexpected error %v", i, err)
		}
	}
	if winner < 0 || loser < 0 {
		t.Fatalf("expected exactly one success and one AlreadyClaimed, got %v", errs)
	}

	if err := h.portal.signups.Release(ctx, application.ReleaseParams{Principal: members[loser], MeetingID: meetingID}); !errors.Is(err, application.ErrNotOwner) {
		t.Fatalf("release by non-chair: expected ErrNotOwner, got %v", err)
	}
	if err := h.portal.signups.Release(ctx, application.ReleaseParams{Principal: members[winner], MeetingID: meetingID}); err != nil {
		t.Fatalf("release by chair failed: %v", err)
	}

	signup, err := h.portal.signups.Claim(ctx, application.ClaimParams{Principal: members[loser], MeetingID: meetingID})
	if err != nil {
		t.Fatalf("reclaim after release failed: %v", err)
	}
	entry, err := h.portal.calendar.GetMeeting(ctx, meetingID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if entry.Meeting.ID != signup.MeetingID || entry.IsOpen || entry.Chair == nil || entry.Chair.UserID != members[loser].UserID {
		t.Fatalf("expected the reclaimed chair on %s, got %+v", signup.MeetingID, entry)
	}
}

func TestPortal_TemplateMeetingKeepsItsDate(t *testing.T) {
	h := newPortalHarness(t, dailyRule())
	ctx := context.Background()
	admin := application.Principal{UserID: "admin", IsAdmin: true}

	_, err := h.portal.calendar.UpdateMeeting(ctx, application.UpdateMeetingParams{
		Principal: admin,
		MeetingID: "tpl-daily-20250305",
		Input:     application.MeetingInput{Date: "2025-03-08", StartTime: "19:00", Title: "Moved"},
	})
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error moving a template meeting, got %v", err)
	}

	day := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	entries, err := h.portal.calendar.Materialize(ctx, day, day)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Meeting.Title != "Daily Meeting" || !entries[0].IsOpen {
		t.Fatalf("unexpected calendar for 2025-03-05: %+v", entries)
	}
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCommand(&cli{stdout: io.Discard})
	for _, name := range []string{"serve", "remind", "import", "migrate", "create-admin"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("env-file") == nil {
		t.Fatal("expected --env-file persistent flag")
	}
}
