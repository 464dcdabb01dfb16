package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/persistence"
	"github.com/example/chair-portal/internal/testfixtures"
)

func TestUserRepository(t *testing.T) {
	t.Parallel()

	t.Run("assigns increasing member numbers and looks up email case-insensitively", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		first := harness.SeedUser(t, testfixtures.NewUserFixture(testfixtures.WithUserEmail("alice@example.com")))
		second := harness.SeedUser(t, testfixtures.NewUserFixture(testfixtures.WithUserEmail("bob@example.com")))
		if first.MemberNumber <= 0 || second.MemberNumber <= first.MemberNumber {
			t.Fatalf("member numbers = %d, %d; want increasing", first.MemberNumber, second.MemberNumber)
		}

		fetched, err := harness.Users.GetUserByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if fetched.ID != first.ID || fetched.MemberNumber != first.MemberNumber {
			t.Fatalf("unexpected user: %#v", fetched)
		}

		users, err := harness.Users.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 || users[0].ID != first.ID || users[1].ID != second.ID {
			t.Fatalf("expected users ordered by member number, got %#v", users)
		}
	})

	t.Run("enforces unique email addresses", func(t *testing.T) {
		t.Parallel()

		harness := testfixtures.NewSQLiteHarness(t)
		harness.SeedUser(t, testfixtures.NewUserFixture(testfixtures.WithUserEmail("dup@example.com")))

		conflicting := testfixtures.NewUserFixture(testfixtures.WithUserEmail("dup@example.com")).Persistence()
		if _, err := harness.Users.CreateUser(context.Background(), conflicting); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
		}
	})

	t.Run("missing users are reported as not found", func(t *testing.T) {
		t.Parallel()

		harness := testfixtures.NewSQLiteHarness(t)
		if _, err := harness.Users.GetUser(context.Background(), "ghost"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}
	})
}

func TestMeetingRepository(t *testing.T) {
	t.Parallel()

	t.Run("filters by date range and source", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		harness.SeedMeeting(t, testfixtures.NewMeetingFixture(testfixtures.WithMeetingDate(testfixtures.ReferenceDate(1))))
		imported := harness.SeedMeeting(t, testfixtures.NewMeetingFixture(
			testfixtures.WithMeetingDate(testfixtures.ReferenceDate(2)),
			testfixtures.WithMeetingImported(),
		))
		harness.SeedMeeting(t, testfixtures.NewMeetingFixture(testfixtures.WithMeetingDate(testfixtures.ReferenceDate(40))))

		inRange, err := harness.Meetings.ListMeetings(ctx, persistence.MeetingFilter{
			FromDate: testfixtures.ReferenceDate(0),
			ToDate:   testfixtures.ReferenceDate(30),
		})
		if err != nil {
			t.Fatalf("ListMeetings failed: %v", err)
		}
		if len(inRange) != 2 {
			t.Fatalf("expected 2 meetings in range, got %d", len(inRange))
		}

		onlyImported, err := harness.Meetings.ListMeetings(ctx, persistence.MeetingFilter{
			FromDate: testfixtures.ReferenceDate(0),
			ToDate:   testfixtures.ReferenceDate(60),
			Source:   string(application.MeetingSourceImport),
		})
		if err != nil {
			t.Fatalf("ListMeetings by source failed: %v", err)
		}
		if len(onlyImported) != 1 || onlyImported[0].ID != imported.ID {
			t.Fatalf("unexpected imported meetings: %#v", onlyImported)
		}
	})

	t.Run("template rows are found by key and ensured once", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		fixture := testfixtures.NewMeetingFixture(testfixtures.WithMeetingTemplateKey("tpl-2025-03-10-1900"))
		first, err := harness.Meetings.EnsureMeeting(ctx, fixture.Persistence())
		if err != nil {
			t.Fatalf("EnsureMeeting failed: %v", err)
		}

		again := fixture
		again.ID = "another-id"
		second, err := harness.Meetings.EnsureMeeting(ctx, again.Persistence())
		if err != nil {
			t.Fatalf("second EnsureMeeting failed: %v", err)
		}
		if second.ID != first.ID {
			t.Fatalf("EnsureMeeting created a second row: %s vs %s", second.ID, first.ID)
		}

		found, err := harness.Meetings.FindMeetingByTemplateKey(ctx, "tpl-2025-03-10-1900")
		if err != nil {
			t.Fatalf("FindMeetingByTemplateKey failed: %v", err)
		}
		if found.ID != first.ID || found.TemplateKey == nil {
			t.Fatalf("unexpected template meeting: %#v", found)
		}
	})

	t.Run("cancellation is persisted", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		meeting := harness.SeedMeeting(t, testfixtures.NewMeetingFixture())

		meeting.Status = string(application.MeetingStatusCancelled)
		meeting.UpdatedAt = testfixtures.ReferenceTime().Add(time.Hour)
		if err := harness.Meetings.UpdateMeeting(ctx, meeting); err != nil {
			t.Fatalf("UpdateMeeting failed: %v", err)
		}

		fetched, err := harness.Meetings.GetMeeting(ctx, meeting.ID)
		if err != nil {
			t.Fatalf("GetMeeting failed: %v", err)
		}
		if fetched.Status != string(application.MeetingStatusCancelled) {
			t.Fatalf("status = %q, want cancelled", fetched.Status)
		}
	})
}

func TestSignupRepository(t *testing.T) {
	t.Parallel()

	t.Run("one chair per meeting", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		alice := harness.SeedUser(t, testfixtures.NewUserFixture())
		bob := harness.SeedUser(t, testfixtures.NewUserFixture())
		meeting := harness.SeedMeeting(t, testfixtures.NewMeetingFixture())

		harness.SeedSignup(t, testfixtures.NewSignupFixture(meeting.ID, alice.ID, testfixtures.WithSignupNotes("first")))

		err := harness.Signups.CreateSignup(ctx, testfixtures.NewSignupFixture(meeting.ID, bob.ID).Persistence())
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
		}

		signup, err := harness.Signups.GetSignupByMeeting(ctx, meeting.ID)
		if err != nil {
			t.Fatalf("GetSignupByMeeting failed: %v", err)
		}
		if signup.UserID != alice.ID || signup.Notes != "first" {
			t.Fatalf("unexpected signup: %#v", signup)
		}
		if signup.MemberNumber != alice.MemberNumber {
			t.Fatalf("member number = %d, want %d", signup.MemberNumber, alice.MemberNumber)
		}
	})

	t.Run("reminder marker is set once", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		user := harness.SeedUser(t, testfixtures.NewUserFixture())
		meeting := harness.SeedMeeting(t, testfixtures.NewMeetingFixture())
		fixture := testfixtures.NewSignupFixture(meeting.ID, user.ID)
		harness.SeedSignup(t, fixture)

		sent := testfixtures.ReferenceTime().Add(time.Hour)
		changed, err := harness.Signups.MarkReminderSent(ctx, fixture.ID, sent)
		if err != nil || !changed {
			t.Fatalf("first MarkReminderSent = %v, %v", changed, err)
		}
		changed, err = harness.Signups.MarkReminderSent(ctx, fixture.ID, sent.Add(time.Hour))
		if err != nil || changed {
			t.Fatalf("second MarkReminderSent = %v, %v; want false, nil", changed, err)
		}
	})
}

func TestAvailabilityRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	alice := harness.SeedUser(t, testfixtures.NewUserFixture())
	bob := harness.SeedUser(t, testfixtures.NewUserFixture())

	target := testfixtures.ReferenceDate(5)
	harness.SeedAvailability(t, testfixtures.NewAvailabilityFixture(alice.ID, testfixtures.WithAvailabilityDate(target)))
	harness.SeedAvailability(t, testfixtures.NewAvailabilityFixture(bob.ID,
		testfixtures.WithAvailabilityDate(target),
		testfixtures.WithAvailabilityPreference(application.TimePreferenceEvening),
	))
	harness.SeedAvailability(t, testfixtures.NewAvailabilityFixture(alice.ID, testfixtures.WithAvailabilityDate(testfixtures.ReferenceDate(-3))))

	onDate, err := harness.Availability.ListAvailabilityByDate(ctx, target)
	if err != nil {
		t.Fatalf("ListAvailabilityByDate failed: %v", err)
	}
	if len(onDate) != 2 {
		t.Fatalf("expected 2 volunteers on %s, got %d", target, len(onDate))
	}

	upcoming, err := harness.Availability.ListAvailabilityForUser(ctx, alice.ID, testfixtures.ReferenceDate(0))
	if err != nil {
		t.Fatalf("ListAvailabilityForUser failed: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].VolunteerDate != target {
		t.Fatalf("unexpected upcoming availability: %#v", upcoming)
	}
}

func TestSessionRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	user := harness.SeedUser(t, testfixtures.NewUserFixture())

	fixture := testfixtures.NewSessionFixture(testfixtures.WithSessionUserID(user.ID))
	if _, err := harness.Sessions.CreateSession(ctx, fixture.Persistence()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	revokedAt := testfixtures.ReferenceTime().Add(time.Minute)
	revoked, err := harness.Sessions.RevokeSession(ctx, fixture.Token, revokedAt)
	if err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if revoked.RevokedAt == nil || !revoked.RevokedAt.Equal(revokedAt) {
		t.Fatalf("unexpected revoked_at: %v", revoked.RevokedAt)
	}

	if err := harness.Sessions.DeleteExpiredSessions(ctx, fixture.ExpiresAt.Add(time.Second)); err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
	if _, err := harness.Sessions.GetSession(ctx, fixture.Token); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
}
