package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/chair-portal/internal/persistence"
	"github.com/example/chair-portal/internal/persistence/sqlstore"
	"github.com/example/chair-portal/internal/persistence/sqlstore/migration"
)

// SQLiteHarness provides repository access backed by a temporary, migrated
// SQLite database for integration-style tests.
type SQLiteHarness struct {
	Store *sqlstore.Store

	Users         persistence.UserRepository
	Meetings      persistence.MeetingRepository
	Signups       persistence.SignupRepository
	Availability  persistence.AvailabilityRepository
	Sessions      persistence.SessionRepository
	Notifications persistence.NotificationLogRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file. Close is
// registered with tb.Cleanup; calling it earlier is allowed.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "portal.db")
	store, err := sqlstore.OpenWithConfig(migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if _, err := store.Migrate(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store:         store,
		Users:         store.Users,
		Meetings:      store.Meetings,
		Signups:       store.Signups,
		Availability:  store.Availability,
		Sessions:      store.Sessions,
		Notifications: store.Notifications,
		cleanup: func() {
			_ = store.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// SeedUser stores the fixture and returns the row with its member number.
func (h *SQLiteHarness) SeedUser(tb testing.TB, fixture UserFixture) persistence.User {
	tb.Helper()
	user, err := h.Users.CreateUser(context.Background(), fixture.Persistence())
	if err != nil {
		tb.Fatalf("seed user %s: %v", fixture.ID, err)
	}
	return user
}

// SeedMeeting stores the fixture.
func (h *SQLiteHarness) SeedMeeting(tb testing.TB, fixture MeetingFixture) persistence.Meeting {
	tb.Helper()
	if err := h.Meetings.CreateMeeting(context.Background(), fixture.Persistence()); err != nil {
		tb.Fatalf("seed meeting %s: %v", fixture.ID, err)
	}
	meeting, err := h.Meetings.GetMeeting(context.Background(), fixture.ID)
	if err != nil {
		tb.Fatalf("reload meeting %s: %v", fixture.ID, err)
	}
	return meeting
}

// SeedSignup stores the fixture.
func (h *SQLiteHarness) SeedSignup(tb testing.TB, fixture SignupFixture) {
	tb.Helper()
	if err := h.Signups.CreateSignup(context.Background(), fixture.Persistence()); err != nil {
		tb.Fatalf("seed signup %s: %v", fixture.ID, err)
	}
}

// SeedAvailability stores the fixture.
func (h *SQLiteHarness) SeedAvailability(tb testing.TB, fixture AvailabilityFixture) {
	tb.Helper()
	if err := h.Availability.CreateAvailability(context.Background(), fixture.Persistence()); err != nil {
		tb.Fatalf("seed availability %s: %v", fixture.ID, err)
	}
}
