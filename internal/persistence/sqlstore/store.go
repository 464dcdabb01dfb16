// Package sqlstore implements the persistence repositories on SQLite
// (modernc.org/sqlite) or Postgres (pgx) through database/sql.
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/chair-portal/internal/persistence/sqlstore/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationDir = "migrations"

// Store bundles the repositories over one connection pool.
type Store struct {
	pool *ConnectionPool

	Users         *UserRepository
	Meetings      *MeetingRepository
	Signups       *SignupRepository
	Availability  *AvailabilityRepository
	Sessions      *SessionRepository
	Notifications *NotificationLogRepository
}

// Open connects to driver ("sqlite" or "postgres") at dsn.
func Open(driver, dsn string) (*Store, error) {
	var cfg migration.ConnectionConfig
	switch migration.Dialect(driver) {
	case migration.DialectSQLite:
		cfg = migration.DefaultSQLiteConfig(dsn)
	case migration.DialectPostgres:
		cfg = migration.DefaultPostgresConfig(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig connects using an explicit connection configuration.
func OpenWithConfig(cfg migration.ConnectionConfig) (*Store, error) {
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}
	return newStore(pool), nil
}

func newStore(pool *ConnectionPool) *Store {
	return &Store{
		pool:          pool,
		Users:         NewUserRepository(pool),
		Meetings:      NewMeetingRepository(pool),
		Signups:       NewSignupRepository(pool),
		Availability:  NewAvailabilityRepository(pool),
		Sessions:      NewSessionRepository(pool),
		Notifications: NewNotificationLogRepository(pool),
	}
}

// Pool exposes the underlying connection pool.
func (s *Store) Pool() *ConnectionPool {
	return s.pool
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// Migrate applies the embedded schema migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) (int, error) {
	manager := s.migrationManager(logger)
	applied, err := manager.RunMigrations(ctx)
	if err != nil {
		return applied, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return applied, nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Store) MigrationStatus(ctx context.Context, logger *slog.Logger) (*migration.MigrationStatus, error) {
	return s.migrationManager(logger).Status(ctx)
}

func (s *Store) migrationManager(logger *slog.Logger) *migration.Manager {
	return migration.NewManager(
		migration.NewFileScanner(),
		migration.NewSQLExecutor(s.pool.DB(), s.pool.Dialect()),
		migrationFiles,
		migrationDir,
		logger,
	)
}
