package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"time"
)

// Manager applies embedded migrations in version order.
type Manager struct {
	scanner  FileScanner
	executor Executor
	fsys     fs.FS
	dir      string
	logger   *slog.Logger
}

// NewManager creates a Manager reading migrations from dir within fsys.
func NewManager(scanner FileScanner, executor Executor, fsys fs.FS, dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scanner:  scanner,
		executor: executor,
		fsys:     fsys,
		dir:      dir,
		logger:   logger.With(slog.String("component", "migration")),
	}
}

// RunMigrations executes all pending migrations in sequential order and
// returns the number applied.
func (m *Manager) RunMigrations(ctx context.Context) (int, error) {
	start := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to initialize schema_migrations table", slog.Any("error", err))
		return 0, fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to determine pending migrations", slog.Any("error", err))
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "database schema up to date")
		return 0, nil
	}

	for i, migration := range pending {
		migrationStart := time.Now()
		logger := m.logger.With(
			slog.String("version", migration.Version),
			slog.String("description", migration.Description),
		)
		logger.InfoContext(ctx, "executing migration", slog.Int("position", i+1), slog.Int("pending", len(pending)))

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", slog.Any("error", err))
			return i, NewMigrationError(migration.Version, migration.FilePath,
				"execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		elapsed := time.Since(migrationStart)
		if err := m.executor.RecordMigration(ctx, migration, elapsed); err != nil {
			logger.ErrorContext(ctx, "failed to record migration", slog.Any("error", err))
			return i, NewMigrationError(migration.Version, migration.FilePath,
				"record migration", fmt.Errorf("failed to record migration: %w", err))
		}
		logger.InfoContext(ctx, "migration applied", slog.Duration("duration", elapsed))
	}

	m.logger.InfoContext(ctx, "migrations completed",
		slog.Int("applied", len(pending)),
		slog.Duration("duration", time.Since(start)),
	)
	return len(pending), nil
}

// PendingMigrations returns the migrations that still need to be applied
// after validating the sequence and checksums of applied ones.
func (m *Manager) PendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateSequence(available, applied); err != nil {
		return nil, fmt.Errorf("migration sequence validation failed: %w", err)
	}

	appliedMap := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedMap[a.Version] = a
	}

	var pending []Migration
	for _, migration := range available {
		if _, ok := appliedMap[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Status reports the applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (*MigrationStatus, error) {
	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	current := ""
	highest := -1
	for _, a := range applied {
		if v, err := strconv.Atoi(a.Version); err == nil && v > highest {
			highest = v
			current = a.Version
		}
	}

	return &MigrationStatus{
		CurrentVersion:    current,
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}, nil
}

// validateSequence ensures available versions have no gaps, every applied
// version still has a file, and applied files were not edited afterwards.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	minVersion, maxVersion := 0, 0
	for i, migration := range available {
		v, err := strconv.Atoi(migration.Version)
		if err != nil {
			return NewMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: version '%s' is not numeric", ErrInvalidVersion, migration.Version))
		}
		byVersion[v] = migration
		if i == 0 || v < minVersion {
			minVersion = v
		}
		if i == 0 || v > maxVersion {
			maxVersion = v
		}
	}

	if len(available) > 0 {
		for v := minVersion; v <= maxVersion; v++ {
			if _, ok := byVersion[v]; !ok {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, v)
			}
		}
	}

	for _, a := range applied {
		v, err := strconv.Atoi(a.Version)
		if err != nil {
			return fmt.Errorf("%w: applied version '%s' is not numeric", ErrInvalidVersion, a.Version)
		}
		migration, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && migration.Checksum != "" && a.Checksum != migration.Checksum {
			return NewMigrationError(a.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
