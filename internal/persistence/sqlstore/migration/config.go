package migration

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver ("sqlite")
)

// Dialect identifies the SQL flavour of a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax. Queries in
// this module never contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ConnectionConfig holds database connection settings.
type ConnectionConfig struct {
	Dialect Dialect

	// DSN is a SQLite file path (or ":memory:") or a Postgres connection URL.
	DSN string

	// SQLite only settings.
	BusyTimeout       time.Duration
	EnableForeignKeys bool
	JournalMode       string
	Synchronous       string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns a SQLite configuration for a database file.
//
// A single connection serializes writers so that concurrent claims are decided
// by the UNIQUE constraint instead of surfacing SQLITE_BUSY.
func DefaultSQLiteConfig(databasePath string) ConnectionConfig {
	return ConnectionConfig{
		Dialect:           DialectSQLite,
		DSN:               databasePath,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		MaxOpenConns:      1,
		MaxIdleConns:      1,
	}
}

// DefaultPostgresConfig returns a pooled Postgres configuration.
func DefaultPostgresConfig(dsn string) ConnectionConfig {
	return ConnectionConfig{
		Dialect:         DialectPostgres,
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// InMemoryTestSQLiteConfig returns a SQLite configuration optimized for in-memory testing
func InMemoryTestSQLiteConfig() ConnectionConfig {
	return ConnectionConfig{
		Dialect:           DialectSQLite,
		DSN:               ":memory:",
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		MaxOpenConns:      1,
		MaxIdleConns:      1,
	}
}

// TempFileTestSQLiteConfig returns a SQLite configuration for temporary file-based testing
func TempFileTestSQLiteConfig(tempFilePath string) ConnectionConfig {
	cfg := DefaultSQLiteConfig(tempFilePath)
	cfg.BusyTimeout = 5 * time.Second
	cfg.Synchronous = "OFF"
	return cfg
}

// Validate checks the configuration before a connection is opened.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	switch c.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("unsupported dialect: %q", c.Dialect)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}
	validJournalModes := map[string]bool{"": true, "DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	if !validJournalModes[c.JournalMode] {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}
	validSyncModes := map[string]bool{"": true, "OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
	if !validSyncModes[c.Synchronous] {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection pool settings cannot be negative")
	}
	return nil
}

// DataSourceName builds the driver DSN. For SQLite, pragmas are encoded as
// _pragma parameters so every pooled connection receives them.
func (c ConnectionConfig) DataSourceName() string {
	if c.Dialect == DialectPostgres {
		return c.DSN
	}

	dsn := c.DSN
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	var pragmas []string
	if c.EnableForeignKeys {
		pragmas = append(pragmas, "_pragma=foreign_keys(1)")
	}
	if c.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", c.JournalMode))
	}
	if c.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=synchronous(%s)", c.Synchronous))
	}
	if len(pragmas) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Open validates the configuration and returns a ready connection pool.
func Open(c ConnectionConfig) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if c.Dialect == DialectSQLite && c.DSN != ":memory:" && !strings.HasPrefix(c.DSN, "file:") {
		if dir := filepath.Dir(c.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(c.Dialect.DriverName(), c.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", c.Dialect, err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", c.Dialect, err)
	}
	return db, nil
}
