// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Creates the schema on open, including the partial unique indexes for grant scopes

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// foreign_keys and busy_timeout are per-connection, so they go in the DSN
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			email            TEXT NOT NULL COLLATE NOCASE UNIQUE,
			display_name     TEXT NOT NULL DEFAULT '',
			provider         TEXT NOT NULL DEFAULT 'password',
			provider_subject TEXT,
			password_hash    TEXT,
			api_key_hash     TEXT UNIQUE,
			role             TEXT NOT NULL DEFAULT 'client',
			status           TEXT NOT NULL DEFAULT 'active',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (role IN ('admin', 'manager', 'expert', 'client', 'super')),
			CHECK (status IN ('active', 'inactive', 'pending', 'blocked'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_provider
			ON principals(provider, provider_subject) WHERE provider_subject IS NOT NULL;

		CREATE TABLE IF NOT EXISTS tenants (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_name
			ON tenants(name COLLATE NOCASE);

		CREATE TABLE IF NOT EXISTS tenant_members (
			tenant_id    INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			principal_id INTEGER NOT NULL REFERENCES principals(id),
			role         TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (tenant_id, principal_id),
			CHECK (role IN ('owner', 'admin', 'user'))
		);

		CREATE INDEX IF NOT EXISTS idx_tenant_members_principal
			ON tenant_members(principal_id);

		CREATE TABLE IF NOT EXISTS products (
			key        TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entitlements (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id    INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			principal_id INTEGER REFERENCES principals(id),
			product_key  TEXT NOT NULL,
			plan         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active',
			valid_until  TEXT,
			meta         TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (plan IN ('free', 'trial', 'starter', 'pro', 'enterprise')),
			CHECK (status IN ('active', 'inactive', 'expired'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_org
			ON entitlements(tenant_id, product_key) WHERE principal_id IS NULL;

		CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_member
			ON entitlements(tenant_id, principal_id, product_key) WHERE principal_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_entitlements_expiry
			ON entitlements(status, valid_until);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "entitlements",
			column: "updated_at",
			apply:  `ALTER TABLE entitlements ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "principals",
			column: "api_key_hash",
			apply:  `ALTER TABLE principals ADD COLUMN api_key_hash TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// SetClock overrides the time source used for created_at/updated_at stamps.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func (s *SQLiteStore) timestamp() string {
	return formatTime(s.now())
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key value")
}

// isForeignKeyViolation checks if the error is a foreign key failure
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "violates foreign key constraint")
}

// timeLayout is RFC3339 with a fixed nine-digit fraction so stored values
// keep sub-second precision and still sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
