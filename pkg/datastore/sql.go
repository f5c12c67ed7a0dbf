package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is the SQLite-backed BanStore.
type SQLStore struct {
	DB *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath and runs migrations.
func Open(dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("datastore: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL lets the exporter read while the server writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version: 1,
			statements: []string{`
			CREATE TABLE IF NOT EXISTS bans (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				kind       TEXT    NOT NULL CHECK(kind IN ('address', 'nick')),
				value      TEXT    NOT NULL CHECK(length(value) > 0),
				reason     TEXT    NOT NULL DEFAULT '',
				set_by     TEXT    NOT NULL DEFAULT '',
				created_at TEXT    NOT NULL DEFAULT (datetime('now')),
				UNIQUE(kind, value)
			)`},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS bans_created_at ON bans(created_at)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.getSchemaVersion(ctx)
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLStore) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Bans ----

// CreateBan upserts a ban keyed by (kind, value).
func (s *SQLStore) CreateBan(ctx context.Context, b model.Ban) error {
	if err := validateBan(b); err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO bans (kind, value, reason, set_by, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, value) DO UPDATE SET reason = excluded.reason, set_by = excluded.set_by`,
		string(b.Kind), b.Value, b.Reason, b.SetBy, formatDBTime(created))
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban with the given kind and value.
func (s *SQLStore) DeleteBan(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM bans WHERE kind = ? AND value = ?", string(kind), value)
	if err != nil {
		return false, fmt.Errorf("datastore: delete ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: delete ban: %w", err)
	}
	return n > 0, nil
}

// ListBans returns all bans, oldest first.
func (s *SQLStore) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT kind, value, reason, set_by, created_at FROM bans ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var (
			b       model.Ban
			kind    string
			created string
		)
		if err := rows.Scan(&kind, &b.Value, &b.Reason, &b.SetBy, &created); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		b.Kind = model.BanKind(kind)
		if b.CreatedAt, err = parseDBTime(created); err != nil {
			return nil, fmt.Errorf("datastore: parse ban time: %w", err)
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	return bans, nil
}
