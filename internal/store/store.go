package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps bot records and run reports in one SQLite file.
// Record tables are created lazily by InsertOrUpdate; run_reports is fixed.
type Store struct {
	db *sql.DB
}

// pragmas are applied on every open. A bot runs as a single process, so WAL
// plus a busy timeout is enough to let inspection commands read mid-update.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
}

// migrations[i] upgrades a database from user_version i to i+1.
var migrations = []func(*sql.DB) error{
	indexRunReportsByBot,
}

// Open creates or opens the bot database at path, applying pragmas, the
// run_reports schema and any pending migrations. Opening twice is harmless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open bot database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to bot database %s: %w", path, err)
	}

	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []struct {
		what string
		fn   func(*sql.DB) error
	}{
		{"apply pragmas", applyPragmas},
		{"create run_reports", createFixedTables},
		{"migrate", migrate},
	} {
		if err := step.fn(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s on %s: %w", step.what, path, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database. Safe on a zero Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for ad-hoc queries in tests and tools.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Healthy reports whether the database answers a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

func createFixedTables(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		if err := migrations[v](db); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
	}
	return nil
}

// indexRunReportsByBot backs RunReports, which lists one bot's runs newest first.
func indexRunReportsByBot(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_reports_bot ON run_reports(bot, started_at)`)
	return err
}

// verifyPragma is a test hook comparing a pragma's current value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
