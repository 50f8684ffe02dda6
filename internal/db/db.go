package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/tether/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created inside the base directory.
const FileName = "tether.db"

// Init initializes the SQLite database at baseDir/tether.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tether.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Timeline exports land here by default
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: sessions, windows and the two activity streams.
	// All timestamps are unix milliseconds.
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS sessions (
		  id               TEXT PRIMARY KEY,
		  tty              TEXT NOT NULL DEFAULT '',
		  pid              INTEGER NOT NULL DEFAULT 0,
		  ppid             INTEGER NOT NULL DEFAULT 0,
		  user_name        TEXT NOT NULL DEFAULT '',
		  shell            TEXT NOT NULL DEFAULT '',
		  term             TEXT NOT NULL DEFAULT '',
		  start_time       INTEGER NOT NULL,
		  last_active      INTEGER NOT NULL,
		  status           TEXT NOT NULL,
		  connection_count INTEGER NOT NULL DEFAULT 1,
		  recovery_count   INTEGER NOT NULL DEFAULT 0,
		  last_recovery    INTEGER,
		  recovery_source  TEXT,
		  recovery_enabled INTEGER NOT NULL DEFAULT 0,
		  current_task_id  TEXT,
		  metadata_json    TEXT,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_tty
		ON sessions(tty, last_active DESC)
		WHERE tty <> '';

		CREATE INDEX IF NOT EXISTS idx_sessions_pid_ppid
		ON sessions(pid, ppid, last_active DESC);

		CREATE INDEX IF NOT EXISTS idx_sessions_status
		ON sessions(status, last_active DESC);

		CREATE TABLE IF NOT EXISTS time_windows (
		  id              TEXT PRIMARY KEY,
		  session_id      TEXT NOT NULL,
		  start_time      INTEGER NOT NULL,
		  end_time        INTEGER NOT NULL,
		  name            TEXT,
		  type            TEXT NOT NULL,
		  status          TEXT NOT NULL,
		  origin_json     TEXT,
		  successor_json  TEXT,
		  boundaries_json TEXT,
		  created_at      INTEGER NOT NULL,
		  updated_at      INTEGER NOT NULL,
		  CHECK (start_time < end_time)
		);

		CREATE INDEX IF NOT EXISTS idx_windows_session_range
		ON time_windows(session_id, start_time, end_time);

		CREATE INDEX IF NOT EXISTS idx_windows_session_status
		ON time_windows(session_id, status);

		CREATE TABLE IF NOT EXISTS session_tasks (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id TEXT NOT NULL,
		  task_id    TEXT NOT NULL,
		  timestamp  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_tasks_session_ts
		ON session_tasks(session_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_session_tasks_task
		ON session_tasks(task_id);

		CREATE TABLE IF NOT EXISTS session_files (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id TEXT NOT NULL,
		  file_path  TEXT NOT NULL,
		  timestamp  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_files_session_ts
		ON session_files(session_id, timestamp);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
