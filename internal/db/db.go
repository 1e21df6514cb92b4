package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/critique/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "critique.db"

// Init initializes the SQLite database at baseDir/critique.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.critique.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
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
	if cfg.DB.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}
	if cfg.DB.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: sessions and their review threads
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS sessions (
		  name_norm   TEXT PRIMARY KEY,
		  name_raw    TEXT NOT NULL,
		  code        TEXT NOT NULL,
		  language    TEXT NOT NULL,
		  file_name   TEXT NOT NULL,
		  theme       TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threads (
		  session        TEXT NOT NULL,
		  id             TEXT NOT NULL,
		  position       INTEGER NOT NULL,
		  start_line     INTEGER NOT NULL,
		  end_line       INTEGER NOT NULL,
		  status         TEXT NOT NULL,
		  original_code  TEXT NOT NULL,
		  created_at     INTEGER NOT NULL,
		  PRIMARY KEY (session, id)
		);

		CREATE TABLE IF NOT EXISTS messages (
		  session     TEXT NOT NULL,
		  thread_id   TEXT NOT NULL,
		  id          TEXT NOT NULL,
		  position    INTEGER NOT NULL,
		  role        TEXT NOT NULL,
		  content     TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  PRIMARY KEY (session, thread_id, id)
		);

		CREATE TABLE IF NOT EXISTS suggestions (
		  session     TEXT NOT NULL,
		  thread_id   TEXT NOT NULL,
		  message_id  TEXT NOT NULL,
		  id          TEXT NOT NULL,
		  position    INTEGER NOT NULL,
		  original    TEXT NOT NULL,
		  suggested   TEXT NOT NULL,
		  applied     INTEGER NOT NULL DEFAULT 0,
		  PRIMARY KEY (session, thread_id, message_id, id)
		);

		CREATE TABLE IF NOT EXISTS outside_notes (
		  session     TEXT NOT NULL,
		  thread_id   TEXT NOT NULL,
		  message_id  TEXT NOT NULL,
		  position    INTEGER NOT NULL,
		  note        TEXT NOT NULL,
		  PRIMARY KEY (session, thread_id, message_id, position)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated
		ON sessions(updated_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

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
