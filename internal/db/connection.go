// Package db provides SQLite connection and migration utilities for the
// control plane's Store Gateway. SQLite stands in for "the persistent store"
// of spec.md §1 — any relational database could sit behind the same
// database/sql handle; the Store Gateway never depends on sqlite-specific
// behavior beyond the PRAGMAs set here.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

const (
	// SQLiteJournalMode configures the database journal mode (WAL enables concurrent reads)
	SQLiteJournalMode = "WAL"

	// SQLiteBusyTimeoutMS sets how long to wait for locks before returning SQLITE_BUSY
	SQLiteBusyTimeoutMS = 5000 // 5 seconds
)

// Open opens a SQLite database at the specified path with optimized settings.
// If log is provided, logs database operations; otherwise operates silently.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log.Debugw("opening database", "path", path)
	}

	// Ensure parent directory exists (SQLite can create the file, not directories).
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory: %s", dir)
		}
	}

	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if _, err := database.Exec("PRAGMA journal_mode = " + SQLiteJournalMode); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to enable %s journal mode for %s", SQLiteJournalMode, path)
	}
	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to enable foreign keys for %s", path)
	}
	if _, err := database.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to set busy timeout to %dms for %s", SQLiteBusyTimeoutMS, path)
	}

	if log != nil {
		log.Infow("database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return database, nil
}

// OpenWithMigrations opens a SQLite database and runs migrations in one step.
// Migrations are idempotent and cheap for SQLite, so this is the normal way
// server processes start up.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	database, err := Open(path, log)
	if err != nil {
		return nil, err
	}

	if err := Migrate(database, log); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations for %s", path)
	}

	return database, nil
}
