package db

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliasyaoyc/fastjob/internal/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate applies every pending migration under sqlite/migrations, in
// lexical filename order, and records each applied version in
// schema_migrations so a restart is a no-op. log follows the component
// logger convention (internal/logger.ComponentLogger) but may be nil for
// callers, such as test fixtures, that don't want progress output.
func Migrate(sqlDB *sql.DB, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	pending, err := pendingMigrations()
	if err != nil {
		return err
	}

	start := time.Now()
	applied := 0
	for _, filename := range pending {
		version := migrationVersion(filename)

		ok, err := versionApplied(sqlDB, version)
		if err != nil {
			// schema_migrations itself doesn't exist yet; only 000 is
			// allowed to run against a database in that state.
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if ok {
			log.Debugw("migration already applied", "migration", filename, "version", version)
			continue
		}

		if err := applyMigration(sqlDB, filename, version); err != nil {
			return err
		}
		log.Infow("applied migration", "migration", filename, "version", version)
		applied++
	}

	log.Infow("schema up to date", "applied", applied, "total", len(pending), "took", time.Since(start))
	return nil
}

// pendingMigrations lists every embedded *.sql file, sorted so that
// 000_schema_migrations.sql always runs first.
func pendingMigrations() ([]string, error) {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func migrationVersion(filename string) string {
	return strings.Split(filename, "_")[0]
}

func versionApplied(sqlDB *sql.DB, version string) (bool, error) {
	var exists bool
	err := sqlDB.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	return exists, err
}

// applyMigration runs filename's SQL and records its version in a single
// transaction, so a crash mid-migration never leaves schema_migrations
// claiming a version whose DDL didn't actually land.
func applyMigration(sqlDB *sql.DB, filename, version string) error {
	sqlBytes, err := migrations.ReadFile(filepath.Join("sqlite/migrations", filename))
	if err != nil {
		return errors.Wrapf(err, "read %s", filename)
	}

	tx, err := sqlDB.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", filename)
	}

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", filename)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", filename)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", filename)
	}
	return nil
}
