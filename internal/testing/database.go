// Package testing provides shared test helpers for packages that need a
// migrated SQLite handle.
package testing

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eliasyaoyc/fastjob/internal/db"
)

// CreateTestDB creates an in-memory SQLite database with every migration
// applied and registers t.Cleanup to close it. Each call gets its own named
// shared-cache database so parallel tests never see each other's rows, while
// a single connection keeps database/sql's pool from handing out a second,
// independent in-memory instance mid-test.
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}

	if err := db.Migrate(database, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
