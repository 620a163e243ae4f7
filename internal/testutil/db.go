// Package testutil holds helpers shared by package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/alimgiray/openwiden/pkg/database"
)

// NewDB opens a fresh schema-initialized SQLite database in a temp directory.
// The database is closed when the test finishes.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "openwiden_test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
