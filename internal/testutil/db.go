package testutil

import (
	"path/filepath"
	"testing"

	"sentinal-call/internal/repository"
	"sentinal-call/pkg/database"

	"gorm.io/gorm"
)

// DB opens a migrated sqlite database under t.TempDir.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.OpenSQLite(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repository.InitSchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}
