// Package testutil provides test utilities shared by the billing and
// reconciliation packages: an isolated database plus fluent builders for
// seeding the practice registry.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/Veraticus/the-fees-must-flow/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated SQLite database in the test's temp dir.
// It automatically handles cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	practice := db.Practice().
//		WithTherapist("th-1").
//		WithPatient("pt-1", "Maria Silva", 20000).
//		Build()
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// Practice starts a builder that seeds therapists, patients, sessions and
// connections into this database.
func (db *TestDB) Practice() *PracticeBuilder {
	return newPracticeBuilder(db.t, db.Storage)
}
