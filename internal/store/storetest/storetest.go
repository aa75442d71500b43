// Package storetest opens migrated sqlite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"listing_filter/internal/store"
)

// New returns a Store over a fresh, migrated sqlite file in t.TempDir().
func New(t testing.TB) *store.Store {
	t.Helper()
	return store.New(NewDB(t))
}

// NewDB is New returning the underlying connection, for tests that need
// raw SQL next to the store.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "listing_filter_test.db")
	db, err := store.Open(store.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
