// Package sqlitetest provides throwaway in-memory databases for package tests.
package sqlitetest

import (
	"context"
	"io"
	"testing"

	"github.com/myrjola/valuebench/internal/sqlite"
	"github.com/myrjola/valuebench/internal/testhelpers"
)

// NewDatabase returns a freshly migrated in-memory database that is closed when the test finishes.
func NewDatabase(t *testing.T) *sqlite.Database {
	t.Helper()
	db, err := sqlite.NewDatabase(context.Background(), ":memory:", testhelpers.NewLogger(io.Discard))
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		if err = db.Close(context.Background()); err != nil {
			t.Errorf("close database: %v", err)
		}
	})
	return db
}
