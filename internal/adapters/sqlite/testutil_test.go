// Package sqlite_test contains integration tests for SQLite repositories.
//
// # Schema Protection
//
// This file is the SINGLE POINT where the database schema is loaded for tests.
// All test setup functions use db.GetSchemaSQL() to ensure tests run against
// the authoritative schema, preventing drift between test and production.
//
// DO NOT hardcode CREATE TABLE statements in test files. Use setupTestDB()
// and the seed* helpers instead.
package sqlite_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/daybook/internal/db"
)

// setupTestDB creates an in-memory database with the authoritative schema.
// Every :memory: connection is its own database, so the pool is pinned to one.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	testDB.SetMaxOpenConns(1)

	// Use the authoritative schema from schema.go
	_, err = testDB.Exec(db.GetSchemaSQL())
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// seedEntry inserts an order entry directly.
func seedEntry(t *testing.T, db *sql.DB, contextKey, entityID, rank string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO order_entries (context, entity_id, rank) VALUES (?, ?, ?)", contextKey, entityID, rank)
	if err != nil {
		t.Fatalf("failed to seed order entry: %v", err)
	}
}
