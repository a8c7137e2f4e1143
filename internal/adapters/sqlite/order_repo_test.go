package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/daybook/internal/adapters/sqlite"
	"github.com/example/daybook/internal/db"
	"github.com/example/daybook/internal/ports/secondary"
)

func entityIDs(records []*secondary.OrderEntryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.EntityID
	}
	return out
}

func TestOrderRepository_ListOrdered(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()

	seedEntry(t, testDB, "staging", "T2", "W")
	seedEntry(t, testDB, "staging", "T1", "V")
	seedEntry(t, testDB, "staging", "T3", "VV")
	seedEntry(t, testDB, "other", "X", "A")

	records, err := repo.ListOrdered(ctx, "staging")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	got := entityIDs(records)
	want := []string{"T1", "T3", "T2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if records[0].UpdatedAt == "" {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestOrderRepository_ListOrdered_BytewiseOrder(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)

	// '_' sorts between upper and lower case only under binary collation.
	seedEntry(t, testDB, "c", "lower", "a")
	seedEntry(t, testDB, "c", "under", "_")
	seedEntry(t, testDB, "c", "upper", "Z")
	seedEntry(t, testDB, "c", "dash", "-V")

	records, err := repo.ListOrdered(context.Background(), "c")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	got := entityIDs(records)
	want := []string{"dash", "upper", "under", "lower"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOrderRepository_ListOrdered_Empty(t *testing.T) {
	repo := sqlite.NewOrderRepository(setupTestDB(t))

	records, err := repo.ListOrdered(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", records)
	}
}

func TestOrderRepository_FindRank(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()
	seedEntry(t, testDB, "staging", "T1", "V")

	record, err := repo.FindRank(ctx, "staging", "T1")
	if err != nil {
		t.Fatalf("FindRank failed: %v", err)
	}
	if record == nil || record.Rank != "V" || record.Context != "staging" {
		t.Fatalf("unexpected record: %+v", record)
	}

	record, err = repo.FindRank(ctx, "staging", "missing")
	if err != nil {
		t.Fatalf("FindRank failed: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil for missing entry, got %+v", record)
	}
}

func TestOrderRepository_FindNeighbor(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	seedEntry(t, testDB, "staging", "A", "V")
	seedEntry(t, testDB, "staging", "B", "W")
	seedEntry(t, testDB, "staging", "C", "X")

	tests := []struct {
		name    string
		rank    string
		after   bool
		exclude string
		want    string
	}{
		{"after A", "V", true, "", "B"},
		{"after A skipping B", "V", true, "B", "C"},
		{"before C", "X", false, "", "B"},
		{"before first", "V", false, "", ""},
		{"first", "", true, "", "A"},
		{"last", "", false, "", "C"},
		{"last excluding C", "", false, "C", "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := repo.FindNeighbor(context.Background(), "staging", tt.rank, tt.after, tt.exclude)
			if err != nil {
				t.Fatalf("FindNeighbor failed: %v", err)
			}
			got := ""
			if record != nil {
				got = record.EntityID
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOrderRepository_Upsert(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "staging", "T1", "V"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := repo.Upsert(ctx, "staging", "T1", "W"); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	record, _ := repo.FindRank(ctx, "staging", "T1")
	if record == nil || record.Rank != "W" {
		t.Fatalf("expected rank W after upsert, got %+v", record)
	}

	var count int
	testDB.QueryRow("SELECT COUNT(*) FROM order_entries WHERE context = 'staging'").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestOrderRepository_Upsert_RejectsDuplicateRank(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	seedEntry(t, testDB, "staging", "T1", "V")

	err := repo.Upsert(context.Background(), "staging", "T2", "V")
	if err == nil {
		t.Fatal("expected error for duplicate rank")
	}
	if errors.Is(err, secondary.ErrConflict) {
		t.Error("constraint violations must not be retried as conflicts")
	}
}

func TestOrderRepository_DeleteAndDeleteContext(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()
	seedEntry(t, testDB, "staging", "T1", "V")
	seedEntry(t, testDB, "staging", "T2", "W")
	seedEntry(t, testDB, "today", "T1", "V")

	if err := repo.Delete(ctx, "staging", "T1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "staging", "T1"); err != nil {
		t.Fatalf("repeated Delete failed: %v", err)
	}
	if err := repo.DeleteContext(ctx, "staging"); err != nil {
		t.Fatalf("DeleteContext failed: %v", err)
	}

	contexts, err := repo.ListContexts(ctx)
	if err != nil {
		t.Fatalf("ListContexts failed: %v", err)
	}
	if len(contexts) != 1 || contexts[0] != "today" {
		t.Errorf("expected only today to remain, got %v", contexts)
	}
}

func TestOrderRepository_WithContextLock_Commits(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()

	err := repo.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.Upsert(ctx, "staging", "T1", "V"); err != nil {
			return err
		}
		return tx.Upsert(ctx, "staging", "T2", "W")
	})
	if err != nil {
		t.Fatalf("WithContextLock failed: %v", err)
	}

	records, _ := repo.ListOrdered(ctx, "staging")
	if len(records) != 2 {
		t.Errorf("expected 2 committed entries, got %d", len(records))
	}
}

func TestOrderRepository_WithContextLock_RollsBack(t *testing.T) {
	testDB := setupTestDB(t)
	repo := sqlite.NewOrderRepository(testDB)
	ctx := context.Background()
	seedEntry(t, testDB, "staging", "T1", "V")
	boom := errors.New("boom")

	err := repo.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.DeleteContext(ctx, "staging"); err != nil {
			return err
		}
		if err := tx.Upsert(ctx, "staging", "T9", "A"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	records, _ := repo.ListOrdered(ctx, "staging")
	if len(records) != 1 || records[0].EntityID != "T1" {
		t.Errorf("expected original entry to survive, got %+v", records)
	}
}

func TestOrderRepository_WithContextLock_ScopedToContext(t *testing.T) {
	repo := sqlite.NewOrderRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		return tx.Upsert(ctx, "today", "T1", "V")
	})
	if err == nil {
		t.Fatal("expected error writing outside the locked context")
	}

	// Nested lock on the same context reuses the transaction.
	err = repo.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		return tx.WithContextLock(ctx, "staging", func(inner secondary.OrderingStore) error {
			return inner.Upsert(ctx, "staging", "T1", "V")
		})
	})
	if err != nil {
		t.Fatalf("nested WithContextLock failed: %v", err)
	}
}

func TestOrderRepository_WithContextLock_Concurrent(t *testing.T) {
	repo := sqlite.NewOrderRepository(setupTestDB(t))
	ctx := context.Background()
	keys := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			err := repo.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
				last, err := tx.FindNeighbor(ctx, "staging", "", false, "")
				if err != nil {
					return err
				}
				rank := "V"
				if last != nil {
					rank = last.Rank + "V"
				}
				return tx.Upsert(ctx, "staging", "E"+k, rank)
			})
			if err != nil {
				t.Errorf("WithContextLock failed: %v", err)
			}
		}(k)
	}
	wg.Wait()

	records, _ := repo.ListOrdered(ctx, "staging")
	if len(records) != len(keys) {
		t.Errorf("expected %d entries, got %d", len(keys), len(records))
	}
}

func TestOrderRepository_BusyDatabaseIsConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	dsn := "file:" + path + "?_txlock=immediate&_busy_timeout=0"

	first, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	first.SetMaxOpenConns(1)
	if _, err := first.Exec(db.GetSchemaSQL()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	second, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { second.Close() })
	second.SetMaxOpenConns(1)

	holder := sqlite.NewOrderRepository(first)
	contender := sqlite.NewOrderRepository(second)
	ctx := context.Background()

	err = holder.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.Upsert(ctx, "staging", "T1", "V"); err != nil {
			return err
		}
		// Another process tries to write while this transaction is open.
		return contender.WithContextLock(ctx, "staging", func(other secondary.OrderingStore) error {
			return other.Upsert(ctx, "staging", "T2", "W")
		})
	})
	if !errors.Is(err, secondary.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestOrderRepository_ReadContextDoesNotWaitForWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "read.db")
	dsn := "file:" + path + "?_txlock=immediate&_busy_timeout=0"

	first, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	first.SetMaxOpenConns(1)
	if _, err := first.Exec(db.GetSchemaSQL()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	second, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { second.Close() })
	second.SetMaxOpenConns(1)

	writer := sqlite.NewOrderRepository(first)
	reader := sqlite.NewOrderRepository(second)
	ctx := context.Background()

	if err := writer.Upsert(ctx, "staging", "T1", "V"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	err = writer.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.DeleteContext(ctx, "staging"); err != nil {
			return err
		}
		if err := tx.Upsert(ctx, "staging", "T2", "W"); err != nil {
			return err
		}
		// Another process reads while the rewrite is uncommitted.
		return reader.ReadContext(ctx, "staging", func(view secondary.OrderingStore) error {
			records, err := view.ListOrdered(ctx, "staging")
			if err != nil {
				return err
			}
			if got := entityIDs(records); len(got) != 1 || got[0] != "T1" {
				t.Errorf("expected the committed [T1], got %v", got)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("expected the read to succeed alongside the writer, got %v", err)
	}
}

func TestOrderRepository_ReadContextRejectsWrites(t *testing.T) {
	repo := sqlite.NewOrderRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.ReadContext(ctx, "staging", func(view secondary.OrderingStore) error {
		return view.Upsert(ctx, "staging", "T1", "V")
	})
	if err == nil {
		t.Fatal("expected a write through a read view to fail")
	}

	records, err := repo.ListOrdered(ctx, "staging")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected nothing written, got %v", entityIDs(records))
	}
}
