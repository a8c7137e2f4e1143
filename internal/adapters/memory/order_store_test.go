package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/daybook/internal/adapters/memory"
	"github.com/example/daybook/internal/ports/secondary"
)

func seed(t *testing.T, store *memory.OrderStore, contextKey string, pairs ...string) {
	t.Helper()
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := store.Upsert(context.Background(), contextKey, pairs[i], pairs[i+1]); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", pairs[i], err)
		}
	}
}

func ids(records []*secondary.OrderEntryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.EntityID
	}
	return out
}

func TestOrderStore_ListOrdered(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()
	seed(t, store, "staging", "T2", "W", "T1", "V", "T3", "VV")
	seed(t, store, "other", "X1", "A")

	records, err := store.ListOrdered(ctx, "staging")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	got := ids(records)
	want := []string{"T1", "T3", "T2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if records[0].UpdatedAt == "" {
		t.Error("expected UpdatedAt to be set")
	}

	empty, err := store.ListOrdered(ctx, "nope")
	if err != nil {
		t.Fatalf("ListOrdered failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", empty)
	}
}

func TestOrderStore_FindRank(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()
	seed(t, store, "staging", "T1", "V")

	rec, err := store.FindRank(ctx, "staging", "T1")
	if err != nil {
		t.Fatalf("FindRank failed: %v", err)
	}
	if rec == nil || rec.Rank != "V" {
		t.Fatalf("expected rank V, got %+v", rec)
	}

	rec, err = store.FindRank(ctx, "other", "T1")
	if err != nil {
		t.Fatalf("FindRank failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for entity in another context, got %+v", rec)
	}
}

func TestOrderStore_FindNeighbor(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()
	seed(t, store, "staging", "A", "V", "B", "W", "C", "X")

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
		{"after last", "X", true, "", ""},
		{"first", "", true, "", "A"},
		{"last", "", false, "", "C"},
		{"last excluding C", "", false, "C", "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := store.FindNeighbor(ctx, "staging", tt.rank, tt.after, tt.exclude)
			if err != nil {
				t.Fatalf("FindNeighbor failed: %v", err)
			}
			got := ""
			if rec != nil {
				got = rec.EntityID
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOrderStore_UpsertRejectsDuplicateRank(t *testing.T) {
	store := memory.NewOrderStore()
	seed(t, store, "staging", "T1", "V")

	if err := store.Upsert(context.Background(), "staging", "T2", "V"); err == nil {
		t.Fatal("expected error for duplicate rank")
	}
	// Re-saving an entity's own rank is fine.
	if err := store.Upsert(context.Background(), "staging", "T1", "V"); err != nil {
		t.Fatalf("expected self upsert to succeed, got %v", err)
	}
}

func TestOrderStore_DeleteAndDeleteContext(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()
	seed(t, store, "staging", "T1", "V", "T2", "W")

	if err := store.Delete(ctx, "staging", "T1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "staging", "missing"); err != nil {
		t.Fatalf("Delete of missing entry should not fail: %v", err)
	}
	records, _ := store.ListOrdered(ctx, "staging")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	if err := store.DeleteContext(ctx, "staging"); err != nil {
		t.Fatalf("DeleteContext failed: %v", err)
	}
	if err := store.DeleteContext(ctx, "staging"); err != nil {
		t.Fatalf("second DeleteContext failed: %v", err)
	}
	contexts, _ := store.ListContexts(ctx)
	if len(contexts) != 0 {
		t.Errorf("expected no contexts, got %v", contexts)
	}
}

func TestOrderStore_WithContextLock_CommitsOnSuccess(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()

	err := store.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.Upsert(ctx, "staging", "T1", "V"); err != nil {
			return err
		}
		// Not visible outside the lock until commit.
		outside, _ := store.ListOrdered(ctx, "staging")
		if len(outside) != 0 {
			t.Errorf("expected uncommitted write to be invisible, got %d entries", len(outside))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithContextLock failed: %v", err)
	}

	records, _ := store.ListOrdered(ctx, "staging")
	if len(records) != 1 {
		t.Fatalf("expected 1 committed entry, got %d", len(records))
	}
}

func TestOrderStore_WithContextLock_RollsBackOnError(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()
	seed(t, store, "staging", "T1", "V", "T2", "W")
	boom := errors.New("boom")

	err := store.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		if err := tx.DeleteContext(ctx, "staging"); err != nil {
			return err
		}
		if err := tx.Upsert(ctx, "staging", "T1", "A"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	records, _ := store.ListOrdered(ctx, "staging")
	if len(records) != 2 || records[0].Rank != "V" || records[1].Rank != "W" {
		t.Errorf("expected original entries to survive, got %+v", records)
	}
}

func TestOrderStore_WithContextLock_RejectsOtherContext(t *testing.T) {
	store := memory.NewOrderStore()
	ctx := context.Background()

	err := store.WithContextLock(ctx, "staging", func(tx secondary.OrderingStore) error {
		return tx.Upsert(ctx, "other", "T1", "V")
	})
	if err == nil {
		t.Fatal("expected error writing a context the lock does not hold")
	}
}
