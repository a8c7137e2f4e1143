package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/example/daybook/internal/ports/secondary"
)

// txView is the store handed to WithContextLock callbacks. Reads and writes
// go to an in-memory copy of the snapshot; the Store commits the difference.
type txView struct {
	contextKey string
	original   map[string]entryItem
	entries    map[string]entryItem
	now        func() time.Time
}

func newTxView(contextKey string, snap *snapshot, now func() time.Time) *txView {
	entries := make(map[string]entryItem, len(snap.entries))
	for id, e := range snap.entries {
		entries[id] = e
	}
	return &txView{
		contextKey: contextKey,
		original:   snap.entries,
		entries:    entries,
		now:        now,
	}
}

func (v *txView) check(contextKey string) error {
	if contextKey != v.contextKey {
		return fmt.Errorf("context %s is not held by this lock (holding %s)", contextKey, v.contextKey)
	}
	return nil
}

func (v *txView) FindRank(ctx context.Context, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	e, ok := v.entries[entityID]
	if !ok {
		return nil, nil
	}
	return toRecord(e), nil
}

func (v *txView) FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	return findNeighbor(v.entries, rank, after, excludeEntityID), nil
}

func (v *txView) Upsert(ctx context.Context, contextKey, entityID, rank string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	for id, e := range v.entries {
		if id != entityID && e.Rank == rank {
			return fmt.Errorf("failed to upsert %s: rank %q already held by %s in context %s", entityID, rank, id, contextKey)
		}
	}
	v.entries[entityID] = entryItem{
		Context:   contextKey,
		SK:        entryPrefix + entityID,
		EntityID:  entityID,
		Rank:      rank,
		UpdatedAt: v.now().UTC().Format(time.RFC3339),
	}
	return nil
}

func (v *txView) ListOrdered(ctx context.Context, contextKey string) ([]*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	return listOrdered(v.entries), nil
}

func (v *txView) Delete(ctx context.Context, contextKey, entityID string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	delete(v.entries, entityID)
	return nil
}

func (v *txView) DeleteContext(ctx context.Context, contextKey string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	v.entries = make(map[string]entryItem)
	return nil
}

func (v *txView) WithContextLock(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	return fn(v)
}

// diff returns the items to put and the entity ids to delete. An entity
// deleted and re-added with its old rank produces no write.
func (v *txView) diff() (puts []entryItem, deletes []string) {
	for id, e := range v.entries {
		if old, ok := v.original[id]; ok && old.Rank == e.Rank {
			continue
		}
		puts = append(puts, e)
	}
	for id := range v.original {
		if _, ok := v.entries[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	return puts, deletes
}

var _ secondary.OrderingStore = (*txView)(nil)
