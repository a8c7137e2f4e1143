// Package memory contains an in-process implementation of the ordering store.
// It is used by tests and by the "memory" backend for throwaway sessions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/daybook/internal/keylock"
	"github.com/example/daybook/internal/ports/secondary"
)

type entry struct {
	rank      string
	updatedAt string
}

// OrderStore implements secondary.OrderingStore in memory.
// Locked sections work on a copy of the context that is swapped in on success.
type OrderStore struct {
	mu       sync.RWMutex
	contexts map[string]map[string]entry
	locks    keylock.Map
	now      func() time.Time
}

// NewOrderStore creates an empty in-memory ordering store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		contexts: make(map[string]map[string]entry),
		now:      time.Now,
	}
}

// FindRank retrieves an entity's entry in a context (nil if absent).
func (s *OrderStore) FindRank(ctx context.Context, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRank(s.contexts[contextKey], contextKey, entityID), nil
}

// FindNeighbor retrieves the nearest entry before or after rank.
func (s *OrderStore) FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*secondary.OrderEntryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findNeighbor(s.contexts[contextKey], contextKey, rank, after, excludeEntityID), nil
}

// Upsert creates or replaces an entity's rank in a context.
func (s *OrderStore) Upsert(ctx context.Context, contextKey, entityID, rank string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.contexts[contextKey]
	if entries == nil {
		entries = make(map[string]entry)
		s.contexts[contextKey] = entries
	}
	return upsert(entries, contextKey, entityID, rank, s.stamp())
}

// ListOrdered retrieves all entries of a context ascending by rank.
func (s *OrderStore) ListOrdered(ctx context.Context, contextKey string) ([]*secondary.OrderEntryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOrdered(s.contexts[contextKey], contextKey), nil
}

// Delete removes an entity's entry from a context.
func (s *OrderStore) Delete(ctx context.Context, contextKey, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.contexts[contextKey]; ok {
		delete(entries, entityID)
		if len(entries) == 0 {
			delete(s.contexts, contextKey)
		}
	}
	return nil
}

// DeleteContext removes every entry of a context.
func (s *OrderStore) DeleteContext(ctx context.Context, contextKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextKey)
	return nil
}

// ListContexts returns every non-empty context, sorted.
func (s *OrderStore) ListContexts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.contexts))
	for k := range s.contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// WithContextLock runs fn against a private copy of the context and
// publishes the copy only if fn succeeds.
func (s *OrderStore) WithContextLock(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	release, err := s.locks.Acquire(ctx, contextKey)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	working := make(map[string]entry, len(s.contexts[contextKey]))
	for id, e := range s.contexts[contextKey] {
		working[id] = e
	}
	s.mu.RUnlock()

	view := &lockedView{parent: s, contextKey: contextKey, entries: working}
	if err := fn(view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(view.entries) == 0 {
		delete(s.contexts, contextKey)
	} else {
		s.contexts[contextKey] = view.entries
	}
	return nil
}

func (s *OrderStore) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// lockedView is the store handed to WithContextLock callbacks. It only
// serves the locked context.
type lockedView struct {
	parent     *OrderStore
	contextKey string
	entries    map[string]entry
}

func (v *lockedView) check(contextKey string) error {
	if contextKey != v.contextKey {
		return fmt.Errorf("context %s is not held by this lock (holding %s)", contextKey, v.contextKey)
	}
	return nil
}

func (v *lockedView) FindRank(ctx context.Context, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	return findRank(v.entries, contextKey, entityID), nil
}

func (v *lockedView) FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	return findNeighbor(v.entries, contextKey, rank, after, excludeEntityID), nil
}

func (v *lockedView) Upsert(ctx context.Context, contextKey, entityID, rank string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	return upsert(v.entries, contextKey, entityID, rank, v.parent.stamp())
}

func (v *lockedView) ListOrdered(ctx context.Context, contextKey string) ([]*secondary.OrderEntryRecord, error) {
	if err := v.check(contextKey); err != nil {
		return nil, err
	}
	return listOrdered(v.entries, contextKey), nil
}

func (v *lockedView) Delete(ctx context.Context, contextKey, entityID string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	delete(v.entries, entityID)
	return nil
}

func (v *lockedView) DeleteContext(ctx context.Context, contextKey string) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	v.entries = make(map[string]entry)
	return nil
}

func (v *lockedView) WithContextLock(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	if err := v.check(contextKey); err != nil {
		return err
	}
	return fn(v)
}

func findRank(entries map[string]entry, contextKey, entityID string) *secondary.OrderEntryRecord {
	e, ok := entries[entityID]
	if !ok {
		return nil
	}
	return toRecord(contextKey, entityID, e)
}

func findNeighbor(entries map[string]entry, contextKey, rank string, after bool, excludeEntityID string) *secondary.OrderEntryRecord {
	var (
		bestID string
		best   entry
		found  bool
	)
	for id, e := range entries {
		if id == excludeEntityID {
			continue
		}
		if after {
			if rank != "" && e.rank <= rank {
				continue
			}
			if !found || e.rank < best.rank {
				bestID, best, found = id, e, true
			}
		} else {
			if rank != "" && e.rank >= rank {
				continue
			}
			if !found || e.rank > best.rank {
				bestID, best, found = id, e, true
			}
		}
	}
	if !found {
		return nil
	}
	return toRecord(contextKey, bestID, best)
}

func upsert(entries map[string]entry, contextKey, entityID, rank, stamp string) error {
	for id, e := range entries {
		if id != entityID && e.rank == rank {
			return fmt.Errorf("failed to upsert %s: rank %q already held by %s in context %s", entityID, rank, id, contextKey)
		}
	}
	entries[entityID] = entry{rank: rank, updatedAt: stamp}
	return nil
}

func listOrdered(entries map[string]entry, contextKey string) []*secondary.OrderEntryRecord {
	records := make([]*secondary.OrderEntryRecord, 0, len(entries))
	for id, e := range entries {
		records = append(records, toRecord(contextKey, id, e))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Rank != records[j].Rank {
			return records[i].Rank < records[j].Rank
		}
		return records[i].EntityID < records[j].EntityID
	})
	return records
}

func toRecord(contextKey, entityID string, e entry) *secondary.OrderEntryRecord {
	return &secondary.OrderEntryRecord{
		Context:   contextKey,
		EntityID:  entityID,
		Rank:      e.rank,
		UpdatedAt: e.updatedAt,
	}
}

// Ensure OrderStore implements the interfaces.
var (
	_ secondary.OrderingStore = (*OrderStore)(nil)
	_ secondary.ContextLister = (*OrderStore)(nil)
	_ secondary.OrderingStore = (*lockedView)(nil)
)
