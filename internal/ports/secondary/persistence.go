// Package secondary defines the secondary ports (driven adapters) for the application.
// These are the interfaces through which the application drives external systems.
package secondary

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by WithContextLock when the context was changed
	// concurrently (optimistic version mismatch or a busy database lock).
	// The ordering service retries it.
	ErrConflict = errors.New("ordering context modified concurrently")

	// ErrStoreUnavailable wraps store failures that survive the service's
	// retry budget.
	ErrStoreUnavailable = errors.New("ordering store unavailable")

	// ErrCommitTooLarge is returned by WithContextLock when the writes of a
	// locked section exceed what the store can commit atomically. Retrying
	// cannot help.
	ErrCommitTooLarge = errors.New("ordering commit exceeds store limit")
)

// OrderingStore defines the secondary port for order entry persistence.
// Entries are scoped to a context; ranks compare as raw strings.
type OrderingStore interface {
	// FindRank retrieves an entity's entry in a context (nil if absent).
	FindRank(ctx context.Context, contextKey, entityID string) (*OrderEntryRecord, error)

	// FindNeighbor retrieves the nearest entry strictly after (after=true) or
	// strictly before (after=false) the given rank, skipping excludeEntityID.
	// An empty rank means the start of the context when searching after and
	// the end of the context when searching before. Returns nil if none.
	FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*OrderEntryRecord, error)

	// Upsert creates or replaces an entity's rank in a context.
	Upsert(ctx context.Context, contextKey, entityID, rank string) error

	// ListOrdered retrieves all entries of a context ascending by rank.
	ListOrdered(ctx context.Context, contextKey string) ([]*OrderEntryRecord, error)

	// Delete removes an entity's entry from a context. Missing entries are not an error.
	Delete(ctx context.Context, contextKey, entityID string) error

	// DeleteContext removes every entry of a context. Idempotent.
	DeleteContext(ctx context.Context, contextKey string) error

	// WithContextLock runs fn with exclusive access to the context. The store
	// passed to fn reads and writes the context atomically: its writes are
	// committed when fn returns nil and discarded otherwise. The lock is
	// released on every exit path.
	WithContextLock(ctx context.Context, contextKey string, fn func(store OrderingStore) error) error
}

// SnapshotReader is implemented by stores that can serve a consistent
// read-only view of a context without taking its write lock.
type SnapshotReader interface {
	// ReadContext runs fn against a committed snapshot of the context.
	// Writes through the store passed to fn fail.
	ReadContext(ctx context.Context, contextKey string, fn func(store OrderingStore) error) error
}

// ContextLister is implemented by stores that can enumerate their contexts.
type ContextLister interface {
	// ListContexts returns every context holding at least one entry, sorted.
	ListContexts(ctx context.Context) ([]string, error)
}

// OrderEntryRecord represents an order entry as stored in persistence.
type OrderEntryRecord struct {
	Context   string
	EntityID  string
	Rank      string
	UpdatedAt string
}
