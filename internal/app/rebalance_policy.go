package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/daybook/internal/core/rank"
	"github.com/example/daybook/internal/ctxutil"
	"github.com/example/daybook/internal/ports/secondary"
)

// DefaultRebalanceWidth is the key width used when a context is respread.
// Two symbols give 4096 evenly spaced slots.
const DefaultRebalanceWidth = 2

// RebalancePolicy rewrites a whole context with evenly spaced keys.
// It must run inside the store's context lock; it is never exposed to
// external callers.
type RebalancePolicy struct {
	width     int
	maxLength int
	logger    *slog.Logger
}

// NewRebalancePolicy creates a RebalancePolicy. Non-positive widths select
// DefaultRebalanceWidth and non-positive lengths rank.DefaultMaxLength.
// The width never exceeds maxLength.
func NewRebalancePolicy(width, maxLength int, logger *slog.Logger) *RebalancePolicy {
	if width <= 0 {
		width = DefaultRebalanceWidth
	}
	if maxLength <= 0 {
		maxLength = rank.DefaultMaxLength
	}
	if width > maxLength {
		width = maxLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RebalancePolicy{width: width, maxLength: maxLength, logger: logger}
}

// Rebalance reassigns every entry of the context, preserving relative order.
// store must be the locked view handed out by WithContextLock so the rewrite
// commits or rolls back as a unit. Returns the number of entries rewritten,
// or rank.ErrExhausted without writing when the entries cannot fit in keys
// of maxLength symbols.
func (p *RebalancePolicy) Rebalance(ctx context.Context, store secondary.OrderingStore, contextKey string) (int, error) {
	entries, err := store.ListOrdered(ctx, contextKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read context for rebalance: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	keys := rank.Spread(len(entries), p.width)
	for _, k := range keys {
		if len(k) > p.maxLength {
			return 0, fmt.Errorf("%w: %d entries do not fit in %d-symbol keys",
				rank.ErrExhausted, len(entries), p.maxLength)
		}
	}

	// Clear first so new keys never collide with old ones mid-rewrite.
	if err := store.DeleteContext(ctx, contextKey); err != nil {
		return 0, fmt.Errorf("failed to clear context for rebalance: %w", err)
	}
	for i, e := range entries {
		if err := store.Upsert(ctx, contextKey, e.EntityID, keys[i].String()); err != nil {
			return 0, fmt.Errorf("failed to rewrite rank for %s: %w", e.EntityID, err)
		}
	}

	p.logger.InfoContext(ctx, "rebalanced ordering context",
		append(ctxutil.LogAttrs(ctx),
			"context", contextKey,
			"entries", len(entries),
			"width", p.width,
		)...)
	return len(entries), nil
}
