package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/daybook/internal/core/ordering"
	"github.com/example/daybook/internal/core/rank"
	"github.com/example/daybook/internal/ctxutil"
	"github.com/example/daybook/internal/ports/primary"
	"github.com/example/daybook/internal/ports/secondary"
)

// DefaultMaxAttempts bounds how often a conflicting context lock is retried.
const DefaultMaxAttempts = 3

// OrderingOptions configures an OrderingServiceImpl. Zero values select defaults.
type OrderingOptions struct {
	MaxKeyLength   int
	MaxAttempts    int
	RebalanceWidth int
	Logger         *slog.Logger
}

// OrderingServiceImpl implements the OrderingService interface.
type OrderingServiceImpl struct {
	store       secondary.OrderingStore
	allocator   rank.Allocator
	rebalancer  *RebalancePolicy
	maxAttempts int
	logger      *slog.Logger
}

// NewOrderingService creates a new OrderingService with injected dependencies.
func NewOrderingService(store secondary.OrderingStore, opts OrderingOptions) *OrderingServiceImpl {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &OrderingServiceImpl{
		store:       store,
		allocator:   rank.NewAllocator(opts.MaxKeyLength),
		rebalancer:  NewRebalancePolicy(opts.RebalanceWidth, opts.MaxKeyLength, logger),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// GetContextOrdering retrieves a context's entries in ascending rank order.
func (s *OrderingServiceImpl) GetContextOrdering(ctx context.Context, contextKey string) ([]*primary.OrderEntry, error) {
	var records []*secondary.OrderEntryRecord
	err := s.readContext(ctx, contextKey, "get ordering", func(store secondary.OrderingStore) error {
		var err error
		records, err = store.ListOrdered(ctx, contextKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ordering: %w", err)
	}

	if err := s.checkRecords(records); err != nil {
		s.logger.ErrorContext(ctx, "ordering invariant violated",
			append(ctxutil.LogAttrs(ctx), "context", contextKey, "error", err)...)
		return nil, fmt.Errorf("%w: context %s: %v", primary.ErrOrderingCorrupt, contextKey, err)
	}

	entries := make([]*primary.OrderEntry, len(records))
	for i, r := range records {
		entries[i] = s.recordToEntry(r)
	}
	return entries, nil
}

// UpdateOrder positions an entity between optional neighbors.
func (s *OrderingServiceImpl) UpdateOrder(ctx context.Context, req primary.UpdateOrderRequest) (*primary.UpdateOrderResponse, error) {
	if err := validateMoveTarget(req.Context, req.EntityID); err != nil {
		return nil, err
	}

	var resp *primary.UpdateOrderResponse
	err := s.withContextLock(ctx, req.Context, "update order", func(store secondary.OrderingStore) error {
		var err error
		resp, err = s.place(ctx, store, req.Context, primary.Move{
			EntityID:     req.EntityID,
			PrevEntityID: req.PrevEntityID,
			NextEntityID: req.NextEntityID,
		})
		return err
	})
	if errors.Is(err, secondary.ErrCommitTooLarge) {
		// A single move writes one entry; only a rebalance can overflow.
		return nil, fmt.Errorf("%w: %w", primary.ErrRankSpaceExhausted, err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "updated order",
		append(ctxutil.LogAttrs(ctx), "context", req.Context, "entity", req.EntityID, "rank", resp.Rank)...)
	return resp, nil
}

// BatchUpdateOrdering applies moves strictly in the given order as one unit.
// Either every move is persisted or none is.
func (s *OrderingServiceImpl) BatchUpdateOrdering(ctx context.Context, req primary.BatchUpdateOrderingRequest) (*primary.BatchUpdateOrderingResponse, error) {
	if req.Context == "" {
		return nil, fmt.Errorf("context is required")
	}
	for i, m := range req.Moves {
		if err := validateMoveTarget(req.Context, m.EntityID); err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
	}

	operationID := uuid.Must(uuid.NewV7()).String()
	ctx = ctxutil.WithOperationID(ctx, operationID)

	var results []*primary.UpdateOrderResponse
	err := s.withContextLock(ctx, req.Context, "batch update", func(store secondary.OrderingStore) error {
		results = make([]*primary.UpdateOrderResponse, 0, len(req.Moves))
		for i, m := range req.Moves {
			resp, err := s.place(ctx, store, req.Context, m)
			if err != nil {
				return fmt.Errorf("move %d (%s): %w", i+1, m.EntityID, err)
			}
			results = append(results, resp)
		}
		return nil
	})

	rebalanced := false
	for _, r := range results {
		rebalanced = rebalanced || r.Rebalanced
	}
	if rebalanced && errors.Is(err, secondary.ErrCommitTooLarge) {
		return nil, fmt.Errorf("%w: %w", primary.ErrRankSpaceExhausted, err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "applied batch ordering",
		append(ctxutil.LogAttrs(ctx), "context", req.Context, "moves", len(results), "rebalanced", rebalanced)...)

	return &primary.BatchUpdateOrderingResponse{
		OperationID: operationID,
		Results:     results,
		Rebalanced:  rebalanced,
	}, nil
}

// CalculateSortOrder computes a rank between two ranks without touching
// storage. The result is advisory; UpdateOrder remains authoritative.
func (s *OrderingServiceImpl) CalculateSortOrder(ctx context.Context, prevRank, nextRank string) (string, error) {
	lower, err := rank.Parse(prevRank)
	if err != nil {
		return "", fmt.Errorf("failed to parse previous rank: %w", err)
	}
	upper, err := rank.Parse(nextRank)
	if err != nil {
		return "", fmt.Errorf("failed to parse next rank: %w", err)
	}

	key, err := s.allocator.Midpoint(lower, upper)
	if err != nil {
		return "", fmt.Errorf("failed to calculate sort order: %w", err)
	}
	return key.String(), nil
}

// ClearContextOrdering removes every entry of a context. Idempotent.
func (s *OrderingServiceImpl) ClearContextOrdering(ctx context.Context, contextKey string) error {
	if contextKey == "" {
		return fmt.Errorf("context is required")
	}
	err := s.withContextLock(ctx, contextKey, "clear", func(store secondary.OrderingStore) error {
		return store.DeleteContext(ctx, contextKey)
	})
	if err != nil {
		return fmt.Errorf("failed to clear context %s: %w", contextKey, err)
	}

	s.logger.InfoContext(ctx, "cleared ordering context",
		append(ctxutil.LogAttrs(ctx), "context", contextKey)...)
	return nil
}

// RemoveFromContext removes one entity's entry from a context. Idempotent.
func (s *OrderingServiceImpl) RemoveFromContext(ctx context.Context, contextKey, entityID string) error {
	if err := validateMoveTarget(contextKey, entityID); err != nil {
		return err
	}
	err := s.withContextLock(ctx, contextKey, "remove", func(store secondary.OrderingStore) error {
		return store.Delete(ctx, contextKey, entityID)
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s from context %s: %w", entityID, contextKey, err)
	}
	return nil
}

// CheckOrdering verifies every context in the store. The store must
// implement secondary.ContextLister.
func (s *OrderingServiceImpl) CheckOrdering(ctx context.Context) ([]*primary.ContextReport, error) {
	lister, ok := s.store.(secondary.ContextLister)
	if !ok {
		return nil, fmt.Errorf("ordering store does not support listing contexts")
	}

	contexts, err := lister.ListContexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	reports := make([]*primary.ContextReport, 0, len(contexts))
	for _, contextKey := range contexts {
		entries, err := s.GetContextOrdering(ctx, contextKey)
		report := &primary.ContextReport{Context: contextKey, Entries: len(entries)}
		if err != nil {
			if !errors.Is(err, primary.ErrOrderingCorrupt) {
				return nil, err
			}
			report.Problem = err.Error()
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// place computes and persists a rank for one move. store must be the
// locked view of the context.
func (s *OrderingServiceImpl) place(ctx context.Context, store secondary.OrderingStore, contextKey string, m primary.Move) (*primary.UpdateOrderResponse, error) {
	if res := ordering.CanMove(ordering.MoveContext{
		Context:      contextKey,
		EntityID:     m.EntityID,
		PrevEntityID: m.PrevEntityID,
		NextEntityID: m.NextEntityID,
	}); !res.Allowed {
		return nil, fmt.Errorf("%w: %w", primary.ErrInvalidNeighbor, res.Error())
	}

	lower, upper, err := s.resolveBounds(ctx, store, contextKey, m)
	if err != nil {
		return nil, err
	}

	rebalanced := false
	key, err := s.allocator.Midpoint(lower, upper)
	if errors.Is(err, rank.ErrExhausted) {
		if _, err := s.rebalancer.Rebalance(ctx, store, contextKey); err != nil {
			if errors.Is(err, rank.ErrExhausted) {
				return nil, fmt.Errorf("%w: context %s: %v", primary.ErrRankSpaceExhausted, contextKey, err)
			}
			return nil, err
		}
		rebalanced = true

		lower, upper, err = s.resolveBounds(ctx, store, contextKey, m)
		if err != nil {
			return nil, err
		}
		key, err = s.allocator.Midpoint(lower, upper)
		if errors.Is(err, rank.ErrExhausted) {
			return nil, fmt.Errorf("%w: context %s: %v", primary.ErrRankSpaceExhausted, contextKey, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute rank in context %s: %w", contextKey, err)
	}

	if err := store.Upsert(ctx, contextKey, m.EntityID, key.String()); err != nil {
		return nil, fmt.Errorf("failed to save rank for %s: %w", m.EntityID, err)
	}

	return &primary.UpdateOrderResponse{
		EntityID:   m.EntityID,
		Rank:       key.String(),
		Rebalanced: rebalanced,
	}, nil
}

// resolveBounds turns the named neighbors into the pair of ranks the new key
// must fall between. The moving entity is ignored so that its current
// position never bounds its new one.
func (s *OrderingServiceImpl) resolveBounds(ctx context.Context, store secondary.OrderingStore, contextKey string, m primary.Move) (rank.Key, rank.Key, error) {
	prev, err := s.findNeighbor(ctx, store, contextKey, m.PrevEntityID)
	if err != nil {
		return "", "", err
	}
	next, err := s.findNeighbor(ctx, store, contextKey, m.NextEntityID)
	if err != nil {
		return "", "", err
	}

	guard := ordering.NeighborContext{
		Context:      contextKey,
		PrevEntityID: m.PrevEntityID,
		NextEntityID: m.NextEntityID,
	}
	if prev != nil {
		guard.PrevExists, guard.PrevRank = true, prev.Rank
	}
	if next != nil {
		guard.NextExists, guard.NextRank = true, next.Rank
	}
	if res := ordering.CanUseNeighbors(guard); !res.Allowed {
		return "", "", fmt.Errorf("%w: %w", primary.ErrInvalidNeighbor, res.Error())
	}

	var lower, upper string
	switch {
	case prev != nil:
		// Insert directly after prev; anything between prev and next wins
		// over next as the upper bound.
		lower = prev.Rank
		succ, err := store.FindNeighbor(ctx, contextKey, prev.Rank, true, m.EntityID)
		if err != nil {
			return "", "", fmt.Errorf("failed to find successor of %s: %w", prev.EntityID, err)
		}
		if succ != nil {
			upper = succ.Rank
		}
	case next != nil:
		upper = next.Rank
		pred, err := store.FindNeighbor(ctx, contextKey, next.Rank, false, m.EntityID)
		if err != nil {
			return "", "", fmt.Errorf("failed to find predecessor of %s: %w", next.EntityID, err)
		}
		if pred != nil {
			lower = pred.Rank
		}
	default:
		last, err := store.FindNeighbor(ctx, contextKey, "", false, m.EntityID)
		if err != nil {
			return "", "", fmt.Errorf("failed to find last entry: %w", err)
		}
		if last != nil {
			lower = last.Rank
		}
	}

	return rank.Key(lower), rank.Key(upper), nil
}

func (s *OrderingServiceImpl) findNeighbor(ctx context.Context, store secondary.OrderingStore, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	if entityID == "" {
		return nil, nil
	}
	record, err := store.FindRank(ctx, contextKey, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up neighbor %s: %w", entityID, err)
	}
	return record, nil
}

// withContextLock runs fn under the store's context lock, retrying
// conflicts up to maxAttempts times.
func (s *OrderingServiceImpl) withContextLock(ctx context.Context, contextKey, op string, fn func(secondary.OrderingStore) error) error {
	return s.retry(ctx, contextKey, op, func() error {
		return s.store.WithContextLock(ctx, contextKey, fn)
	})
}

// readContext runs a read-only fn on a committed snapshot when the store
// offers one and under the context lock otherwise.
func (s *OrderingServiceImpl) readContext(ctx context.Context, contextKey, op string, fn func(secondary.OrderingStore) error) error {
	reader, ok := s.store.(secondary.SnapshotReader)
	if !ok {
		return s.withContextLock(ctx, contextKey, op, fn)
	}
	return s.retry(ctx, contextKey, op, func() error {
		return reader.ReadContext(ctx, contextKey, fn)
	})
}

func (s *OrderingServiceImpl) retry(ctx context.Context, contextKey, op string, run func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = run()
		if err == nil || !errors.Is(err, secondary.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.WarnContext(ctx, "ordering context conflict, retrying",
			append(ctxutil.LogAttrs(ctx), "context", contextKey, "op", op, "attempt", attempt)...)
	}
	return fmt.Errorf("%w: %s on context %s gave up after %d attempts: %v",
		secondary.ErrStoreUnavailable, op, contextKey, s.maxAttempts, err)
}

func (s *OrderingServiceImpl) checkRecords(records []*secondary.OrderEntryRecord) error {
	ranked := make([]ordering.RankedEntity, len(records))
	for i, r := range records {
		if err := rank.Key(r.Rank).Validate(); err != nil {
			return fmt.Errorf("entity %s: %w", r.EntityID, err)
		}
		ranked[i] = ordering.RankedEntity{EntityID: r.EntityID, Rank: r.Rank}
	}
	return ordering.CheckStrictOrder(ranked)
}

func validateMoveTarget(contextKey, entityID string) error {
	if contextKey == "" {
		return fmt.Errorf("context is required")
	}
	if entityID == "" {
		return fmt.Errorf("entity id is required")
	}
	return nil
}

// Helper methods

func (s *OrderingServiceImpl) recordToEntry(r *secondary.OrderEntryRecord) *primary.OrderEntry {
	return &primary.OrderEntry{
		Context:   r.Context,
		EntityID:  r.EntityID,
		Rank:      r.Rank,
		UpdatedAt: r.UpdatedAt,
	}
}

// Ensure OrderingServiceImpl implements the interface.
var _ primary.OrderingService = (*OrderingServiceImpl)(nil)
