package primary

import (
	"context"
	"errors"
)

var (
	// ErrInvalidNeighbor is returned when a named neighbor has no entry in the
	// target context, or the neighbors cannot bound a position.
	ErrInvalidNeighbor = errors.New("invalid neighbor")

	// ErrRankSpaceExhausted is returned when no key fits even after a rebalance.
	ErrRankSpaceExhausted = errors.New("rank space exhausted after rebalance")

	// ErrOrderingCorrupt is returned when a read observes duplicate or
	// out-of-order ranks.
	ErrOrderingCorrupt = errors.New("ordering invariant violated")
)

// OrderingService defines the primary port for ordering operations.
type OrderingService interface {
	// GetContextOrdering retrieves a context's entries in ascending rank order.
	GetContextOrdering(ctx context.Context, contextKey string) ([]*OrderEntry, error)

	// UpdateOrder positions an entity between optional neighbors.
	UpdateOrder(ctx context.Context, req UpdateOrderRequest) (*UpdateOrderResponse, error)

	// BatchUpdateOrdering applies moves in order as one atomic unit.
	BatchUpdateOrdering(ctx context.Context, req BatchUpdateOrderingRequest) (*BatchUpdateOrderingResponse, error)

	// CalculateSortOrder computes a rank between two ranks without persisting.
	CalculateSortOrder(ctx context.Context, prevRank, nextRank string) (string, error)

	// ClearContextOrdering removes every entry of a context.
	ClearContextOrdering(ctx context.Context, contextKey string) error

	// RemoveFromContext removes one entity's entry from a context.
	RemoveFromContext(ctx context.Context, contextKey, entityID string) error

	// CheckOrdering verifies every context the store knows about.
	CheckOrdering(ctx context.Context) ([]*ContextReport, error)
}

// UpdateOrderRequest contains parameters for positioning one entity.
type UpdateOrderRequest struct {
	Context      string
	EntityID     string
	PrevEntityID string // optional
	NextEntityID string // optional
}

// UpdateOrderResponse contains the result of positioning one entity.
type UpdateOrderResponse struct {
	EntityID   string
	Rank       string
	Rebalanced bool
}

// Move is one step of a batch update.
type Move struct {
	EntityID     string `yaml:"entity"`
	PrevEntityID string `yaml:"after,omitempty"`
	NextEntityID string `yaml:"before,omitempty"`
}

// BatchUpdateOrderingRequest contains parameters for a batch update.
type BatchUpdateOrderingRequest struct {
	Context string
	Moves   []Move
}

// BatchUpdateOrderingResponse contains the result of a batch update.
type BatchUpdateOrderingResponse struct {
	OperationID string
	Results     []*UpdateOrderResponse
	Rebalanced  bool
}

// OrderEntry represents an order entry at the port boundary.
type OrderEntry struct {
	Context   string
	EntityID  string
	Rank      string
	UpdatedAt string
}

// ContextReport is the outcome of checking one context.
type ContextReport struct {
	Context string
	Entries int
	Problem string // empty when healthy
}
