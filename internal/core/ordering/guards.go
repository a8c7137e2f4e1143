// Package ordering contains the pure business logic for ordering operations.
// Guards are pure functions that evaluate preconditions without side effects.
package ordering

import "fmt"

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// MoveContext provides context for move guards.
type MoveContext struct {
	Context      string
	EntityID     string
	PrevEntityID string // empty if unset
	NextEntityID string // empty if unset
}

// NeighborContext provides context for neighbor validation once the
// neighbors have been looked up in the store.
type NeighborContext struct {
	Context      string
	PrevEntityID string
	PrevExists   bool
	PrevRank     string
	NextEntityID string
	NextExists   bool
	NextRank     string
}

// CanMove evaluates whether a move request is well formed.
// Rules:
// - Context and entity must be named
// - An entity cannot be its own neighbor
// - Previous and next neighbors must differ
func CanMove(ctx MoveContext) GuardResult {
	if ctx.Context == "" {
		return GuardResult{Allowed: false, Reason: "context is required"}
	}
	if ctx.EntityID == "" {
		return GuardResult{Allowed: false, Reason: "entity id is required"}
	}
	if ctx.PrevEntityID == ctx.EntityID || ctx.NextEntityID == ctx.EntityID {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("entity %s cannot be positioned relative to itself", ctx.EntityID),
		}
	}
	if ctx.PrevEntityID != "" && ctx.PrevEntityID == ctx.NextEntityID {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("previous and next neighbor are both %s", ctx.PrevEntityID),
		}
	}

	return GuardResult{Allowed: true}
}

// CanUseNeighbors evaluates whether the named neighbors exist in the context
// and are in order.
// Rules:
// - A named previous neighbor must exist in the context
// - A named next neighbor must exist in the context
// - Previous must sort before next
func CanUseNeighbors(ctx NeighborContext) GuardResult {
	if ctx.PrevEntityID != "" && !ctx.PrevExists {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("previous neighbor %s not found in context %s", ctx.PrevEntityID, ctx.Context),
		}
	}
	if ctx.NextEntityID != "" && !ctx.NextExists {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("next neighbor %s not found in context %s", ctx.NextEntityID, ctx.Context),
		}
	}
	if ctx.PrevEntityID != "" && ctx.NextEntityID != "" && ctx.PrevRank >= ctx.NextRank {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("previous neighbor %s does not sort before next neighbor %s", ctx.PrevEntityID, ctx.NextEntityID),
		}
	}

	return GuardResult{Allowed: true}
}
