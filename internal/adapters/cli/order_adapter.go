// Package cli provides thin CLI adapters that translate between CLI concerns
// and application services. Adapters handle argument parsing, output formatting,
// but delegate business logic to services.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/example/daybook/internal/ports/primary"
)

const rule = "────────────────────────────────────────────────────────────────"

// OrderAdapter is a thin adapter that translates CLI operations to OrderingService calls.
// It depends only on the OrderingService interface, enabling easy testing with mocks.
type OrderAdapter struct {
	service primary.OrderingService
	out     io.Writer
}

// NewOrderAdapter creates a new OrderAdapter with the given service.
func NewOrderAdapter(service primary.OrderingService, out io.Writer) *OrderAdapter {
	return &OrderAdapter{
		service: service,
		out:     out,
	}
}

// List prints a context's entries in order.
func (a *OrderAdapter) List(ctx context.Context, contextKey string) error {
	entries, err := a.service.GetContextOrdering(ctx, contextKey)
	if err != nil {
		return fmt.Errorf("failed to list ordering: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintf(a.out, "No entries in context %s\n", contextKey)
		return nil
	}

	fmt.Fprintf(a.out, "\nContext: %s (%d entries)\n\n", contextKey, len(entries))
	fmt.Fprintf(a.out, "%-4s %-20s %-12s %s\n", "#", "ENTITY", "RANK", "UPDATED")
	fmt.Fprintln(a.out, rule)
	for i, e := range entries {
		fmt.Fprintf(a.out, "%-4d %-20s %-12s %s\n", i+1, e.EntityID, e.Rank, e.UpdatedAt)
	}
	fmt.Fprintln(a.out)

	return nil
}

// Move positions one entity between optional neighbors.
func (a *OrderAdapter) Move(ctx context.Context, contextKey, entityID, after, before string) error {
	resp, err := a.service.UpdateOrder(ctx, primary.UpdateOrderRequest{
		Context:      contextKey,
		EntityID:     entityID,
		PrevEntityID: after,
		NextEntityID: before,
	})
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(a.out, "✓ Moved %s in %s (rank %s)%s\n", resp.EntityID, contextKey, resp.Rank, rebalancedNote(resp.Rebalanced))
	return nil
}

// Batch applies a list of moves as one unit.
func (a *OrderAdapter) Batch(ctx context.Context, contextKey string, moves []primary.Move) error {
	if len(moves) == 0 {
		return fmt.Errorf("no moves to apply")
	}

	resp, err := a.service.BatchUpdateOrdering(ctx, primary.BatchUpdateOrderingRequest{
		Context: contextKey,
		Moves:   moves,
	})
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(a.out, "✓ Applied %d moves to %s%s\n", len(resp.Results), contextKey, rebalancedNote(resp.Rebalanced))
	for _, r := range resp.Results {
		fmt.Fprintf(a.out, "  %-20s %s\n", r.EntityID, r.Rank)
	}
	fmt.Fprintf(a.out, "Operation: %s\n", resp.OperationID)
	return nil
}

// Between prints the rank that would fall between two ranks.
func (a *OrderAdapter) Between(ctx context.Context, prevRank, nextRank string) error {
	key, err := a.service.CalculateSortOrder(ctx, prevRank, nextRank)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, key)
	return nil
}

// Clear removes every entry of a context.
func (a *OrderAdapter) Clear(ctx context.Context, contextKey string) error {
	if err := a.service.ClearContextOrdering(ctx, contextKey); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Cleared ordering for %s\n", contextKey)
	return nil
}

// Remove drops one entity from a context.
func (a *OrderAdapter) Remove(ctx context.Context, contextKey, entityID string) error {
	if err := a.service.RemoveFromContext(ctx, contextKey, entityID); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Removed %s from %s\n", entityID, contextKey)
	return nil
}

// Check verifies every context and returns an error if any is corrupt.
func (a *OrderAdapter) Check(ctx context.Context) error {
	reports, err := a.service.CheckOrdering(ctx)
	if err != nil {
		return fmt.Errorf("failed to check ordering: %w", err)
	}

	if len(reports) == 0 {
		fmt.Fprintln(a.out, "No ordering contexts found")
		return nil
	}

	fmt.Fprintf(a.out, "\n%-30s %-8s %s\n", "CONTEXT", "ENTRIES", "STATUS")
	fmt.Fprintln(a.out, rule)
	bad := 0
	for _, r := range reports {
		status := color.New(color.FgGreen).Sprint("ok")
		if r.Problem != "" {
			status = color.New(color.FgRed).Sprintf("CORRUPT %s", r.Problem)
			bad++
		}
		fmt.Fprintf(a.out, "%-30s %-8d %s\n", r.Context, r.Entries, status)
	}
	fmt.Fprintln(a.out)

	if bad > 0 {
		return fmt.Errorf("%d of %d contexts failed verification", bad, len(reports))
	}
	fmt.Fprintf(a.out, "✓ All %d contexts verified\n", len(reports))
	return nil
}

// BatchFile is the YAML layout accepted by `order batch --file`.
type BatchFile struct {
	Context string         `yaml:"context,omitempty"`
	Moves   []primary.Move `yaml:"moves"`
}

// ParseBatchFile decodes a batch file. Unknown keys are rejected so a
// misspelled "befor" never silently turns into an append.
func ParseBatchFile(r io.Reader) (*BatchFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file BatchFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("batch file is empty")
		}
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	for i, m := range file.Moves {
		if m.EntityID == "" {
			return nil, fmt.Errorf("move %d: entity is required", i+1)
		}
	}
	return &file, nil
}

func rebalancedNote(rebalanced bool) string {
	if !rebalanced {
		return ""
	}
	return color.New(color.FgYellow).Sprint(" [context rebalanced]")
}

// describe adds a hint for errors the user can fix.
func describe(err error) error {
	if errors.Is(err, primary.ErrInvalidNeighbor) {
		return fmt.Errorf("%w\nHint: run `daybook order list <context>` to see valid neighbors", err)
	}
	return err
}
