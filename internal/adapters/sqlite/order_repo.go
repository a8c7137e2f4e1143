// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/example/daybook/internal/keylock"
	"github.com/example/daybook/internal/ports/secondary"
)

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OrderRepository implements secondary.OrderingStore with SQLite.
type OrderRepository struct {
	db    *sql.DB
	q     querier
	locks *keylock.Map

	// scope is the context held by this repository when it was handed out
	// by WithContextLock or ReadContext; empty for the root repository.
	scope string

	// readOnly is set on views handed out by ReadContext.
	readOnly bool
}

// NewOrderRepository creates a new SQLite order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, q: db, locks: &keylock.Map{}}
}

// FindRank retrieves an entity's entry in a context (nil if absent).
func (r *OrderRepository) FindRank(ctx context.Context, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	if err := r.checkScope(contextKey); err != nil {
		return nil, err
	}

	row := r.q.QueryRowContext(ctx,
		"SELECT context, entity_id, rank, updated_at FROM order_entries WHERE context = ? AND entity_id = ?",
		contextKey, entityID,
	)
	record, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order entry: %w", mapError(err))
	}
	return record, nil
}

// FindNeighbor retrieves the nearest entry strictly after (or before) rank,
// skipping excludeEntityID. An empty rank means the start (or end) of the
// context.
func (r *OrderRepository) FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*secondary.OrderEntryRecord, error) {
	if err := r.checkScope(contextKey); err != nil {
		return nil, err
	}

	query := "SELECT context, entity_id, rank, updated_at FROM order_entries WHERE context = ? AND entity_id <> ?"
	args := []any{contextKey, excludeEntityID}
	switch {
	case after && rank != "":
		query += " AND rank > ?"
		args = append(args, rank)
	case !after && rank != "":
		query += " AND rank < ?"
		args = append(args, rank)
	}
	if after {
		query += " ORDER BY rank ASC LIMIT 1"
	} else {
		query += " ORDER BY rank DESC LIMIT 1"
	}

	record, err := scanEntry(r.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find neighbor: %w", mapError(err))
	}
	return record, nil
}

// Upsert creates or replaces an entity's rank in a context.
func (r *OrderRepository) Upsert(ctx context.Context, contextKey, entityID, rank string) error {
	if err := r.checkWritable(contextKey); err != nil {
		return err
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO order_entries (context, entity_id, rank, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (context, entity_id) DO UPDATE SET rank = excluded.rank, updated_at = excluded.updated_at`,
		contextKey, entityID, rank,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order entry: %w", mapError(err))
	}
	return nil
}

// ListOrdered retrieves all entries of a context ascending by rank.
func (r *OrderRepository) ListOrdered(ctx context.Context, contextKey string) ([]*secondary.OrderEntryRecord, error) {
	if err := r.checkScope(contextKey); err != nil {
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx,
		"SELECT context, entity_id, rank, updated_at FROM order_entries WHERE context = ? ORDER BY rank ASC",
		contextKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list order entries: %w", mapError(err))
	}
	defer rows.Close()

	records := []*secondary.OrderEntryRecord{}
	for rows.Next() {
		record, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order entry: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list order entries: %w", mapError(err))
	}
	return records, nil
}

// Delete removes an entity's entry from a context. Missing entries are ignored.
func (r *OrderRepository) Delete(ctx context.Context, contextKey, entityID string) error {
	if err := r.checkWritable(contextKey); err != nil {
		return err
	}

	_, err := r.q.ExecContext(ctx,
		"DELETE FROM order_entries WHERE context = ? AND entity_id = ?",
		contextKey, entityID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete order entry: %w", mapError(err))
	}
	return nil
}

// DeleteContext removes every entry of a context.
func (r *OrderRepository) DeleteContext(ctx context.Context, contextKey string) error {
	if err := r.checkWritable(contextKey); err != nil {
		return err
	}

	_, err := r.q.ExecContext(ctx, "DELETE FROM order_entries WHERE context = ?", contextKey)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", mapError(err))
	}
	return nil
}

// ListContexts returns every context that has at least one entry.
func (r *OrderRepository) ListContexts(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT DISTINCT context FROM order_entries ORDER BY context ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", mapError(err))
	}
	defer rows.Close()

	contexts := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// WithContextLock runs fn inside a write transaction scoped to one context.
// In-process callers queue on a per-context lock; other processes are kept
// out by BEGIN IMMEDIATE, and a busy database surfaces as ErrConflict.
func (r *OrderRepository) WithContextLock(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	if r.scope != "" {
		// Already inside this context's transaction.
		if err := r.checkScope(contextKey); err != nil {
			return err
		}
		return fn(r)
	}

	release, err := r.locks.Acquire(ctx, contextKey)
	if err != nil {
		return err
	}
	defer release()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	scoped := &OrderRepository{db: r.db, q: tx, locks: r.locks, scope: contextKey}
	if err := fn(scoped); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// ReadContext runs fn inside a deferred read transaction. It takes neither
// the per-context lock nor the database write lock, so readers never queue
// behind a writer; the snapshot still never shows a half-applied rewrite.
func (r *OrderRepository) ReadContext(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	if r.scope != "" {
		if err := r.checkScope(contextKey); err != nil {
			return err
		}
		return fn(r)
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", mapError(err))
	}
	defer conn.Close()

	// BeginTx would use the DSN's BEGIN IMMEDIATE; a reader must not.
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", mapError(err))
	}
	defer conn.ExecContext(context.Background(), "ROLLBACK")

	return fn(&OrderRepository{db: r.db, q: conn, locks: r.locks, scope: contextKey, readOnly: true})
}

func (r *OrderRepository) checkWritable(contextKey string) error {
	if r.readOnly {
		return fmt.Errorf("context %s is open for reading only", contextKey)
	}
	return r.checkScope(contextKey)
}

func (r *OrderRepository) checkScope(contextKey string) error {
	if r.scope != "" && r.scope != contextKey {
		return fmt.Errorf("context %s is not held by this transaction (holding %s)", contextKey, r.scope)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*secondary.OrderEntryRecord, error) {
	var (
		updatedAt sql.NullTime
		record    secondary.OrderEntryRecord
	)
	if err := s.Scan(&record.Context, &record.EntityID, &record.Rank, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		record.UpdatedAt = updatedAt.Time.UTC().Format(time.RFC3339)
	}
	return &record, nil
}

// mapError turns sqlite lock contention into secondary.ErrConflict so the
// service can retry it.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", secondary.ErrConflict, err)
		}
	}
	return err
}

// Ensure OrderRepository implements the interfaces.
var (
	_ secondary.OrderingStore  = (*OrderRepository)(nil)
	_ secondary.ContextLister  = (*OrderRepository)(nil)
	_ secondary.SnapshotReader = (*OrderRepository)(nil)
)
