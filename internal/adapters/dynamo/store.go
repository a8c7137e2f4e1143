// Package dynamo implements the ordering store on DynamoDB.
//
// Every context is one partition. Entries live under sort key "E#<entity>";
// a "META" item carries a version that every commit bumps. WithContextLock
// is optimistic: it snapshots the partition, lets the callback mutate a
// private copy, then writes the difference in one TransactWriteItems
// conditioned on the version it started from. A lost race surfaces as
// secondary.ErrConflict and the service retries.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/daybook/internal/ports/secondary"
)

const (
	metaSK      = "META"
	entryPrefix = "E#"
)

// Client is the subset of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type entryItem struct {
	Context   string `dynamodbav:"context"`
	SK        string `dynamodbav:"sk"`
	EntityID  string `dynamodbav:"entity_id"`
	Rank      string `dynamodbav:"rank"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

type metaItem struct {
	Context   string `dynamodbav:"context"`
	SK        string `dynamodbav:"sk"`
	Version   int64  `dynamodbav:"version"`
	Entries   int    `dynamodbav:"entries"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// snapshot is one consistent view of a context partition.
type snapshot struct {
	version int64
	entries map[string]entryItem
}

// Store implements secondary.OrderingStore on DynamoDB.
type Store struct {
	client Client
	config Config
	now    func() time.Time
}

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// FindRank retrieves an entity's entry in a context (nil if absent).
func (s *Store) FindRank(ctx context.Context, contextKey, entityID string) (*secondary.OrderEntryRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            itemKey(contextKey, entryPrefix+entityID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order entry: %w", unavailable(err))
	}
	if result.Item == nil {
		return nil, nil
	}

	var item entryItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal order entry: %w", err)
	}
	return toRecord(item), nil
}

// FindNeighbor retrieves the nearest entry strictly after (or before) rank.
func (s *Store) FindNeighbor(ctx context.Context, contextKey, rank string, after bool, excludeEntityID string) (*secondary.OrderEntryRecord, error) {
	snap, err := s.load(ctx, contextKey)
	if err != nil {
		return nil, err
	}
	return findNeighbor(snap.entries, rank, after, excludeEntityID), nil
}

// Upsert creates or replaces an entity's rank in a context.
func (s *Store) Upsert(ctx context.Context, contextKey, entityID, rank string) error {
	return s.WithContextLock(ctx, contextKey, func(tx secondary.OrderingStore) error {
		return tx.Upsert(ctx, contextKey, entityID, rank)
	})
}

// ListOrdered retrieves all entries of a context ascending by rank.
func (s *Store) ListOrdered(ctx context.Context, contextKey string) ([]*secondary.OrderEntryRecord, error) {
	snap, err := s.load(ctx, contextKey)
	if err != nil {
		return nil, err
	}
	return listOrdered(snap.entries), nil
}

// Delete removes an entity's entry from a context.
func (s *Store) Delete(ctx context.Context, contextKey, entityID string) error {
	return s.WithContextLock(ctx, contextKey, func(tx secondary.OrderingStore) error {
		return tx.Delete(ctx, contextKey, entityID)
	})
}

// DeleteContext removes every entry of a context. The meta item stays so
// its version keeps increasing.
func (s *Store) DeleteContext(ctx context.Context, contextKey string) error {
	return s.WithContextLock(ctx, contextKey, func(tx secondary.OrderingStore) error {
		return tx.DeleteContext(ctx, contextKey)
	})
}

// ListContexts returns every context with at least one entry.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.config.Table),
		FilterExpression:         aws.String("#sk = :meta AND #entries > :zero"),
		ExpressionAttributeNames: map[string]string{"#sk": "sk", "#entries": "entries"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: metaSK},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	}

	var contexts []string
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contexts: %w", unavailable(err))
		}
		for _, raw := range page.Items {
			var meta metaItem
			if err := attributevalue.UnmarshalMap(raw, &meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta item: %w", err)
			}
			if meta.SK == metaSK && meta.Entries > 0 {
				contexts = append(contexts, meta.Context)
			}
		}
	}

	sort.Strings(contexts)
	if contexts == nil {
		contexts = []string{}
	}
	return contexts, nil
}

// WithContextLock runs fn against a snapshot of the context and commits
// fn's changes only if no other writer committed in between.
func (s *Store) WithContextLock(ctx context.Context, contextKey string, fn func(store secondary.OrderingStore) error) error {
	snap, err := s.load(ctx, contextKey)
	if err != nil {
		return err
	}

	view := newTxView(contextKey, snap, s.now)
	if err := fn(view); err != nil {
		return err
	}

	puts, deletes := view.diff()
	if len(puts)+len(deletes) == 0 {
		return s.verifyVersion(ctx, contextKey, snap.version)
	}
	return s.commit(ctx, contextKey, snap.version, len(view.entries), puts, deletes)
}

// load reads the whole partition with strongly consistent reads.
func (s *Store) load(ctx context.Context, contextKey string) (*snapshot, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.config.Table),
		KeyConditionExpression:   aws.String("#ctx = :ctx"),
		ExpressionAttributeNames: map[string]string{"#ctx": "context"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ctx": &types.AttributeValueMemberS{Value: contextKey},
		},
		ConsistentRead: aws.Bool(true),
	}

	snap := &snapshot{entries: make(map[string]entryItem)}
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query context %s: %w", contextKey, unavailable(err))
		}
		for _, raw := range page.Items {
			sk, _ := raw["sk"].(*types.AttributeValueMemberS)
			switch {
			case sk == nil:
				continue
			case sk.Value == metaSK:
				var meta metaItem
				if err := attributevalue.UnmarshalMap(raw, &meta); err != nil {
					return nil, fmt.Errorf("unmarshal meta item: %w", err)
				}
				snap.version = meta.Version
			case strings.HasPrefix(sk.Value, entryPrefix):
				var item entryItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, fmt.Errorf("unmarshal order entry: %w", err)
				}
				snap.entries[item.EntityID] = item
			}
		}
	}
	return snap, nil
}

// verifyVersion confirms a read-only section saw a committed state.
func (s *Store) verifyVersion(ctx context.Context, contextKey string, version int64) error {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            itemKey(contextKey, metaSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read context version: %w", unavailable(err))
	}

	var current int64
	if result.Item != nil {
		var meta metaItem
		if err := attributevalue.UnmarshalMap(result.Item, &meta); err != nil {
			return fmt.Errorf("unmarshal meta item: %w", err)
		}
		current = meta.Version
	}
	if current != version {
		return fmt.Errorf("%w: context %s moved from version %d to %d while reading", secondary.ErrConflict, contextKey, version, current)
	}
	return nil
}

func (s *Store) commit(ctx context.Context, contextKey string, version int64, entries int, puts []entryItem, deletes []string) error {
	if n := len(puts) + len(deletes); n > MaxCommitWrites {
		return fmt.Errorf("%w: context %s needs %d writes, limit is %d", secondary.ErrCommitTooLarge, contextKey, n, MaxCommitWrites)
	}

	items := make([]types.TransactWriteItem, 0, len(puts)+len(deletes)+1)
	for _, p := range puts {
		av, err := attributevalue.MarshalMap(p)
		if err != nil {
			return fmt.Errorf("marshal order entry: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.Table),
				Item:      av,
			},
		})
	}
	for _, id := range deletes {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.Table),
				Key:       itemKey(contextKey, entryPrefix+id),
			},
		})
	}

	meta, err := attributevalue.MarshalMap(metaItem{
		Context:   contextKey,
		SK:        metaSK,
		Version:   version + 1,
		Entries:   entries,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal meta item: %w", err)
	}
	metaPut := &types.Put{
		TableName: aws.String(s.config.Table),
		Item:      meta,
	}
	if version == 0 {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(#sk)")
		metaPut.ExpressionAttributeNames = map[string]string{"#sk": "sk"}
	} else {
		metaPut.ConditionExpression = aws.String("#version = :expected")
		metaPut.ExpressionAttributeNames = map[string]string{"#version": "version"}
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		}
	}
	items = append(items, types.TransactWriteItem{Put: metaPut})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(contextKey, err)
}

// mapTransactionError turns a lost version race into secondary.ErrConflict.
func mapTransactionError(contextKey string, err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return fmt.Errorf("%w: context %s changed during commit", secondary.ErrConflict, contextKey)
			}
		}
	}
	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return fmt.Errorf("%w: context %s: %v", secondary.ErrConflict, contextKey, err)
	}

	return fmt.Errorf("failed to commit context %s: %w", contextKey, unavailable(err))
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", secondary.ErrStoreUnavailable, err)
}

func itemKey(contextKey, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"context": &types.AttributeValueMemberS{Value: contextKey},
		"sk":      &types.AttributeValueMemberS{Value: sk},
	}
}

func findNeighbor(entries map[string]entryItem, rank string, after bool, excludeEntityID string) *secondary.OrderEntryRecord {
	var (
		best  entryItem
		found bool
	)
	for id, e := range entries {
		if id == excludeEntityID {
			continue
		}
		if after {
			if rank != "" && e.Rank <= rank {
				continue
			}
			if !found || e.Rank < best.Rank {
				best, found = e, true
			}
		} else {
			if rank != "" && e.Rank >= rank {
				continue
			}
			if !found || e.Rank > best.Rank {
				best, found = e, true
			}
		}
	}
	if !found {
		return nil
	}
	return toRecord(best)
}

func listOrdered(entries map[string]entryItem) []*secondary.OrderEntryRecord {
	records := make([]*secondary.OrderEntryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toRecord(e))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Rank != records[j].Rank {
			return records[i].Rank < records[j].Rank
		}
		return records[i].EntityID < records[j].EntityID
	})
	return records
}

func toRecord(item entryItem) *secondary.OrderEntryRecord {
	return &secondary.OrderEntryRecord{
		Context:   item.Context,
		EntityID:  item.EntityID,
		Rank:      item.Rank,
		UpdatedAt: item.UpdatedAt,
	}
}

// Ensure Store implements the interfaces.
var (
	_ secondary.OrderingStore = (*Store)(nil)
	_ secondary.ContextLister = (*Store)(nil)
	_ Client                  = (*dynamodb.Client)(nil)
)
