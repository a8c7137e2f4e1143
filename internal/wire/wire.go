// Package wire provides dependency injection for the daybook application.
// It creates singleton services with lazy initialization.
package wire

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	cliadapter "github.com/example/daybook/internal/adapters/cli"
	"github.com/example/daybook/internal/adapters/dynamo"
	"github.com/example/daybook/internal/adapters/memory"
	"github.com/example/daybook/internal/adapters/sqlite"
	"github.com/example/daybook/internal/app"
	"github.com/example/daybook/internal/config"
	"github.com/example/daybook/internal/db"
	"github.com/example/daybook/internal/ports/primary"
	"github.com/example/daybook/internal/ports/secondary"
)

var (
	orderingService primary.OrderingService
	once            sync.Once

	cfg    *config.Config
	logger *slog.Logger
)

// Configure sets the config and logger used when services are first built.
// Calls after the first service lookup have no effect.
func Configure(c *config.Config, l *slog.Logger) {
	cfg = c
	logger = l
}

// OrderingService returns the singleton OrderingService instance.
func OrderingService() primary.OrderingService {
	once.Do(initServices)
	return orderingService
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialize ordering store: %v", err)
	}

	orderingService = app.NewOrderingService(store, app.OrderingOptions{
		MaxKeyLength: cfg.MaxKeyLength,
		MaxAttempts:  cfg.MaxAttempts,
		Logger:       logger,
	})
}

// NewStore builds the ordering store selected by cfg.Backend.
func NewStore(ctx context.Context, cfg *config.Config) (secondary.OrderingStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewOrderStore(), nil

	case config.BackendDynamoDB:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return dynamo.New(client, dynamo.Config{Table: cfg.DynamoDBTable}), nil

	case config.BackendSQLite, "":
		if cfg.DatabasePath != "" {
			db.SetPath(cfg.DatabasePath)
		}
		database, err := db.GetDB()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return sqlite.NewOrderRepository(database), nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// OrderAdapter returns a new OrderAdapter writing to stdout.
// Each call creates a new adapter (adapters are stateless translators).
func OrderAdapter() *cliadapter.OrderAdapter {
	return OrderAdapterWithOutput(os.Stdout)
}

// OrderAdapterWithOutput returns a new OrderAdapter writing to the given output.
// This variant allows testing or alternate output destinations.
func OrderAdapterWithOutput(out io.Writer) *cliadapter.OrderAdapter {
	once.Do(initServices)
	return cliadapter.NewOrderAdapter(orderingService, out)
}
