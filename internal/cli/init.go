package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/daybook/internal/config"
	"github.com/example/daybook/internal/db"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	var (
		backend string
		table   string
		region  string
		dbPath  string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a daybook config and prepare the ordering store",
		Long: `Write .daybook/config.json in the config directory and prepare the
selected ordering store.

For sqlite the database file is created and migrated. For dynamodb the
table must already exist with partition key "context" (S) and sort key
"sk" (S).

Examples:
  daybook init
  daybook init --backend dynamodb --table daybook_ordering --region eu-west-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(configDir, ".daybook", "config.json")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Backend = backend
			cfg.DatabasePath = dbPath
			cfg.AWSRegion = region
			if table != "" {
				cfg.DynamoDBTable = table
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := config.SaveConfig(configDir, cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Config written to %s\n", path)

			switch cfg.Backend {
			case config.BackendSQLite:
				if cfg.DatabasePath != "" {
					db.SetPath(cfg.DatabasePath)
				}
				if _, err := db.GetDB(); err != nil {
					return fmt.Errorf("failed to initialize database: %w", err)
				}
				resolved, _ := db.GetDBPath()
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Database ready at %s\n", resolved)
			case config.BackendDynamoDB:
				fmt.Fprintf(cmd.OutOrStdout(), "  Using DynamoDB table %s (must already exist)\n", cfg.DynamoDBTable)
			case config.BackendMemory:
				fmt.Fprintln(cmd.OutOrStdout(), "  Memory backend: orderings are discarded on exit")
			}

			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Next steps:")
			fmt.Fprintln(cmd.OutOrStdout(), "  daybook order move tasks:inbox TASK-1")
			fmt.Fprintln(cmd.OutOrStdout(), "  daybook order list tasks:inbox")
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", config.BackendSQLite, "Ordering store: sqlite, dynamodb or memory")
	cmd.Flags().StringVar(&table, "table", "", "DynamoDB table name")
	cmd.Flags().StringVar(&region, "region", "", "AWS region for DynamoDB")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default ~/.daybook/daybook.db)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}
