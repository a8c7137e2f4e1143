package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	cliadapter "github.com/example/daybook/internal/adapters/cli"
	"github.com/example/daybook/internal/wire"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inspect and change the ordering of lists",
	Long: `Inspect and change the ordering of lists.

Every list (a task view, a template's steps, a day's schedule) is an
ordering context. Entities are placed by naming the neighbors they
should sit between.

Context shorthands:
  today, tomorrow, yesterday   the matching day:YYYY-MM-DD context
  task:VIEW                    tasks:VIEW
  template:ID                  template-steps:ID
  project:ID                   project-sections:ID
  ritual:ID                    ritual-steps:ID

Examples:
  daybook order list tasks:inbox
  daybook order move tasks:inbox TASK-3 --after TASK-1 --before TASK-2
  daybook order batch today --file moves.yaml`,
}

var orderListCmd = &cobra.Command{
	Use:   "list [context]",
	Short: "List a context's entries in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextKey, err := resolveContext(args[0])
		if err != nil {
			return err
		}
		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).List(cmd.Context(), contextKey)
	},
}

var orderMoveCmd = &cobra.Command{
	Use:   "move [context] [entity-id]",
	Short: "Place an entity between two neighbors",
	Long: `Place an entity between two neighbors.

With no neighbors the entity is appended. With only --after it goes
directly after that entity; with only --before, directly before it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextKey, err := resolveContext(args[0])
		if err != nil {
			return err
		}
		after, _ := cmd.Flags().GetString("after")
		before, _ := cmd.Flags().GetString("before")

		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Move(cmd.Context(), contextKey, args[1], after, before)
	},
}

var orderBatchCmd = &cobra.Command{
	Use:   "batch [context]",
	Short: "Apply several moves at once from a YAML file",
	Long: `Apply several moves at once from a YAML file.

Moves are applied in order and either all succeed or none do.

File format:
  context: tasks:inbox      # optional when given as an argument
  moves:
    - entity: TASK-1
    - entity: TASK-2
      after: TASK-1
    - entity: TASK-3
      before: TASK-1

Use --file - to read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return fmt.Errorf("--file is required")
		}

		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open batch file: %w", err)
			}
			defer f.Close()
			r = f
		}

		file, err := cliadapter.ParseBatchFile(r)
		if err != nil {
			return err
		}

		raw := file.Context
		if len(args) == 1 {
			raw = args[0]
		}
		contextKey, err := resolveContext(raw)
		if err != nil {
			return err
		}

		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Batch(cmd.Context(), contextKey, file.Moves)
	},
}

var orderBetweenCmd = &cobra.Command{
	Use:   "between",
	Short: "Print the sort key that falls between two keys",
	Long: `Print the sort key that falls between two keys.

Nothing is stored. Leave --prev empty for "before everything" and --next
empty for "after everything".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prev, _ := cmd.Flags().GetString("prev")
		next, _ := cmd.Flags().GetString("next")

		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Between(cmd.Context(), prev, next)
	},
}

var orderClearCmd = &cobra.Command{
	Use:   "clear [context]",
	Short: "Remove every entry of a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextKey, err := resolveContext(args[0])
		if err != nil {
			return err
		}
		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Clear(cmd.Context(), contextKey)
	},
}

var orderRemoveCmd = &cobra.Command{
	Use:   "remove [context] [entity-id]",
	Short: "Remove one entity from a context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextKey, err := resolveContext(args[0])
		if err != nil {
			return err
		}
		return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Remove(cmd.Context(), contextKey, args[1])
	},
}

func init() {
	// order move flags
	orderMoveCmd.Flags().String("after", "", "Entity that should come directly before this one")
	orderMoveCmd.Flags().String("before", "", "Entity that should come directly after this one")

	// order batch flags
	orderBatchCmd.Flags().StringP("file", "f", "", "YAML batch file (- for stdin)")

	// order between flags
	orderBetweenCmd.Flags().String("prev", "", "Lower bound key")
	orderBetweenCmd.Flags().String("next", "", "Upper bound key")

	orderCmd.AddCommand(orderListCmd)
	orderCmd.AddCommand(orderMoveCmd)
	orderCmd.AddCommand(orderBatchCmd)
	orderCmd.AddCommand(orderBetweenCmd)
	orderCmd.AddCommand(orderClearCmd)
	orderCmd.AddCommand(orderRemoveCmd)
}

// OrderCmd returns the order command
func OrderCmd() *cobra.Command {
	return orderCmd
}
