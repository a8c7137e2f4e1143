package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/daybook/internal/wire"
)

// DoctorCmd returns the doctor command for ordering validation
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify that every ordering context is intact",
		Long: `Verify that every ordering context is intact.

Each context must hold valid, strictly increasing sort keys with no
duplicates. Exits non-zero when any context fails.

Examples:
  daybook doctor
  daybook doctor --config-dir ~/planner`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.OrderAdapterWithOutput(cmd.OutOrStdout()).Check(cmd.Context())
		},
	}
}
