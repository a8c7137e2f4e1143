package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/daybook/internal/cli"
	"github.com/example/daybook/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "daybook",
		Short:   "daybook - personal tasks, templates and day schedules",
		Version: version.String(),
		Long: `daybook keeps tasks, template steps, project sections and day schedules
in the order you put them. Drag-and-drop style moves are expressed by
naming the neighbors an item should sit between.`,
		SilenceUsage: true,
	}

	cli.ConfigureRoot(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.DoctorCmd())
	rootCmd.AddCommand(cli.OrderCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
