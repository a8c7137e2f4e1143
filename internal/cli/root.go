package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/daybook/internal/config"
	"github.com/example/daybook/internal/core/ordering"
	"github.com/example/daybook/internal/ctxutil"
	"github.com/example/daybook/internal/wire"
)

var (
	configDir string
	actorID   string
	verbose   bool
)

// now is swapped in tests.
var now = time.Now

// ConfigureRoot registers the global flags and the config/logging setup
// that runs before every subcommand.
func ConfigureRoot(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing .daybook/config.json")
	root.PersistentFlags().StringVar(&actorID, "actor", "", "Actor ID recorded in logs (defaults to $USER)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configDir)
		if err != nil {
			return err
		}

		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		wire.Configure(cfg, logger)

		actor := actorID
		if actor == "" {
			actor = os.Getenv("USER")
		}
		base := cmd.Context()
		if base == nil {
			base = context.Background()
		}
		cmd.SetContext(ctxutil.WithActorID(base, actor))
		return nil
	}
}

// contextShorthands maps the short prefixes accepted on the command line to
// the builders that produce the stored context key.
var contextShorthands = map[string]func(string) string{
	"task":     ordering.TaskListContext,
	"template": ordering.TemplateStepsContext,
	"project":  ordering.ProjectSectionsContext,
	"ritual":   ordering.RitualStepsContext,
}

// resolveContext expands shorthands into stored context keys: day words
// ("today", "day:tomorrow") become day contexts and "task:inbox",
// "template:ID", "project:ID", "ritual:ID" go through their builders.
// Anything else is used as given.
func resolveContext(arg string) (string, error) {
	key := strings.TrimSpace(arg)
	if key == "" {
		return "", fmt.Errorf("context is required")
	}

	day := strings.TrimPrefix(key, ordering.KindDay+":")
	switch day {
	case "today":
		return ordering.DayContext(now()), nil
	case "tomorrow":
		return ordering.DayContext(now().AddDate(0, 0, 1)), nil
	case "yesterday":
		return ordering.DayContext(now().AddDate(0, 0, -1)), nil
	}

	if prefix, id, found := strings.Cut(key, ":"); found {
		if build, ok := contextShorthands[prefix]; ok {
			if id == "" {
				return "", fmt.Errorf("context %q is missing an id", key)
			}
			return build(id), nil
		}
	}

	if _, _, ok := ordering.SplitContext(key); !ok {
		slog.Debug("using free-form ordering context", "context", key)
	}
	return key, nil
}
