package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/daybook/internal/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newTestRoot(t *testing.T, cmds ...*cobra.Command) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "daybook", SilenceUsage: true, SilenceErrors: true}
	ConfigureRoot(root)
	root.AddCommand(cmds...)
	return root
}

func run(t *testing.T, root *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestResolveContext(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	defer func() { now = orig }()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "today", want: "day:2026-03-14"},
		{in: "tomorrow", want: "day:2026-03-15"},
		{in: "yesterday", want: "day:2026-03-13"},
		{in: "day:today", want: "day:2026-03-14"},
		{in: "day:2026-01-01", want: "day:2026-01-01"},
		{in: "tasks:inbox", want: "tasks:inbox"},
		{in: " tasks:today ", want: "tasks:today"},
		{in: "scratch", want: "scratch"},
		{in: "task:inbox", want: "tasks:inbox"},
		{in: "template:TPL-1", want: "template-steps:TPL-1"},
		{in: "project:PROJ-7", want: "project-sections:PROJ-7"},
		{in: "ritual:morning", want: "ritual-steps:morning"},
		{in: "ritual-steps:morning", want: "ritual-steps:morning"},
		{in: "template:", wantErr: true},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := resolveContext(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveContext(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitCmd_WritesConfig(t *testing.T) {
	dir := t.TempDir()
	root := newTestRoot(t, InitCmd())

	out, err := run(t, root, "", "init", "--config-dir", dir, "--backend", "memory")
	if err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ Config written") {
		t.Errorf("expected confirmation, got %q", out)
	}

	cfg, err := config.LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Backend != config.BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.Backend)
	}

	root = newTestRoot(t, InitCmd())
	if _, err := run(t, root, "", "init", "--config-dir", dir, "--backend", "memory"); err == nil {
		t.Error("expected error when config already exists")
	}
}

func TestInitCmd_RejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	root := newTestRoot(t, InitCmd())

	if _, err := run(t, root, "", "init", "--config-dir", dir, "--backend", "postgres"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := os.Stat(filepath.Join(dir, ".daybook", "config.json")); !os.IsNotExist(err) {
		t.Error("config should not be written for an invalid backend")
	}
}

// TestOrderCommands_EndToEnd is the only test that touches the wire
// singletons; it runs against the memory backend.
func TestOrderCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	if err := config.SaveConfig(dir, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	steps := [][]string{
		{"order", "move", "tasks:inbox", "TASK-A"},
		{"order", "move", "tasks:inbox", "TASK-C", "--after", "TASK-A"},
		{"order", "move", "tasks:inbox", "TASK-B", "--after", "TASK-A", "--before", "TASK-C"},
	}
	for _, args := range steps {
		root := newTestRoot(t, OrderCmd(), DoctorCmd())
		out, err := run(t, root, "", append(args, "--config-dir", dir)...)
		if err != nil {
			t.Fatalf("%v failed: %v\n%s", args, err, out)
		}
		if !strings.HasPrefix(out, "✓ Moved") {
			t.Errorf("%v: unexpected output %q", args, out)
		}
	}

	root := newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err := run(t, root, "", "order", "list", "tasks:inbox", "--config-dir", dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	a, b, c := strings.Index(out, "TASK-A"), strings.Index(out, "TASK-B"), strings.Index(out, "TASK-C")
	if a < 0 || b < 0 || c < 0 || !(a < b && b < c) {
		t.Errorf("expected TASK-A, TASK-B, TASK-C in order, got:\n%s", out)
	}

	batch := `moves:
  - entity: TASK-C
    before: TASK-A
`
	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err = run(t, root, batch, "order", "batch", "tasks:inbox", "--file", "-", "--config-dir", dir)
	if err != nil {
		t.Fatalf("batch failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ Applied 1 moves to tasks:inbox") {
		t.Errorf("unexpected batch output %q", out)
	}

	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err = run(t, root, "", "order", "list", "tasks:inbox", "--config-dir", dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	a, b, c = strings.Index(out, "TASK-A"), strings.Index(out, "TASK-B"), strings.Index(out, "TASK-C")
	if !(c < a && a < b) {
		t.Errorf("expected TASK-C, TASK-A, TASK-B after batch, got:\n%s", out)
	}

	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err = run(t, root, "", "order", "move", "tasks:inbox", "TASK-D", "--after", "TASK-X", "--before", "", "--config-dir", dir)
	if err == nil {
		t.Fatalf("expected invalid neighbor error, got output %q", out)
	}
	if !strings.Contains(err.Error(), "Hint:") {
		t.Errorf("expected hint in error, got %v", err)
	}

	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err = run(t, root, "", "doctor", "--config-dir", dir)
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "✓ All 1 contexts verified") {
		t.Errorf("unexpected doctor output %q", out)
	}

	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, err = run(t, root, "", "order", "between", "--prev", "0", "--next", "z", "--config-dir", dir)
	if err != nil {
		t.Fatalf("between failed: %v", err)
	}
	if strings.TrimSpace(out) != "V" {
		t.Errorf("expected V, got %q", out)
	}

	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	if _, err := run(t, root, "", "order", "clear", "tasks:inbox", "--config-dir", dir); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	root = newTestRoot(t, OrderCmd(), DoctorCmd())
	out, _ = run(t, root, "", "order", "list", "tasks:inbox", "--config-dir", dir)
	if !strings.Contains(out, "No entries in context tasks:inbox") {
		t.Errorf("expected empty context after clear, got %q", out)
	}
}
