package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/daybook/internal/core/rank"
)

// Backend constants
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// CurrentVersion is written into new config files.
const CurrentVersion = "1"

// Config represents the flat daybook configuration
type Config struct {
	Version       string `json:"version"`
	Backend       string `json:"backend"`                  // "sqlite", "dynamodb" or "memory"
	DatabasePath  string `json:"database_path,omitempty"`  // sqlite file; default ~/.daybook/daybook.db
	DynamoDBTable string `json:"dynamodb_table,omitempty"` // table for the dynamodb backend
	AWSRegion     string `json:"aws_region,omitempty"`     // overrides the SDK's region resolution
	MaxKeyLength  int    `json:"max_key_length,omitempty"` // rank keys longer than this trigger a rebalance
	MaxAttempts   int    `json:"max_attempts,omitempty"`   // conflict retries per operation
	LogLevel      string `json:"log_level,omitempty"`      // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version:       CurrentVersion,
		Backend:       BackendSQLite,
		DynamoDBTable: "daybook_ordering",
		MaxKeyLength:  rank.DefaultMaxLength,
		MaxAttempts:   3,
		LogLevel:      "warn",
	}
}

// LoadConfig reads .daybook/config.json from the specified directory.
// A missing file yields DefaultConfig; fields absent from the file keep
// their defaults.
func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(dir, ".daybook", "config.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes config.json to directory
func SaveConfig(dir string, cfg *Config) error {
	configDir := filepath.Join(dir, ".daybook")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create .daybook dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendDynamoDB, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendSQLite, BackendDynamoDB, BackendMemory)
	}
	if c.Backend == BackendDynamoDB && c.DynamoDBTable == "" {
		return fmt.Errorf("dynamodb_table is required for the dynamodb backend")
	}
	if c.MaxKeyLength < 0 {
		return fmt.Errorf("max_key_length must not be negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level value onto a slog level. Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", s)
}
