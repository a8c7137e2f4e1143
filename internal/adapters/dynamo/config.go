package dynamo

// MaxCommitWrites is the most entry writes one context commit may carry.
// DynamoDB transactions take 100 actions and the meta item uses one.
const MaxCommitWrites = 99

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the ordering table. Its key schema is
	// context (partition, S) + sk (sort, S).
	// Default: "daybook_ordering"
	Table string
}

// DefaultConfig returns the default table layout.
func DefaultConfig() Config {
	return Config{
		Table: "daybook_ordering",
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "daybook_ordering"
	}
}
