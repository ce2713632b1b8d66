package memory

import (
	"context"
	"time"
)

// InsertMethod decides where rendered long-term memory lands in the view
type InsertMethod string

const (
	// InsertSystem injects memory as (or into) a leading system message
	InsertSystem InsertMethod = "system"
	// InsertUser appends memory to the most recent user message
	InsertUser InsertMethod = "user"
)

// Budget token budget of a manager
type Budget struct {
	TokenLimit            int     `yaml:"token_limit"`
	ChatHistoryTokenRatio float64 `yaml:"chat_history_token_ratio"`
	TokenFlushSize        int     `yaml:"token_flush_size"`
}

// ShortTermCeiling is the token ceiling of the short-term buffer
func (b Budget) ShortTermCeiling() int {
	return int(float64(b.TokenLimit) * b.ChatHistoryTokenRatio)
}

// LongTermCeiling is what remains of the limit for long-term content
func (b Budget) LongTermCeiling() int {
	return b.TokenLimit - b.ShortTermCeiling()
}

// Validate checks the budget relationships
func (b Budget) Validate() error {
	if b.TokenLimit <= 0 {
		return configError("token_limit must be greater than 0, got %d", b.TokenLimit)
	}
	if b.ChatHistoryTokenRatio <= 0 || b.ChatHistoryTokenRatio > 1 {
		return configError("chat_history_token_ratio must be in (0, 1], got %.3f", b.ChatHistoryTokenRatio)
	}
	if b.TokenFlushSize <= 0 {
		return configError("token_flush_size must be greater than 0, got %d", b.TokenFlushSize)
	}
	ceiling := b.ShortTermCeiling()
	if ceiling <= 0 {
		return configError("short-term ceiling is 0 (token_limit=%d, ratio=%.3f)", b.TokenLimit, b.ChatHistoryTokenRatio)
	}
	if b.TokenFlushSize > ceiling {
		return configError("token_flush_size %d exceeds short-term ceiling %d", b.TokenFlushSize, ceiling)
	}
	return nil
}

// DefaultBudget returns a budget suitable for a 30k-token context window
func DefaultBudget() Budget {
	return Budget{
		TokenLimit:            30000,
		ChatHistoryTokenRatio: 0.7,
		TokenFlushSize:        3000,
	}
}

// Default timeouts for external service calls
const (
	DefaultRetrievalTimeout = 5 * time.Second
	DefaultIngestTimeout    = 60 * time.Second
)

// Config manager configuration
type Config struct {
	// SessionID identifies the durable session ledger
	SessionID string

	Budget       Budget
	InsertMethod InsertMethod

	// Blocks in declaration order
	Blocks []BlockSpec

	// Per-block timeouts for Retrieve and Ingest
	RetrievalTimeout time.Duration
	IngestTimeout    time.Duration

	// ResetClearsSession makes Reset clear the durable session as well
	ResetClearsSession bool

	// Counter defaults to HeuristicCounter
	Counter TokenCounter

	// Sessions defaults to an in-memory store
	Sessions SessionStore
}

// Option configures optional manager behavior
type Option func(*Manager)

// WithWarningHandler receives every recoverable warning (failed ingest,
// degraded retrieval, exhausted budget) in addition to the log.
func WithWarningHandler(handler func(err error)) Option {
	return func(m *Manager) {
		m.onWarning = handler
	}
}

// WithRestoredHistory refills short-term memory from the tail of the
// session ledger when the manager starts, so a resumed session keeps its
// recent conversation
func WithRestoredHistory(ctx context.Context) Option {
	return func(m *Manager) {
		m.restoreCtx = ctx
	}
}

// validate fills defaults and checks the configuration
func (c *Config) validate() error {
	if c.SessionID == "" {
		return configError("session id cannot be empty")
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}

	switch c.InsertMethod {
	case "":
		c.InsertMethod = InsertSystem
	case InsertSystem, InsertUser:
	default:
		return configError("insert_method must be %q or %q, got %q", InsertSystem, InsertUser, c.InsertMethod)
	}

	seen := make(map[string]bool, len(c.Blocks))
	for _, spec := range c.Blocks {
		if spec.Name == "" {
			return configError("block name cannot be empty")
		}
		if seen[spec.Name] {
			return configError("duplicate block name %q", spec.Name)
		}
		seen[spec.Name] = true

		if spec.Block == nil {
			return configError("block %q has no implementation", spec.Name)
		}
		if spec.Priority < 0 {
			return configError("block %q has negative priority %d", spec.Name, spec.Priority)
		}
		if t, ok := spec.Block.(Truncatable); ok && !t.Truncatable() && spec.Priority != 0 {
			return configError("block %q cannot be truncated and must have priority 0, got %d", spec.Name, spec.Priority)
		}
	}

	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = DefaultRetrievalTimeout
	}
	if c.IngestTimeout <= 0 {
		c.IngestTimeout = DefaultIngestTimeout
	}
	if c.Counter == nil {
		c.Counter = HeuristicCounter{}
	}
	if c.Sessions == nil {
		c.Sessions = NewMemorySessionStore()
	}
	return nil
}
