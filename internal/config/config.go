// Package config loads the aimem YAML configuration, secrets and prompt
// templates from the config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// configDir is the configuration directory path
	// Can be set via SetConfigDir before loading config
	configDir     string
	configDirInit bool
)

// SetConfigDir sets a custom configuration directory
// Must be called before any config loading functions
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// GetConfigDir returns the configuration directory
// Priority: 1. Manually set via SetConfigDir, 2. ./config in current directory
func GetConfigDir() string {
	if !configDirInit {
		cwd, err := os.Getwd()
		if err == nil {
			configDir = filepath.Join(cwd, "config")
		}
		configDirInit = true
	}
	return configDir
}

// Block types understood by the CLI wiring
const (
	BlockTypeStatic = "static"
	BlockTypeFacts  = "facts"
	BlockTypeVector = "vector"
)

// Config application configuration structure
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Memory    MemoryConfig    `yaml:"memory"`
	Log       LogConfig       `yaml:"log"`
}

// ModelConfig chat model used for fact extraction
type ModelConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbeddingConfig embedding model used by vector blocks
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension"`
	TimeoutSec int    `yaml:"timeout_seconds"`
	MaxRetries int    `yaml:"max_retries"`
}

// StorageConfig SQLite database locations
type StorageConfig struct {
	DBPath       string `yaml:"db_path"`
	VectorDBPath string `yaml:"vector_db_path"`
}

// MemoryConfig token budget and long-term blocks
type MemoryConfig struct {
	TokenLimit            int           `yaml:"token_limit"`
	ChatHistoryTokenRatio float64       `yaml:"chat_history_token_ratio"`
	TokenFlushSize        int           `yaml:"token_flush_size"`
	InsertMethod          string        `yaml:"insert_method"`
	RetrievalTimeoutSec   int           `yaml:"retrieval_timeout_seconds"`
	IngestTimeoutSec      int           `yaml:"ingest_timeout_seconds"`
	ResetClearsSession    bool          `yaml:"reset_clears_session"`
	Blocks                []BlockConfig `yaml:"blocks"`
}

// BlockConfig one long-term memory block. Fields apply per type.
type BlockConfig struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`

	// static
	Content string `yaml:"content,omitempty"`

	// facts
	MaxFacts int `yaml:"max_facts,omitempty"`

	// vector
	SimilarityTopK         int    `yaml:"similarity_top_k,omitempty"`
	RetrievalContextWindow int    `yaml:"retrieval_context_window,omitempty"`
	Collection             string `yaml:"collection,omitempty"`
}

// LogConfig logger settings
type LogConfig struct {
	Dir     string `yaml:"dir"` // empty = <config dir>/logs
	Level   string `yaml:"level"`
	MaxDays int    `yaml:"max_days"`
	Console bool   `yaml:"console"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Model: ModelConfig{
			BaseURL:     "https://api.deepseek.com",
			Model:       "deepseek-chat",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			TimeoutSec: 30,
			MaxRetries: 2,
		},
		Storage: StorageConfig{
			DBPath:       filepath.Join(homeDir, ".aimem", "sessions.db"),
			VectorDBPath: filepath.Join(homeDir, ".aimem", "vectors.db"),
		},
		Memory: MemoryConfig{
			TokenLimit:            30000,
			ChatHistoryTokenRatio: 0.7,
			TokenFlushSize:        3000,
			InsertMethod:          "system",
			RetrievalTimeoutSec:   5,
			IngestTimeoutSec:      60,
			Blocks: []BlockConfig{
				{Type: BlockTypeFacts, Name: "facts", Priority: 1, MaxFacts: 50},
				{Type: BlockTypeVector, Name: "history", Priority: 2, SimilarityTopK: 2, RetrievalContextWindow: 5},
			},
		},
		Log: LogConfig{
			Level:   "info",
			MaxDays: 7,
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	dir := GetConfigDir()
	if dir == "" {
		return "", fmt.Errorf("failed to determine config directory")
	}
	return dir, nil
}

// LogDir returns the log directory path
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	dir := GetConfigDir()
	if dir == "" {
		return "logs"
	}
	return filepath.Join(dir, "logs")
}

// ConfigPath returns the configuration file path
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from file and merges with secrets.
// A missing file is created with the defaults.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, err
	}
	cfg.applySecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applySecrets fills API keys the YAML file left empty
func (c *Config) applySecrets(s *Secrets) {
	if c.Model.APIKey == "" {
		c.Model.APIKey = s.GetAPIKey()
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = s.GetEmbeddingAPIKey()
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.Model.APIKey
	}
}

// Save saves configuration to file. API keys are never written.
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *cfg
	out.Model.APIKey = ""
	out.Embedding.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	content := "# aimem configuration file\n# API keys belong in .secrets next to this file\n\n" + string(data)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Model.BaseURL == "" {
		return fmt.Errorf("config error: model.base_url cannot be empty")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("config error: model.model cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config error: model.temperature must be between 0 and 2")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("config error: model.max_tokens must be greater than 0")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("config error: storage.db_path cannot be empty")
	}

	if err := c.Memory.validate(); err != nil {
		return err
	}

	if c.Memory.HasBlockType(BlockTypeVector) {
		if c.Storage.VectorDBPath == "" {
			return fmt.Errorf("config error: storage.vector_db_path cannot be empty with a vector block")
		}
		if c.Embedding.BaseURL == "" || c.Embedding.Model == "" {
			return fmt.Errorf("config error: embedding.base_url and embedding.model are required with a vector block")
		}
		if c.Embedding.Dimension < 0 {
			return fmt.Errorf("config error: embedding.dimension cannot be negative")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config error: log.level must be one of debug, info, warn, error")
	}

	return nil
}

func (m *MemoryConfig) validate() error {
	if m.TokenLimit <= 0 {
		return fmt.Errorf("config error: memory.token_limit must be greater than 0")
	}
	if m.ChatHistoryTokenRatio <= 0 || m.ChatHistoryTokenRatio > 1 {
		return fmt.Errorf("config error: memory.chat_history_token_ratio must be in (0, 1]")
	}
	if m.TokenFlushSize <= 0 {
		return fmt.Errorf("config error: memory.token_flush_size must be greater than 0")
	}
	if ceiling := int(float64(m.TokenLimit) * m.ChatHistoryTokenRatio); m.TokenFlushSize > ceiling {
		return fmt.Errorf("config error: memory.token_flush_size %d exceeds short-term ceiling %d", m.TokenFlushSize, ceiling)
	}
	switch m.InsertMethod {
	case "", "system", "user":
	default:
		return fmt.Errorf("config error: memory.insert_method must be system or user")
	}
	if m.RetrievalTimeoutSec < 0 || m.IngestTimeoutSec < 0 {
		return fmt.Errorf("config error: memory timeouts cannot be negative")
	}

	seen := make(map[string]bool, len(m.Blocks))
	for i, b := range m.Blocks {
		if b.Name == "" {
			return fmt.Errorf("config error: memory.blocks[%d].name cannot be empty", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("config error: duplicate block name %q", b.Name)
		}
		seen[b.Name] = true

		if b.Priority < 0 {
			return fmt.Errorf("config error: block %q priority cannot be negative", b.Name)
		}
		switch b.Type {
		case BlockTypeStatic:
			if b.Priority != 0 {
				return fmt.Errorf("config error: static block %q must have priority 0", b.Name)
			}
		case BlockTypeFacts:
			if b.MaxFacts < 0 {
				return fmt.Errorf("config error: block %q max_facts cannot be negative", b.Name)
			}
		case BlockTypeVector:
			if b.SimilarityTopK < 0 || b.RetrievalContextWindow < 0 {
				return fmt.Errorf("config error: block %q similarity settings cannot be negative", b.Name)
			}
		default:
			return fmt.Errorf("config error: block %q has unknown type %q", b.Name, b.Type)
		}
	}
	return nil
}

// HasBlockType reports whether any configured block is of type t
func (m *MemoryConfig) HasBlockType(t string) bool {
	for _, b := range m.Blocks {
		if b.Type == t {
			return true
		}
	}
	return false
}

// IsAPIKeyConfigured checks if API key is configured
func (c *Config) IsAPIKeyConfigured() bool {
	return c.Model.APIKey != ""
}

// String returns string representation of config (hides sensitive info)
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `aimem Configuration:
  Model:
    API Key: %s
    Base URL: %s
    Model: %s
    Temperature: %.1f
    Max Tokens: %d
  Embedding:
    API Key: %s
    Base URL: %s
    Model: %s
    Dimension: %d
  Storage:
    DB Path: %s
    Vector DB Path: %s
  Memory:
    Token Limit: %d
    Chat History Ratio: %.2f
    Flush Size: %d
    Insert Method: %s
    Reset Clears Session: %v
    Blocks:
`,
		redactAPIKey(c.Model.APIKey),
		c.Model.BaseURL,
		c.Model.Model,
		c.Model.Temperature,
		c.Model.MaxTokens,
		redactAPIKey(c.Embedding.APIKey),
		c.Embedding.BaseURL,
		c.Embedding.Model,
		c.Embedding.Dimension,
		c.Storage.DBPath,
		c.Storage.VectorDBPath,
		c.Memory.TokenLimit,
		c.Memory.ChatHistoryTokenRatio,
		c.Memory.TokenFlushSize,
		c.Memory.InsertMethod,
		c.Memory.ResetClearsSession,
	)
	if len(c.Memory.Blocks) == 0 {
		b.WriteString("      (none)\n")
	}
	for _, blk := range c.Memory.Blocks {
		fmt.Fprintf(&b, "      - %s (%s, priority %d)\n", blk.Name, blk.Type, blk.Priority)
	}
	fmt.Fprintf(&b, "  Log:\n    Dir: %s\n    Level: %s", c.LogDir(), c.Log.Level)
	return b.String()
}

func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}
