package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func useTempConfigDir(t *testing.T) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "aimem-config-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	dir := filepath.Join(tmpDir, "config")
	SetConfigDir(dir)
	t.Setenv(KeyAPIKey, "")
	t.Setenv(KeyEmbeddingAPIKey, "")
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Model != "deepseek-chat" {
		t.Errorf("Expected Model to be deepseek-chat, got %s", cfg.Model.Model)
	}
	if cfg.Memory.TokenLimit != 30000 || cfg.Memory.ChatHistoryTokenRatio != 0.7 || cfg.Memory.TokenFlushSize != 3000 {
		t.Errorf("Unexpected default budget: %+v", cfg.Memory)
	}
	if len(cfg.Memory.Blocks) != 2 || cfg.Memory.Blocks[0].Type != BlockTypeFacts || cfg.Memory.Blocks[1].Type != BlockTypeVector {
		t.Errorf("Unexpected default blocks: %+v", cfg.Memory.Blocks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"empty BaseURL", func(c *Config) { c.Model.BaseURL = "" }, "model.base_url"},
		{"invalid Temperature", func(c *Config) { c.Model.Temperature = 3.0 }, "temperature"},
		{"zero max tokens", func(c *Config) { c.Model.MaxTokens = 0 }, "max_tokens"},
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }, "storage.db_path"},
		{"zero token limit", func(c *Config) { c.Memory.TokenLimit = 0 }, "token_limit"},
		{"ratio above one", func(c *Config) { c.Memory.ChatHistoryTokenRatio = 1.5 }, "chat_history_token_ratio"},
		{"flush size above ceiling", func(c *Config) { c.Memory.TokenFlushSize = 25000 }, "exceeds short-term ceiling"},
		{"bad insert method", func(c *Config) { c.Memory.InsertMethod = "assistant" }, "insert_method"},
		{"unnamed block", func(c *Config) { c.Memory.Blocks[0].Name = "" }, "name cannot be empty"},
		{"duplicate block", func(c *Config) { c.Memory.Blocks[1].Name = "facts" }, "duplicate block"},
		{"unknown block type", func(c *Config) { c.Memory.Blocks[0].Type = "graph" }, "unknown type"},
		{"static with priority", func(c *Config) {
			c.Memory.Blocks = append(c.Memory.Blocks, BlockConfig{Type: BlockTypeStatic, Name: "persona", Priority: 1, Content: "x"})
		}, "must have priority 0"},
		{"vector without embedding model", func(c *Config) { c.Embedding.Model = "" }, "embedding.base_url"},
		{"no vector block needs no embedding", func(c *Config) {
			c.Embedding.Model = ""
			c.Memory.Blocks = c.Memory.Blocks[:1]
		}, ""},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CreatesDefault(t *testing.T) {
	dir := useTempConfigDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Memory.TokenLimit != DefaultConfig().Memory.TokenLimit {
		t.Errorf("Expected defaults, got %+v", cfg.Memory)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("Default config file should have been written: %v", err)
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := useTempConfigDir(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	yamlContent := `memory:
  token_limit: 1000
  token_flush_size: 100
  insert_method: user
  blocks:
    - type: static
      name: persona
      priority: 0
      content: You are terse.
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Memory.TokenLimit != 1000 || cfg.Memory.TokenFlushSize != 100 {
		t.Errorf("File values not applied: %+v", cfg.Memory)
	}
	if cfg.Memory.ChatHistoryTokenRatio != 0.7 {
		t.Errorf("Missing values should keep defaults, got ratio %.2f", cfg.Memory.ChatHistoryTokenRatio)
	}
	if len(cfg.Memory.Blocks) != 1 || cfg.Memory.Blocks[0].Content != "You are terse." {
		t.Errorf("Blocks list should replace the default list: %+v", cfg.Memory.Blocks)
	}
	if cfg.Model.Model != "deepseek-chat" {
		t.Errorf("Untouched sections should keep defaults")
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := useTempConfigDir(t)
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("memory:\n  token_limit: -5\n"), 0644)

	if _, err := Load(); err == nil {
		t.Fatal("Expected validation error")
	}
}

func TestSaveAndLoad_SecretsNotPersisted(t *testing.T) {
	dir := useTempConfigDir(t)

	cfg := DefaultConfig()
	cfg.Model.APIKey = "test-api-key"
	if err := Save(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "test-api-key") {
		t.Error("API key must not be written to config.yaml")
	}
	if cfg.Model.APIKey != "test-api-key" {
		t.Error("Save must not modify the caller's config")
	}

	secrets := "# keys\nAIMEM_API_KEY=sk-from-secrets-file\n"
	if err := os.WriteFile(filepath.Join(dir, ".secrets"), []byte(secrets), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Model.APIKey != "sk-from-secrets-file" {
		t.Errorf("Expected key from secrets, got %q", loaded.Model.APIKey)
	}
	if loaded.Embedding.APIKey != "sk-from-secrets-file" {
		t.Errorf("Embedding key should fall back to the model key, got %q", loaded.Embedding.APIKey)
	}
}

func TestSecrets_EnvOverridesFile(t *testing.T) {
	dir := useTempConfigDir(t)
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, ".secrets"), []byte("AIMEM_EMBEDDING_API_KEY=file-key\n"), 0600)
	t.Setenv(KeyEmbeddingAPIKey, "env-key")

	s, err := LoadSecrets()
	if err != nil {
		t.Fatal(err)
	}
	if got := s.GetEmbeddingAPIKey(); got != "env-key" {
		t.Errorf("Expected env-key, got %q", got)
	}
	if got := s.GetOrDefault("MISSING", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %q", got)
	}
}

func TestPromptConfig(t *testing.T) {
	dir := useTempConfigDir(t)

	p, err := LoadPromptConfig()
	if err != nil {
		t.Fatal(err)
	}
	if p.GetFactExtractPrompt() != "" {
		t.Error("English prompts default to the built-in ones")
	}

	os.MkdirAll(dir, 0755)
	content := "language: zh\n"
	if err := os.WriteFile(filepath.Join(dir, "prompt.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPromptConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.GetFactCondensePrompt(), "%d") {
		t.Error("zh condense prompt should carry the max_facts placeholder")
	}

	p.Language = "fr"
	if p.GetFactExtractPrompt() != "" {
		t.Error("Unknown language should fall back to en")
	}
}

func TestIsAPIKeyConfigured(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.IsAPIKeyConfigured() {
		t.Error("Default config should not have API Key")
	}

	cfg.Model.APIKey = "test-key"
	if !cfg.IsAPIKeyConfigured() {
		t.Error("Should return true after setting API Key")
	}
}

func TestString_RedactsKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-1234567890abcdef"

	s := cfg.String()
	if strings.Contains(s, "sk-1234567890abcdef") {
		t.Error("String must not print the full key")
	}
	if !strings.Contains(s, "sk-12345...") || !strings.Contains(s, "history (vector, priority 2)") {
		t.Errorf("Unexpected output:\n%s", s)
	}
}
