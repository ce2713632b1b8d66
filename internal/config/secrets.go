package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Secret keys read from .secrets or the environment
const (
	KeyAPIKey          = "AIMEM_API_KEY"
	KeyEmbeddingAPIKey = "AIMEM_EMBEDDING_API_KEY"
)

// Secrets sensitive configuration loaded from the .secrets file
type Secrets struct {
	values map[string]string
}

// NewSecrets creates a new Secrets instance
func NewSecrets() *Secrets {
	return &Secrets{
		values: make(map[string]string),
	}
}

// SecretsPath returns the secrets file path
func SecretsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".secrets"), nil
}

// LoadSecrets reads KEY=value pairs from .secrets. A missing file yields
// empty secrets; a malformed one is an error.
func LoadSecrets() (*Secrets, error) {
	secrets := NewSecrets()

	secretsPath, err := SecretsPath()
	if err != nil {
		return secrets, nil
	}
	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return secrets, nil
	}

	values, err := godotenv.Read(secretsPath)
	if err != nil {
		return secrets, fmt.Errorf("failed to parse secrets file: %w", err)
	}
	secrets.values = values
	return secrets, nil
}

// Get returns the value for a key. Environment variables win over the file.
func (s *Secrets) Get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// GetOrDefault returns the value for a key, or the default value if not found
func (s *Secrets) GetOrDefault(key, defaultValue string) string {
	if v := s.Get(key); v != "" {
		return v
	}
	return defaultValue
}

// GetAPIKey returns the chat model API key
func (s *Secrets) GetAPIKey() string {
	return s.Get(KeyAPIKey)
}

// GetEmbeddingAPIKey returns the embedding API key
func (s *Secrets) GetEmbeddingAPIKey() string {
	return s.Get(KeyEmbeddingAPIKey)
}
