package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PromptConfig prompt configuration structure
type PromptConfig struct {
	Language string                     `yaml:"language"`
	Prompts  map[string]LanguagePrompts `yaml:"prompts"`
}

// LanguagePrompts fact block prompts for one language. Empty fields fall
// back to the built-in English prompts.
type LanguagePrompts struct {
	FactExtract  string `yaml:"fact_extract"`
	FactCondense string `yaml:"fact_condense"` // may contain one %d for max_facts
}

// DefaultPromptConfig returns default prompt configuration
func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		Language: "en",
		Prompts: map[string]LanguagePrompts{
			"en": {},
			"zh": {
				FactExtract: `你负责从对话中提取需要长期记住的事实。
以 JSON 字符串数组返回简短、独立的事实陈述，内容包括用户本人、偏好、决定以及提到的实体。
每个字符串只包含一条事实，不要包含寒暄。如果没有值得保留的内容，返回 []。`,
				FactCondense: `你负责维护一份精简的事实列表。
合并重复项，删除已被新事实取代的旧事实，列表不超过 %d 条。以 JSON 字符串数组返回结果。`,
			},
		},
	}
}

// PromptConfigPath returns the prompt config file path
func PromptConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "prompt.yaml"), nil
}

// LoadPromptConfig loads prompt configuration from file
func LoadPromptConfig() (*PromptConfig, error) {
	configPath, err := PromptConfigPath()
	if err != nil {
		return DefaultPromptConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultPromptConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt config: %w", err)
	}

	cfg := DefaultPromptConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse prompt config: %w", err)
	}

	return cfg, nil
}

// GetPrompts returns prompts for the configured language
func (p *PromptConfig) GetPrompts() LanguagePrompts {
	if prompts, ok := p.Prompts[p.Language]; ok {
		return prompts
	}
	return p.Prompts["en"]
}

// GetFactExtractPrompt returns the extraction prompt, empty for the built-in one
func (p *PromptConfig) GetFactExtractPrompt() string {
	return p.GetPrompts().FactExtract
}

// GetFactCondensePrompt returns the condense prompt, empty for the built-in one
func (p *PromptConfig) GetFactCondensePrompt() string {
	return p.GetPrompts().FactCondense
}
