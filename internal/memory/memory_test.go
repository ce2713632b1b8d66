package memory

import (
	"errors"
	"strings"
	"testing"
)

func TestHeuristicCounter(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"你好世界", 1},
		{strings.Repeat("x", 40), 10},
	}

	var c HeuristicCounter
	for _, tt := range tests {
		if got := c.Count(tt.text); got != tt.expected {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.expected)
		}
	}
}

func TestCountMessage(t *testing.T) {
	c := HeuristicCounter{}

	plain := NewMessage(RoleUser, "abcdefgh")
	if got := CountMessage(c, plain); got != messageOverhead+2 {
		t.Errorf("Expected %d, got %d", messageOverhead+2, got)
	}

	structured := Message{
		Role: RoleUser,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "abcd"},
			{Type: BlockImage},
			{Type: BlockToolCall, Data: `{"q":"x"}`},
		},
	}
	want := messageOverhead + 1 + nonTextBlockTokens + c.Count(`{"q":"x"}`)
	if got := CountMessage(c, structured); got != want {
		t.Errorf("Expected %d, got %d", want, got)
	}

	if got := CountMessages(c, []Message{plain, plain}); got != 2*(messageOverhead+2) {
		t.Errorf("Expected span cost %d, got %d", 2*(messageOverhead+2), got)
	}
}

func TestMessageText(t *testing.T) {
	m := Message{
		Role:    RoleUser,
		Content: "look at this",
		Blocks: []ContentBlock{
			{Type: BlockImage, Data: "https://example.com/a.png"},
			{Type: BlockText, Text: "and this"},
		},
	}
	if got := m.Text(); got != "look at this\nand this" {
		t.Errorf("Unexpected text: %q", got)
	}

	if err := (Message{Role: "robot"}).Validate(); err == nil {
		t.Error("Unknown role should be rejected")
	}
}

func TestMessageCloneIsIndependent(t *testing.T) {
	orig := Message{Role: RoleUser, Blocks: []ContentBlock{{Type: BlockText, Text: "a"}}}
	c := orig.Clone()
	c.Blocks[0].Text = "b"
	if orig.Blocks[0].Text != "a" {
		t.Error("Clone shares blocks with the original")
	}
}

// costs: 8, 10, 11, 12 tokens
func roundMessages(round int) []Message {
	return []Message{
		user("Hello, assistant"),
		assistant("Hi! What can I do today?"),
		user("Round %03d: what do I prefer?", round),
		assistant("You prefer short answers, %03d.", round),
	}
}

func TestShortTermStore_PeekOverflow(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(roundMessages(1)...)

	if got := s.Cost(); got != 41 {
		t.Fatalf("Expected cost 41, got %d", got)
	}

	// Shortest prefix with cost >= 10 leaving <= 35 is [H, Hr]; Q is a user turn
	span := s.PeekOverflow(35, 10)
	if len(span) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(span))
	}
	if span[0].Content != "Hello, assistant" {
		t.Errorf("Span should start with the oldest message, got %q", span[0].Content)
	}

	// Peek does not mutate
	if s.Len() != 4 {
		t.Errorf("Peek should not evict, len = %d", s.Len())
	}
}

func TestShortTermStore_PeekOverflowAlignsToUserTurn(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(
		user("Round 001: what do I prefer?"),   // 11
		assistant("You prefer short answers."), // 11
		user("Hello, assistant"),               // 8
		assistant("Hi! What can I do today?"),  // 10
	)

	// [Q] alone qualifies; extended over the assistant reply
	span := s.PeekOverflow(35, 10)
	if len(span) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(span))
	}
	if span[1].Role != RoleAssistant {
		t.Errorf("Expected span to end on the assistant reply")
	}
}

func TestShortTermStore_PeekOverflowNeverFlushesLastByAlignment(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(
		user(strings.Repeat("a", 40)),      // 14
		assistant(strings.Repeat("b", 40)), // 14
		assistant(strings.Repeat("c", 40)), // 14
	)

	span := s.PeekOverflow(30, 10)
	if len(span) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(span))
	}
}

func TestShortTermStore_PeekOverflowSingleHugeMessage(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(user(strings.Repeat("z", 400)))

	span := s.PeekOverflow(35, 10)
	if len(span) != 1 {
		t.Fatalf("A message over the ceiling should be flushed alone, got %d", len(span))
	}
}

func TestShortTermStore_PeekOverflowNothingQualifies(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(user("hi"))

	if span := s.PeekOverflow(35, 10); span != nil {
		t.Errorf("Expected nil, got %d messages", len(span))
	}
	if span := NewShortTermStore(nil).PeekOverflow(35, 10); span != nil {
		t.Errorf("Expected nil for empty store")
	}
}

func TestShortTermStore_EvictAndClear(t *testing.T) {
	s := NewShortTermStore(nil)
	s.Append(roundMessages(1)...)

	if n := s.Evict(3); n != 3 {
		t.Errorf("Expected 3 evicted, got %d", n)
	}
	if n := s.Evict(10); n != 1 {
		t.Errorf("Expected 1 evicted, got %d", n)
	}
	if n := s.Evict(1); n != 0 {
		t.Errorf("Expected 0 evicted, got %d", n)
	}

	s.Append(roundMessages(2)...)
	s.Clear()
	if s.Len() != 0 || s.Cost() != 0 {
		t.Errorf("Clear should empty the store")
	}
}

func TestBudget(t *testing.T) {
	b := Budget{TokenLimit: 50, ChatHistoryTokenRatio: 0.7, TokenFlushSize: 10}
	if b.ShortTermCeiling() != 35 {
		t.Errorf("Expected ceiling 35, got %d", b.ShortTermCeiling())
	}
	if b.LongTermCeiling() != 15 {
		t.Errorf("Expected long-term ceiling 15, got %d", b.LongTermCeiling())
	}
	if err := DefaultBudget().Validate(); err != nil {
		t.Errorf("Default budget should be valid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	static := NewStaticBlock("X")
	valid := func() Config {
		return Config{
			SessionID: "s",
			Budget:    Budget{TokenLimit: 50, ChatHistoryTokenRatio: 0.7, TokenFlushSize: 10},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty session id", func(c *Config) { c.SessionID = "" }},
		{"zero limit", func(c *Config) { c.Budget.TokenLimit = 0 }},
		{"zero ratio", func(c *Config) { c.Budget.ChatHistoryTokenRatio = 0 }},
		{"ratio above one", func(c *Config) { c.Budget.ChatHistoryTokenRatio = 1.5 }},
		{"zero flush size", func(c *Config) { c.Budget.TokenFlushSize = 0 }},
		{"flush size above ceiling", func(c *Config) { c.Budget.TokenFlushSize = 36 }},
		{"unknown insert method", func(c *Config) { c.InsertMethod = "assistant" }},
		{"empty block name", func(c *Config) {
			c.Blocks = []BlockSpec{{Name: "", Block: static}}
		}},
		{"duplicate block name", func(c *Config) {
			c.Blocks = []BlockSpec{{Name: "a", Block: static}, {Name: "a", Block: static}}
		}},
		{"nil block", func(c *Config) {
			c.Blocks = []BlockSpec{{Name: "a"}}
		}},
		{"negative priority", func(c *Config) {
			c.Blocks = []BlockSpec{{Name: "a", Priority: -1, Block: &recordingBlock{}}}
		}},
		{"static block with non-zero priority", func(c *Config) {
			c.Blocks = []BlockSpec{{Name: "core", Priority: 1, Block: static}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			_, err := NewManager(cfg)
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if !IsConfigError(err) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	m, err := NewManager(valid())
	if err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}
	defer m.Close()
	if m.cfg.InsertMethod != InsertSystem {
		t.Errorf("Expected default insert method system, got %q", m.cfg.InsertMethod)
	}
}

func TestMemoryErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := serviceError("ingest", "facts", cause)

	if !IsExternalServiceError(err) {
		t.Error("Expected external service kind")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable")
	}
	if IsStorageError(err) {
		t.Error("Unexpected storage kind")
	}

	msg := err.Error()
	if !strings.Contains(msg, "block=facts") || !strings.Contains(msg, "connection refused") {
		t.Errorf("Unexpected error message: %s", msg)
	}
}
