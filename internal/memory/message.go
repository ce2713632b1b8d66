// Package memory implements a tiered conversational memory: a bounded
// short-term message buffer, pluggable long-term memory blocks, and a
// manager that merges both into one token-budgeted view.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// BlockType content block type
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one piece of structured message content.
// Data holds the raw payload for non-text blocks (URL, JSON arguments, ...).
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`
	Data string    `json:"data,omitempty"`
}

// Message is a single conversation turn. Treat it as immutable once it has
// been handed to a Manager.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a plain text message stamped with the current time
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Text returns the textual content of the message: Content followed by the
// text of every text block.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}

	parts := make([]string, 0, len(m.Blocks)+1)
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Clone returns a deep copy so that the copy shares no slice with m
func (m Message) Clone() Message {
	c := m
	if m.Blocks != nil {
		c.Blocks = make([]ContentBlock, len(m.Blocks))
		copy(c.Blocks, m.Blocks)
	}
	return c
}

// withAppendedText returns a copy of m with text appended to its content
func (m Message) withAppendedText(text string) Message {
	c := m.Clone()
	if c.Content == "" {
		c.Content = text
	} else {
		c.Content = c.Content + "\n\n" + text
	}
	return c
}

// Validate checks the message before it is accepted
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}

func cloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// formatTranscript renders messages as "role: text" lines for prompts and
// vector records.
func formatTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text())
	}
	return b.String()
}
