package memory

import "context"

// StaticBlock always renders the same fixed content.
// It cannot be truncated, so it is only valid at priority 0.
type StaticBlock struct {
	content string
}

// NewStaticBlock creates a static block
func NewStaticBlock(content string) *StaticBlock {
	return &StaticBlock{content: content}
}

// Ingest is a no-op
func (b *StaticBlock) Ingest(_ context.Context, _ []Message) error {
	return nil
}

// Retrieve returns the fixed content verbatim
func (b *StaticBlock) Retrieve(_ context.Context, _ []Message) (Rendering, error) {
	return textRendering(b.content), nil
}

// Reset is a no-op; the content is configuration, not state
func (b *StaticBlock) Reset(_ context.Context) error {
	return nil
}

// Truncatable implements Truncatable
func (b *StaticBlock) Truncatable() bool {
	return false
}
