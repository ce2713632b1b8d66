package memory

import (
	"context"
	"sort"
)

// Block is a long-term memory block. It receives flushed message batches
// and contributes rendered text back into the merged view.
type Block interface {
	// Ingest absorbs a batch of messages flushed from short-term memory
	Ingest(ctx context.Context, batch []Message) error

	// Retrieve renders the block's content for the given recent messages.
	// The returned Rendering belongs to one retrieval cycle.
	Retrieve(ctx context.Context, recent []Message) (Rendering, error)

	// Reset clears the block's internal state
	Reset(ctx context.Context) error
}

// Rendering is the content a block produced for one retrieval cycle.
// Truncate only shrinks this rendering; the block's stored data is untouched.
type Rendering interface {
	Text() string

	// Truncate drops content until at least excessTokens have been freed or
	// nothing is left to drop. Returns the tokens actually freed.
	Truncate(excessTokens int) int
}

// Truncatable is implemented by blocks that can tell whether their
// renderings ever shrink. Blocks that report false must have priority 0.
type Truncatable interface {
	Truncatable() bool
}

// BlockSpec registers a block with a manager
type BlockSpec struct {
	Name     string
	Priority int // 0 = never truncated; higher values are truncated first
	Block    Block
}

type blockSlot struct {
	BlockSpec
	order int // declaration order
}

func (s *blockSlot) truncatable() bool {
	if t, ok := s.Block.(Truncatable); ok {
		return t.Truncatable()
	}
	return true
}

// byPriority returns slots sorted by ascending priority, ties in declaration order
func byPriority(slots []*blockSlot) []*blockSlot {
	out := make([]*blockSlot, len(slots))
	copy(out, slots)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out
}

// textRendering is a Rendering that can never be truncated
type textRendering string

func (r textRendering) Text() string        { return string(r) }
func (r textRendering) Truncate(_ int) int { return 0 }

var emptyRendering Rendering = textRendering("")
