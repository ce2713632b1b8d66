package memory

import "unicode/utf8"

// TokenCounter converts text into an integer token cost.
// Implementations must be deterministic and stateless. Costs are not
// guaranteed to be additive under concatenation, so callers recompute the
// cost of any span they measure.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates tokens as ceil(runes / 4).
type HeuristicCounter struct{}

// Count implements TokenCounter
func (HeuristicCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

const (
	// messageOverhead is the fixed framing cost of a message (role markers etc.)
	messageOverhead = 4

	// nonTextBlockTokens is the fallback cost of a non-text block without payload
	nonTextBlockTokens = 16
)

// CountMessage returns the token cost of a single message.
// Non-text blocks are costed by the counter over their Data payload, or
// nonTextBlockTokens when they carry none.
func CountMessage(c TokenCounter, m Message) int {
	total := messageOverhead + c.Count(m.Content)
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			total += c.Count(b.Text)
		default:
			if b.Data != "" {
				total += c.Count(b.Data)
			} else {
				total += nonTextBlockTokens
			}
		}
	}
	return total
}

// CountMessages returns the cost of a span of messages
func CountMessages(c TokenCounter, msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += CountMessage(c, m)
	}
	return total
}
