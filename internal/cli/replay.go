package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hession/aimem/internal/logger"
	"github.com/hession/aimem/internal/memory"
)

const maxReplayLine = 4 * 1024 * 1024

// Replay feeds a JSONL stream of messages through the manager, one Put per
// line, and waits for the resulting flushes. Blank lines and lines starting
// with # are skipped. Returns the number of messages recorded.
func Replay(ctx context.Context, m *memory.Manager, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	count := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var msg memory.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return count, fmt.Errorf("line %d: invalid message: %w", lineNo, err)
		}
		if err := m.Put(ctx, msg); err != nil {
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read input: %w", err)
	}

	if err := m.Wait(ctx); err != nil {
		return count, err
	}
	logger.Info("Replayed %d messages into session %s", count, m.SessionID())
	return count, nil
}
