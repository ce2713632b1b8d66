package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// scriptedCompleter turns every "user: ..." transcript line into a fact.
// Condense requests keep the last keep facts.
type scriptedCompleter struct {
	mu            sync.Mutex
	extractCalls  int
	condenseCalls int
	keep          int
	err           error
	condenseErr   error
}

func (c *scriptedCompleter) Complete(_ context.Context, instructions, input string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}

	var facts []string
	if instructions == DefaultFactExtractPrompt {
		c.extractCalls++
		for _, line := range strings.Split(input, "\n") {
			if text, ok := strings.CutPrefix(line, "user: "); ok {
				facts = append(facts, "User said: "+text)
			}
		}
	} else {
		c.condenseCalls++
		if c.condenseErr != nil {
			return "", c.condenseErr
		}
		for _, line := range strings.Split(strings.TrimSpace(input), "\n") {
			if _, text, ok := strings.Cut(line, ". "); ok {
				facts = append(facts, text)
			}
		}
		if c.keep > 0 && len(facts) > c.keep {
			facts = facts[len(facts)-c.keep:]
		}
	}

	data, _ := json.Marshal(facts)
	return string(data), nil
}

func (c *scriptedCompleter) calls() (extract, condense int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extractCalls, c.condenseCalls
}

// hashEmbedder is a bag-of-words embedder over 16 hashed buckets
type hashEmbedder struct {
	err error
}

func (e hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, 16)
	v[0] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[1+h.Sum32()%15]++
	}
	return v, nil
}

// recordingBlock records every batch it ingests
type recordingBlock struct {
	mu       sync.Mutex
	batches  [][]Message
	resets   int
	delay    time.Duration
	inflight int
	maxIn    int
	err      error
}

func (b *recordingBlock) Ingest(ctx context.Context, batch []Message) error {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxIn {
		b.maxIn = b.inflight
	}
	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, batch)
	return nil
}

func (b *recordingBlock) Retrieve(_ context.Context, _ []Message) (Rendering, error) {
	return emptyRendering, nil
}

func (b *recordingBlock) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = nil
	b.resets++
	return nil
}

func (b *recordingBlock) ingested() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, batch := range b.batches {
		out = append(out, batch...)
	}
	return out
}

// slowBlock never answers before its context is done
type slowBlock struct{}

func (slowBlock) Ingest(_ context.Context, _ []Message) error { return nil }
func (slowBlock) Retrieve(ctx context.Context, _ []Message) (Rendering, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowBlock) Reset(_ context.Context) error { return nil }

// failingSessionStore rejects every write
type failingSessionStore struct {
	*MemorySessionStore
}

func (failingSessionStore) Append(_ context.Context, _ string, _ []Message) error {
	return errors.New("disk full")
}

// user / assistant build plain messages
func user(format string, args ...any) Message {
	return NewMessage(RoleUser, fmt.Sprintf(format, args...))
}

func assistant(format string, args ...any) Message {
	return NewMessage(RoleAssistant, fmt.Sprintf(format, args...))
}
