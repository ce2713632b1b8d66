package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"

	"github.com/hession/aimem/internal/logger"
)

// VectorBlock defaults
const (
	DefaultSimilarityTopK         = 2
	DefaultRetrievalContextWindow = 5
	DefaultVectorCollection       = "memory"
)

// VectorBlockConfig VectorBlock configuration
type VectorBlockConfig struct {
	Embedder Embedder
	Store    VectorStore

	// Collection namespaces this block's records inside the store
	Collection string

	// SimilarityTopK number of batches returned per retrieval
	SimilarityTopK int

	// RetrievalContextWindow number of recent messages embedded as the query
	RetrievalContextWindow int

	Counter TokenCounter
}

// vectorBatch is the stored payload of one flushed batch. Seq orders
// batches whose first messages carry the same timestamp.
type vectorBatch struct {
	Messages []Message `cbor:"1,keyasint"`
	Seq      int64     `cbor:"2,keyasint,omitempty"`
}

var (
	batchEncMode cbor.EncMode
	batchDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	batchEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("memory: CBOR encoder initialization failed: " + err.Error())
	}

	batchDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("memory: CBOR decoder initialization failed: " + err.Error())
	}
}

// VectorBlock stores each flushed batch as one embedded record and recalls
// the batches most similar to the recent conversation
type VectorBlock struct {
	cfg VectorBlockConfig

	mu      sync.Mutex
	lastSeq int64
}

// NewVectorBlock creates a vector block
func NewVectorBlock(cfg VectorBlockConfig) (*VectorBlock, error) {
	if cfg.Embedder == nil {
		return nil, configError("vector block requires an embedder")
	}
	if cfg.Store == nil {
		return nil, configError("vector block requires a vector store")
	}
	if cfg.SimilarityTopK < 0 {
		return nil, configError("similarity_top_k must be greater than 0, got %d", cfg.SimilarityTopK)
	}
	if cfg.RetrievalContextWindow < 0 {
		return nil, configError("retrieval_context_window must be greater than 0, got %d", cfg.RetrievalContextWindow)
	}
	if cfg.SimilarityTopK == 0 {
		cfg.SimilarityTopK = DefaultSimilarityTopK
	}
	if cfg.RetrievalContextWindow == 0 {
		cfg.RetrievalContextWindow = DefaultRetrievalContextWindow
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultVectorCollection
	}
	if cfg.Counter == nil {
		cfg.Counter = HeuristicCounter{}
	}
	return &VectorBlock{cfg: cfg}, nil
}

// Ingest embeds the batch as a single record. The record id is derived from
// the batch content, so ingesting the same batch twice overwrites one record.
func (b *VectorBlock) Ingest(ctx context.Context, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}

	vector, err := b.cfg.Embedder.Embed(ctx, formatTranscript(batch))
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	payload, err := batchEncMode.Marshal(vectorBatch{Messages: batch, Seq: b.nextSeq()})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	id, err := batchID(batch)
	if err != nil {
		return err
	}

	if err := b.cfg.Store.Upsert(ctx, b.cfg.Collection, id, vector, payload); err != nil {
		return fmt.Errorf("upsert batch %s: %w", id, err)
	}
	logger.Debug("vector block stored batch %s (%d messages)", id, len(batch))
	return nil
}

// Retrieve queries with the most recent messages and renders the matching
// batches oldest first
func (b *VectorBlock) Retrieve(ctx context.Context, recent []Message) (Rendering, error) {
	if len(recent) == 0 {
		return emptyRendering, nil
	}
	if len(recent) > b.cfg.RetrievalContextWindow {
		recent = recent[len(recent)-b.cfg.RetrievalContextWindow:]
	}

	vector, err := b.cfg.Embedder.Embed(ctx, formatTranscript(recent))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := b.cfg.Store.Query(ctx, b.cfg.Collection, vector, b.cfg.SimilarityTopK)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	if len(matches) == 0 {
		return emptyRendering, nil
	}

	batches := make([]scoredBatch, 0, len(matches))
	for _, m := range matches {
		var vb vectorBatch
		if err := batchDecMode.Unmarshal(m.Payload, &vb); err != nil {
			logger.Warn("vector block skipped undecodable record %s: %v", m.ID, err)
			continue
		}
		if len(vb.Messages) == 0 {
			continue
		}
		batches = append(batches, scoredBatch{
			id:      m.ID,
			score:   m.Score,
			created: vb.Messages[0].CreatedAt.UnixNano(),
			seq:     vb.Seq,
			text:    formatTranscript(vb.Messages),
		})
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].before(batches[j]) })

	return &vectorRendering{batches: batches, counter: b.cfg.Counter}, nil
}

// Reset deletes the block's collection
func (b *VectorBlock) Reset(ctx context.Context) error {
	if err := b.cfg.Store.DeleteCollection(ctx, b.cfg.Collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", b.cfg.Collection, err)
	}
	return nil
}

// nextSeq returns a wall-clock sequence that strictly increases within the
// process and keeps increasing across restarts
func (b *VectorBlock) nextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= b.lastSeq {
		seq = b.lastSeq + 1
	}
	b.lastSeq = seq
	return seq
}

// batchID builds a ULID from the first message time and a blake3 digest of the batch
func batchID(batch []Message) (string, error) {
	h := blake3.New()
	for _, m := range batch {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00", m.Role, m.Text(), m.CreatedAt.UnixNano())
	}
	entropy := bytes.NewReader(h.Sum(nil))

	var ms uint64
	if first := batch[0].CreatedAt; !first.IsZero() && first.After(time.Unix(0, 0)) {
		ms = ulid.Timestamp(first)
	}

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", fmt.Errorf("build batch id: %w", err)
	}
	return id.String(), nil
}

type scoredBatch struct {
	id      string
	score   float64
	created int64 // first message, unix nanos
	seq     int64
	text    string
}

// before orders batches by first message time, then ingest sequence
func (a scoredBatch) before(b scoredBatch) bool {
	if a.created != b.created {
		return a.created < b.created
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.id < b.id
}

// vectorRendering renders recalled batches separated by blank lines
type vectorRendering struct {
	batches []scoredBatch
	counter TokenCounter
}

func (r *vectorRendering) Text() string {
	parts := make([]string, len(r.batches))
	for i, b := range r.batches {
		parts[i] = b.text
	}
	return strings.Join(parts, "\n\n")
}

// Truncate drops the least similar batches first
func (r *vectorRendering) Truncate(excessTokens int) int {
	before := r.counter.Count(r.Text())
	freed := 0
	for freed < excessTokens && len(r.batches) > 0 {
		worst := 0
		for i, b := range r.batches {
			if b.score < r.batches[worst].score {
				worst = i
			}
		}
		r.batches = append(r.batches[:worst:worst], r.batches[worst+1:]...)
		freed = before - r.counter.Count(r.Text())
	}
	return freed
}
