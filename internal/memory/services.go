package memory

import "context"

// Embedder turns text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs a single completion: instructions act as the system
// prompt, input is the material to work on.
type Completer interface {
	Complete(ctx context.Context, instructions, input string) (string, error)
}

// VectorMatch is one ranked result of a similarity query
type VectorMatch struct {
	ID      string
	Score   float64
	Payload []byte
}

// VectorStore stores vectors with opaque payloads, grouped in collections.
// Upsert must be idempotent by record id.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte) error
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]VectorMatch, error)
	DeleteCollection(ctx context.Context, collection string) error
}

// SessionStore is the durable, append-only message ledger of a session
type SessionStore interface {
	Append(ctx context.Context, sessionID string, msgs []Message) error
	LoadAll(ctx context.Context, sessionID string) ([]Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// StoredFact is one persisted fact. Seq is its last reinforcement, used to
// evict stale facts first.
type StoredFact struct {
	Text string
	Seq  uint64
}

// FactStore persists fact sets by collection. SaveFacts replaces the whole
// set; saving an empty set deletes it.
type FactStore interface {
	LoadFacts(ctx context.Context, collection string) ([]StoredFact, error)
	SaveFacts(ctx context.Context, collection string, facts []StoredFact) error
}
