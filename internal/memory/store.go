package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session summary of a stored session
type Session struct {
	ID           string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionLister is implemented by session stores that can enumerate sessions
type SessionLister interface {
	ListSessions(ctx context.Context) ([]Session, error)
}

// NewSessionID generates a new session id
func NewSessionID() string {
	return uuid.New().String()
}

// MemorySessionStore keeps session ledgers in process memory
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	facts    map[string][]StoredFact
}

type memorySession struct {
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*memorySession),
		facts:    make(map[string][]StoredFact),
	}
}

// Append implements SessionStore
func (s *MemorySessionStore) Append(ctx context.Context, sessionID string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{createdAt: now}
		s.sessions[sessionID] = sess
	}
	for _, m := range msgs {
		sess.messages = append(sess.messages, m.Clone())
	}
	sess.updatedAt = now
	return nil
}

// LoadAll implements SessionStore
func (s *MemorySessionStore) LoadAll(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return []Message{}, nil
	}
	out := cloneMessages(sess.messages)
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// Clear implements SessionStore
func (s *MemorySessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// ListSessions implements SessionLister, newest first
func (s *MemorySessionStore) ListSessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, Session{
			ID:           id,
			MessageCount: len(sess.messages),
			CreatedAt:    sess.createdAt,
			UpdatedAt:    sess.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// LoadFacts implements FactStore
func (s *MemorySessionStore) LoadFacts(ctx context.Context, collection string) ([]StoredFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredFact(nil), s.facts[collection]...), nil
}

// SaveFacts implements FactStore
func (s *MemorySessionStore) SaveFacts(ctx context.Context, collection string, facts []StoredFact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(facts) == 0 {
		delete(s.facts, collection)
		return nil
	}
	s.facts[collection] = append([]StoredFact(nil), facts...)
	return nil
}

// MemoryVectorStore is a brute-force cosine similarity store held in memory
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]vectorRecord
}

type vectorRecord struct {
	vector  []float32
	norm    float64
	payload []byte
}

// NewMemoryVectorStore creates an empty in-memory vector store
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{collections: make(map[string]map[string]vectorRecord)}
}

// Upsert implements VectorStore
func (s *MemoryVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]vectorRecord)
		s.collections[collection] = coll
	}

	v := make([]float32, len(vector))
	copy(v, vector)
	p := make([]byte, len(payload))
	copy(p, payload)
	coll[id] = vectorRecord{vector: v, norm: calculateNorm(v), payload: p}
	return nil
}

// Query implements VectorStore
func (s *MemoryVectorStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queryNorm := calculateNorm(vector)
	var results []VectorMatch
	for id, rec := range s.collections[collection] {
		if rec.norm == 0 || queryNorm == 0 || len(rec.vector) != len(vector) {
			continue
		}
		results = append(results, VectorMatch{
			ID:      id,
			Score:   calculateDotProduct(vector, rec.vector) / (queryNorm * rec.norm),
			Payload: rec.payload,
		})
	}
	return rankMatches(results, topK), nil
}

// DeleteCollection implements VectorStore
func (s *MemoryVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

// Count returns the number of records in a collection
func (s *MemoryVectorStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// rankMatches sorts by descending score (id breaks ties) and keeps topK
func rankMatches(results []VectorMatch, topK int) []VectorMatch {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
