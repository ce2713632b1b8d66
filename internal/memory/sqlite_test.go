package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*SQLiteSessionStore, *SQLiteVectorStore, func()) {
	tmpDir, err := os.MkdirTemp("", "aimem-memory-test")
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := NewSQLiteSessionStore(filepath.Join(tmpDir, "sessions.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}
	vectors, err := NewSQLiteVectorStore(filepath.Join(tmpDir, "vectors", "vectors.db"))
	if err != nil {
		sessions.Close()
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	cleanup := func() {
		sessions.Close()
		vectors.Close()
		os.RemoveAll(tmpDir)
	}

	return sessions, vectors, cleanup
}

func TestSQLiteSessionStore_AppendAndLoad(t *testing.T) {
	sessions, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	msgs := []Message{
		user("first"),
		{Role: RoleAssistant, Blocks: []ContentBlock{{Type: BlockToolCall, Data: `{"name":"lookup"}`}}},
		NewMessage(RoleTool, "result"),
	}
	if err := sessions.Append(ctx, "s1", msgs[:2]); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := sessions.Append(ctx, "s1", msgs[2:]); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := sessions.Append(ctx, "s2", []Message{user("other session")}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	loaded, err := sessions.LoadAll(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "first" || loaded[2].Role != RoleTool {
		t.Errorf("Messages out of order: %+v", loaded)
	}
	if len(loaded[1].Blocks) != 1 || loaded[1].Blocks[0].Data != `{"name":"lookup"}` {
		t.Errorf("Structured content lost: %+v", loaded[1])
	}
	if loaded[1].CreatedAt.IsZero() {
		t.Errorf("Missing timestamp should be filled on append")
	}

	empty, err := sessions.LoadAll(ctx, "missing")
	if err != nil {
		t.Fatalf("Loading an unknown session should not fail: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no messages, got %d", len(empty))
	}
}

func TestSQLiteSessionStore_ClearAndList(t *testing.T) {
	sessions, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_ = sessions.Append(ctx, "s1", []Message{user("a"), assistant("b")})
	_ = sessions.Append(ctx, "s2", []Message{user("c")})

	list, err := sessions.ListSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(list))
	}
	counts := map[string]int{}
	for _, s := range list {
		counts[s.ID] = s.MessageCount
	}
	if counts["s1"] != 2 || counts["s2"] != 1 {
		t.Errorf("Unexpected message counts: %v", counts)
	}

	if err := sessions.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if err := sessions.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clearing twice should not fail: %v", err)
	}

	loaded, _ := sessions.LoadAll(ctx, "s1")
	if len(loaded) != 0 {
		t.Errorf("Expected cleared session, got %d messages", len(loaded))
	}
	other, _ := sessions.LoadAll(ctx, "s2")
	if len(other) != 1 {
		t.Errorf("Other sessions must be untouched")
	}
}

func TestSQLiteVectorStore(t *testing.T) {
	_, vectors, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := vectors.Upsert(ctx, "c1", "a", []float32{1, 0, 0}, []byte("alpha")); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	_ = vectors.Upsert(ctx, "c1", "b", []float32{0, 1, 0}, []byte("beta"))
	_ = vectors.Upsert(ctx, "c1", "c", []float32{1, 1, 0}, []byte("gamma"))
	_ = vectors.Upsert(ctx, "c2", "a", []float32{1, 0, 0}, []byte("other"))

	// Re-upsert replaces
	_ = vectors.Upsert(ctx, "c1", "a", []float32{1, 0, 0}, []byte("alpha2"))
	if n, _ := vectors.Count(ctx, "c1"); n != 3 {
		t.Errorf("Expected 3 records, got %d", n)
	}

	matches, err := vectors.Query(ctx, "c1", []float32{1, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected top 2, got %d", len(matches))
	}
	if matches[0].ID != "a" || string(matches[0].Payload) != "alpha2" {
		t.Errorf("Expected best match a/alpha2, got %s/%s", matches[0].ID, matches[0].Payload)
	}
	if matches[1].ID != "c" {
		t.Errorf("Expected second match c, got %s", matches[1].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("Matches should be ranked by score")
	}

	if _, err := vectors.Query(ctx, "c1", []float32{0, 0, 0}, 2); err == nil {
		t.Error("Expected error for a zero query vector")
	}

	if err := vectors.DeleteCollection(ctx, "c1"); err != nil {
		t.Fatalf("Failed to delete collection: %v", err)
	}
	if n, _ := vectors.Count(ctx, "c1"); n != 0 {
		t.Errorf("Expected empty collection, got %d", n)
	}
	if n, _ := vectors.Count(ctx, "c2"); n != 1 {
		t.Errorf("Other collections must be untouched, got %d", n)
	}
}

func TestMemoryVectorStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryVectorStore()

	_ = s.Upsert(ctx, "c", "a", []float32{1, 0}, []byte("a"))
	_ = s.Upsert(ctx, "c", "b", []float32{0, 1}, []byte("b"))
	_ = s.Upsert(ctx, "c", "a", []float32{1, 0}, []byte("a2"))

	if s.Count("c") != 2 {
		t.Errorf("Expected 2 records, got %d", s.Count("c"))
	}

	matches, err := s.Query(ctx, "c", []float32{0.9, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "a" || string(matches[0].Payload) != "a2" {
		t.Errorf("Unexpected matches: %+v", matches)
	}

	_ = s.DeleteCollection(ctx, "c")
	if s.Count("c") != 0 {
		t.Errorf("Expected empty collection")
	}
}

func TestManagerWithSQLiteStores(t *testing.T) {
	sessions, vectors, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	vec, err := NewVectorBlock(VectorBlockConfig{Embedder: hashEmbedder{}, Store: vectors, Collection: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(Config{
		SessionID:          "s1",
		Budget:             Budget{TokenLimit: 50, ChatHistoryTokenRatio: 0.7, TokenFlushSize: 10},
		Blocks:             []BlockSpec{{Name: "history", Priority: 1, Block: vec}},
		Sessions:           sessions,
		ResetClearsSession: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for round := 1; round <= 5; round++ {
		if err := m.PutBatch(ctx, roundMessages(round)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := m.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	all, err := m.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 20 {
		t.Errorf("Expected 20 messages, got %d", len(all))
	}
	if n, _ := vectors.Count(ctx, "s1"); n == 0 {
		t.Errorf("Expected flushed batches in the vector store")
	}

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	all, _ = m.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("Expected empty session after reset, got %d", len(all))
	}
	if n, _ := vectors.Count(ctx, "s1"); n != 0 {
		t.Errorf("Expected empty collection after reset, got %d", n)
	}
}

func TestSQLiteSessionStore_Facts(t *testing.T) {
	sessions, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	facts := []StoredFact{{Text: "User likes tea", Seq: 3}, {Text: "User has a cat", Seq: 1}}
	if err := sessions.SaveFacts(ctx, "s1:facts", facts); err != nil {
		t.Fatalf("Failed to save facts: %v", err)
	}
	if err := sessions.SaveFacts(ctx, "s2:facts", []StoredFact{{Text: "Other", Seq: 1}}); err != nil {
		t.Fatalf("Failed to save facts: %v", err)
	}

	loaded, err := sessions.LoadFacts(ctx, "s1:facts")
	if err != nil {
		t.Fatalf("Failed to load facts: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != facts[0] || loaded[1] != facts[1] {
		t.Errorf("Unexpected facts: %+v", loaded)
	}

	// Saving replaces the whole set
	if err := sessions.SaveFacts(ctx, "s1:facts", facts[1:]); err != nil {
		t.Fatal(err)
	}
	loaded, _ = sessions.LoadFacts(ctx, "s1:facts")
	if len(loaded) != 1 || loaded[0].Text != "User has a cat" {
		t.Errorf("Expected replaced set, got %+v", loaded)
	}

	if err := sessions.SaveFacts(ctx, "s1:facts", nil); err != nil {
		t.Fatal(err)
	}
	loaded, _ = sessions.LoadFacts(ctx, "s1:facts")
	if len(loaded) != 0 {
		t.Errorf("Expected deleted set, got %+v", loaded)
	}
	other, _ := sessions.LoadFacts(ctx, "s2:facts")
	if len(other) != 1 {
		t.Errorf("Other collections must be untouched")
	}
}

func TestManagerResumesSQLiteSession(t *testing.T) {
	sessions, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cfg := Config{
		SessionID: "s1",
		Budget:    Budget{TokenLimit: 50, ChatHistoryTokenRatio: 0.7, TokenFlushSize: 10},
		Sessions:  sessions,
	}

	first, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for round := 1; round <= 5; round++ {
		if err := first.PutBatch(ctx, roundMessages(round)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	before, _ := first.Get(ctx)
	first.Close()

	second, err := NewManager(cfg, WithRestoredHistory(ctx))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	after, err := second.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) < len(before) {
		t.Fatalf("Expected at least %d restored messages, got %d", len(before), len(after))
	}
	tail := after[len(after)-len(before):]
	for i := range before {
		if tail[i].Content != before[i].Content {
			t.Errorf("Restored message %d = %q, want %q", i, tail[i].Content, before[i].Content)
		}
	}
}
