package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SQLiteVectorStore stores vectors as BLOBs and computes cosine similarity
// at query time. A full scan per query; fine for a few thousand records.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore opens (or creates) a vector database
func NewSQLiteVectorStore(dbPath string) (*SQLiteVectorStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteVectorStore{db: db}

	if err := store.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteVectorStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS memory_vectors (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			vector BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			norm REAL NOT NULL,
			payload BLOB,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to initialize vector table: %w", err)
		}
	}

	return nil
}

// Upsert implements VectorStore; re-inserting an id replaces the record
func (s *SQLiteVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for record %s", id)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_vectors (collection, id, vector, dimension, norm, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collection, id, vectorToBlob(vector), len(vector), calculateNorm(vector), payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

// Query implements VectorStore
func (s *SQLiteVectorStore) Query(ctx context.Context, collection string, vector []float32, topK int) ([]VectorMatch, error) {
	queryNorm := calculateNorm(vector)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query vector has zero norm")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, vector, norm, payload FROM memory_vectors WHERE collection = ? AND dimension = ?",
		collection, len(vector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []VectorMatch
	for rows.Next() {
		var id string
		var blob, payload []byte
		var norm float64
		if err := rows.Scan(&id, &blob, &norm, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		if norm == 0 {
			continue
		}

		results = append(results, VectorMatch{
			ID:      id,
			Score:   calculateDotProduct(vector, blobToVector(blob)) / (queryNorm * norm),
			Payload: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vectors: %w", err)
	}

	return rankMatches(results, topK), nil
}

// DeleteCollection implements VectorStore
func (s *SQLiteVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_vectors WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in a collection
func (s *SQLiteVectorStore) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_vectors WHERE collection = ?", collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteVectorStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// vectorToBlob encodes a vector as little-endian float32s
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// calculateNorm L2 norm
func calculateNorm(vector []float32) float64 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func calculateDotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
