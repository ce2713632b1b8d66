package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSessionStore SQLite session ledger implementation
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (or creates) a session database
func NewSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteSessionStore{db: db}

	if err := store.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database tables: %w", err)
	}

	return store, nil
}

// openSQLite ensures the directory exists and opens the database
func openSQLite(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// initTables initializes database tables
func (s *SQLiteSessionStore) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Append-only ledger; id gives the order
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			blocks TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS facts (
			collection TEXT NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (collection, position)
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %s, error: %w", query, err)
		}
	}

	return nil
}

// Append implements SessionStore. All messages are written in one transaction.
func (s *SQLiteSessionStore) Append(ctx context.Context, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (session_id, role, content, blocks, created_at) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		var blocks sql.NullString
		if len(msg.Blocks) > 0 {
			data, err := json.Marshal(msg.Blocks)
			if err != nil {
				return fmt.Errorf("failed to encode message blocks: %w", err)
			}
			blocks = sql.NullString{String: string(data), Valid: true}
		}

		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		if _, err := stmt.ExecContext(ctx, sessionID, string(msg.Role), msg.Content, blocks, createdAt); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadAll implements SessionStore
func (s *SQLiteSessionStore) LoadAll(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, blocks, created_at
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var role string
		var blocks sql.NullString
		if err := rows.Scan(&role, &msg.Content, &blocks, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = Role(role)
		if blocks.Valid && blocks.String != "" {
			if err := json.Unmarshal([]byte(blocks.String), &msg.Blocks); err != nil {
				return nil, fmt.Errorf("failed to decode message blocks: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, nil
}

// Clear implements SessionStore
func (s *SQLiteSessionStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// ListSessions implements SessionLister, most recently updated first
func (s *SQLiteSessionStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.updated_at, COUNT(m.id)
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// LoadFacts implements FactStore
func (s *SQLiteSessionStore) LoadFacts(ctx context.Context, collection string) ([]StoredFact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT text, seq FROM facts WHERE collection = ? ORDER BY position ASC",
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	var facts []StoredFact
	for rows.Next() {
		var f StoredFact
		var seq int64
		if err := rows.Scan(&f.Text, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		f.Seq = uint64(seq)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// SaveFacts implements FactStore
func (s *SQLiteSessionStore) SaveFacts(ctx context.Context, collection string, facts []StoredFact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM facts WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("failed to clear facts: %w", err)
	}
	for i, f := range facts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO facts (collection, position, text, seq) VALUES (?, ?, ?, ?)",
			collection, i, f.Text, int64(f.Seq),
		); err != nil {
			return fmt.Errorf("failed to save fact: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteSessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
