package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"redline-cli/internal/api"
)

// Cache is the local write-through copy of backend state: the document list,
// chat sessions, and message histories. It only holds what was last fetched;
// the backend stays the source of truth and rows are replaced wholesale on
// every sync.
type Cache struct {
	db *sql.DB
}

func NewCache(dataSourceName string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	cache := &Cache{db: db}
	if err = cache.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return cache, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY,
        filename TEXT NOT NULL,
        page_count INTEGER NOT NULL,
        clause_count INTEGER NOT NULL,
        is_analyzed BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        doc_id TEXT NOT NULL DEFAULT '', -- '' means global scope
        title TEXT,
        position INTEGER NOT NULL,
        created_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS session_messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        meta_json TEXT
    );
    `
	_, err := c.db.Exec(schema)
	return err
}

// SaveDocuments replaces the cached document list.
func (c *Cache) SaveDocuments(docs []api.Document) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin document sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to clear cached documents: %w", err)
	}
	for _, doc := range docs {
		_, err := tx.Exec(
			"INSERT INTO documents (id, filename, page_count, clause_count, is_analyzed, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			doc.ID, doc.Filename, doc.PageCount, doc.ClauseCount, doc.IsAnalyzed, doc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cached document: %w", err)
		}
	}
	return tx.Commit()
}

// Documents returns the cached document list.
func (c *Cache) Documents() ([]api.Document, error) {
	rows, err := c.db.Query("SELECT id, filename, page_count, clause_count, is_analyzed, created_at FROM documents ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query cached documents: %w", err)
	}
	defer rows.Close()

	var docs []api.Document
	for rows.Next() {
		var doc api.Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.PageCount, &doc.ClauseCount, &doc.IsAnalyzed, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SaveSessions replaces the cached session list for one scope, keeping the
// backend's order via explicit positions.
func (c *Cache) SaveSessions(scopeDocID string, sessions []api.ChatSession) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions WHERE doc_id = ?", scopeDocID); err != nil {
		return fmt.Errorf("failed to clear cached sessions: %w", err)
	}
	for i, session := range sessions {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO sessions (id, doc_id, title, position, created_at) VALUES (?, ?, ?, ?, ?)",
			session.ID, scopeDocID, session.Title, i, session.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cached session: %w", err)
		}
	}
	return tx.Commit()
}

// Sessions returns the cached session list for one scope.
func (c *Cache) Sessions(scopeDocID string) ([]api.ChatSession, error) {
	rows, err := c.db.Query("SELECT id, title, created_at FROM sessions WHERE doc_id = ? ORDER BY position", scopeDocID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached sessions: %w", err)
	}
	defer rows.Close()

	var sessions []api.ChatSession
	for rows.Next() {
		var session api.ChatSession
		var title sql.NullString
		if err := rows.Scan(&session.ID, &title, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached session: %w", err)
		}
		session.Title = title.String
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// SaveMessages replaces the cached history of one session.
func (c *Cache) SaveMessages(sessionID string, messages []api.ChatMessage) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session_messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear cached history: %w", err)
	}
	for i, msg := range messages {
		var meta sql.NullString
		if msg.Meta != nil {
			data, err := json.Marshal(msg.Meta)
			if err != nil {
				return fmt.Errorf("failed to encode message meta: %w", err)
			}
			meta = sql.NullString{String: string(data), Valid: true}
		}
		_, err := tx.Exec(
			"INSERT INTO session_messages (id, session_id, position, role, content, meta_json) VALUES (?, ?, ?, ?, ?, ?)",
			uuid.NewString(), sessionID, i, msg.Role, msg.Content, meta,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cached message: %w", err)
		}
	}
	return tx.Commit()
}

// Messages returns the cached history of one session in conversation order.
func (c *Cache) Messages(sessionID string) ([]api.ChatMessage, error) {
	rows, err := c.db.Query("SELECT role, content, meta_json FROM session_messages WHERE session_id = ? ORDER BY position", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached history: %w", err)
	}
	defer rows.Close()

	var messages []api.ChatMessage
	for rows.Next() {
		var msg api.ChatMessage
		var meta sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan cached message: %w", err)
		}
		if meta.Valid {
			var m api.MessageMeta
			if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
				return nil, fmt.Errorf("failed to decode message meta: %w", err)
			}
			msg.Meta = &m
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteSession drops one cached session and its history.
func (c *Cache) DeleteSession(sessionID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session_messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete cached history: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return tx.Commit()
}
