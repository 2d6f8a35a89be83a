// Package archive keeps a searchable record of finished agent
// transcripts in SQLite, so past task runs can be inspected after the
// working history has been compacted away.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Transcript is one archived agent run.
type Transcript struct {
	ID        string
	TaskID    string // empty for leader conversations
	Agent     string // "leader" or the worker's assignee name
	Outcome   string // completed, failed
	Content   string
	CreatedAt time.Time
}

// Store provides transcript persistence and full-text search.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database. Used by tests with :memory:.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL DEFAULT '',
    agent TEXT NOT NULL,
    outcome TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`)
	if err != nil {
		return fmt.Errorf("transcripts table: %w", err)
	}

	// Standalone FTS5 table kept in sync explicitly on save.
	_, err = s.db.Exec(`
CREATE VIRTUAL TABLE IF NOT EXISTS transcripts_fts USING fts5(
    id UNINDEXED,
    agent UNINDEXED,
    content
);`)
	if err != nil {
		return fmt.Errorf("transcripts_fts table: %w", err)
	}
	return nil
}

// Save persists a transcript. If t.ID is empty, a new UUID is assigned.
func (s *Store) Save(ctx context.Context, t Transcript) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, task_id, agent, outcome, content, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		t.ID, t.TaskID, t.Agent, t.Outcome, t.Content,
	)
	if err != nil {
		return "", fmt.Errorf("archive save: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts_fts (id, agent, content) VALUES (?, ?, ?)`,
		t.ID, t.Agent, t.Content,
	)
	if err != nil {
		return "", fmt.Errorf("archive save FTS: %w", err)
	}
	return t.ID, nil
}

// Recent returns the newest transcripts, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, agent, outcome, content, created_at
		 FROM transcripts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive recent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// ForTask returns every transcript recorded for one task, oldest first.
func (s *Store) ForTask(ctx context.Context, taskID string) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, agent, outcome, content, created_at
		 FROM transcripts WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("archive for task: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// Search uses FTS5 BM25 ranking over transcript content.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.task_id, t.agent, t.outcome, t.content, t.created_at
FROM transcripts t
WHERE t.id IN (
    SELECT id FROM transcripts_fts
    WHERE transcripts_fts MATCH ?
    ORDER BY bm25(transcripts_fts) ASC
    LIMIT ?
)`,
		sanitizeFTSQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("archive search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRows(rows *sql.Rows) ([]Transcript, error) {
	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.TaskID, &t.Agent, &t.Outcome, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// sanitizeFTSQuery converts a natural-language query to a safe FTS5
// query. Each word becomes an independent token (implicit AND).
func sanitizeFTSQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return `""`
	}
	words := strings.Fields(q)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == '-' || r == '_' {
				return r
			}
			return -1
		}, w)
		if cleaned != "" {
			tokens = append(tokens, cleaned)
		}
	}
	if len(tokens) == 0 {
		return `""`
	}
	return strings.Join(tokens, " ")
}
