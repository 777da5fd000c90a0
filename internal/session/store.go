// internal/session/store.go
package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"rewind/internal/checkpoint"
)

// ErrNotFound is returned when a session ID has no record.
var ErrNotFound = errors.New("session not found")

// Store persists sessions in SQLite. Messages and the checkpoint ledger
// live as JSON columns on the session row; the whole row is written on
// every save so a session is always internally consistent on disk.
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		title TEXT,
		messages TEXT NOT NULL DEFAULT '[]',
		checkpoints TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		compressed_through INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_scope ON sessions(scope);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the full session row, inserting or replacing.
func (s *Store) Save(sess *Session) error {
	now := time.Now()
	sess.UpdatedAt = now
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}

	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	checkpoints, err := json.Marshal(sess.Checkpoints)
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions
		(id, scope, title, messages, checkpoints, summary, compressed_through, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Scope, sess.Title, string(messages), string(checkpoints),
		sess.Summary, sess.CompressedThroughRound, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get loads one session, or ErrNotFound.
func (s *Store) Get(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, scope, title, messages, checkpoints, summary, compressed_through, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var messages, checkpoints string
	err := row.Scan(&sess.ID, &sess.Scope, &sess.Title, &messages, &checkpoints,
		&sess.Summary, &sess.CompressedThroughRound, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if err := json.Unmarshal([]byte(checkpoints), &sess.Checkpoints); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoints: %w", err)
	}
	return &sess, nil
}

// List returns every session in a scope, most recently updated first.
func (s *Store) List(scope string) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id FROM sessions WHERE scope = ? ORDER BY updated_at DESC`, scope)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Delete removes a session row. Missing rows are not an error.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// AppendMessages appends messages to a session and persists it.
func (s *Store) AppendMessages(sessionID string, msgs ...Message) (*Session, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = append(sess.Messages, msgs...)
	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// MessagesFrom returns the session's messages at or after index.
func (s *Store) MessagesFrom(sessionID string, index int) ([]Message, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if index < 0 {
		index = 0
	}
	if index >= len(sess.Messages) {
		return nil, nil
	}
	return sess.Messages[index:], nil
}

// Truncate cuts the session's message list to the prefix before index and
// drops every checkpoint whose boundary is at or past the cut. The index
// is clamped to [0, len(messages)]. Returns the updated session.
func (s *Store) Truncate(sessionID string, index int) (*Session, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if index < 0 {
		index = 0
	}
	if index > len(sess.Messages) {
		index = len(sess.Messages)
	}

	sess.Messages = sess.Messages[:index]

	kept := make([]checkpoint.Checkpoint, 0, len(sess.Checkpoints))
	for _, cp := range sess.Checkpoints {
		if cp.MessageIndex < index {
			kept = append(kept, cp)
		}
	}
	sess.Checkpoints = kept

	if err := s.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetSummary replaces the session's running summary.
func (s *Store) SetSummary(sessionID, summary string) error {
	res, err := s.db.Exec(`UPDATE sessions SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCompressedThrough updates the summarization watermark.
func (s *Store) SetCompressedThrough(sessionID string, round int) error {
	res, err := s.db.Exec(`UPDATE sessions SET compressed_through = ?, updated_at = ? WHERE id = ?`,
		round, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("set compressed-through: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
