// internal/resource/store.go
package resource

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a resource ID has no record.
var ErrNotFound = errors.New("resource not found")

// ErrVersionNotFound is returned when a requested prior version is not
// addressable.
var ErrVersionNotFound = errors.New("resource version not found")

// Store persists documents and todo lists with full version history.
// Every update records the outgoing state in a versions table, so
// RestoreVersion can reinstate any prior state exactly.
type Store struct {
	db *sql.DB
}

// Open creates or opens the resource database at the given path.
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
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		path TEXT,
		content TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_versions (
		document_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (document_id, version)
	);

	CREATE TABLE IF NOT EXISTS todo_lists (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		items TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS todo_versions (
		todo_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		title TEXT NOT NULL,
		items TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (todo_id, version)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateDocument inserts a new document at version 1.
func (s *Store) CreateDocument(title, path, content string) (*Document, error) {
	now := time.Now()
	doc := &Document{
		ID:        uuid.New().String(),
		Title:     title,
		Path:      path,
		Content:   content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, path, content, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Path, doc.Content, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// GetDocument loads a document, or ErrNotFound.
func (s *Store) GetDocument(id string) (*Document, error) {
	row := s.db.QueryRow(`
		SELECT id, title, path, content, version, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Path, &doc.Content, &doc.Version,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

// UpdateDocument replaces a document's title and content, recording the
// outgoing state as an addressable version and bumping the version number.
func (s *Store) UpdateDocument(id, title, content string) (*Document, error) {
	doc, err := s.GetDocument(id)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO document_versions (document_id, version, title, content, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Version, doc.Title, doc.Content, time.Now())
	if err != nil {
		return nil, fmt.Errorf("record document version: %w", err)
	}

	doc.Title = title
	doc.Content = content
	doc.Version++
	doc.UpdatedAt = time.Now()

	_, err = s.db.Exec(`
		UPDATE documents SET title = ?, content = ?, version = ?, updated_at = ? WHERE id = ?`,
		doc.Title, doc.Content, doc.Version, doc.UpdatedAt, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes a document and its version history. Missing
// documents are not an error, so rollback's created-resource undo is
// idempotent.
func (s *Store) DeleteDocument(id string) error {
	if _, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM document_versions WHERE document_id = ?`, id)
	return err
}

// RestoreDocumentVersion reinstates an exact prior version's title and
// content as the document's current state.
func (s *Store) RestoreDocumentVersion(id string, version int) (*Document, error) {
	row := s.db.QueryRow(`
		SELECT title, content FROM document_versions WHERE document_id = ? AND version = ?`,
		id, version)

	var title, content string
	err := row.Scan(&title, &content)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document version: %w", err)
	}

	return s.UpdateDocument(id, title, content)
}

// RecreateDocument reinstates a deleted document from its descriptor,
// starting a fresh version history.
func (s *Store) RecreateDocument(d Descriptor) (*Document, error) {
	now := time.Now()
	doc := &Document{
		ID:        d.ID,
		Title:     d.Title,
		Path:      d.Path,
		Content:   d.Content,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO documents (id, title, path, content, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Path, doc.Content, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("recreate document: %w", err)
	}
	return doc, nil
}

// CreateTodoList inserts a new todo list at version 1.
func (s *Store) CreateTodoList(title string, items []TodoItem) (*TodoList, error) {
	now := time.Now()
	list := &TodoList{
		ID:        uuid.New().String(),
		Title:     title,
		Items:     items,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := json.Marshal(list.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal todo items: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO todo_lists (id, title, items, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		list.ID, list.Title, string(raw), list.Version, list.CreatedAt, list.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create todo list: %w", err)
	}
	return list, nil
}

// GetTodoList loads a todo list, or ErrNotFound.
func (s *Store) GetTodoList(id string) (*TodoList, error) {
	row := s.db.QueryRow(`
		SELECT id, title, items, version, created_at, updated_at
		FROM todo_lists WHERE id = ?`, id)

	var list TodoList
	var items string
	err := row.Scan(&list.ID, &list.Title, &items, &list.Version,
		&list.CreatedAt, &list.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load todo list: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &list.Items); err != nil {
		return nil, fmt.Errorf("unmarshal todo items: %w", err)
	}
	return &list, nil
}

// UpdateTodoList replaces a list's title and items, recording the
// outgoing state as an addressable version.
func (s *Store) UpdateTodoList(id, title string, items []TodoItem) (*TodoList, error) {
	list, err := s.GetTodoList(id)
	if err != nil {
		return nil, err
	}

	prior, err := json.Marshal(list.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal todo items: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO todo_versions (todo_id, version, title, items, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		list.ID, list.Version, list.Title, string(prior), time.Now())
	if err != nil {
		return nil, fmt.Errorf("record todo version: %w", err)
	}

	list.Title = title
	list.Items = items
	list.Version++
	list.UpdatedAt = time.Now()

	raw, err := json.Marshal(list.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal todo items: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE todo_lists SET title = ?, items = ?, version = ?, updated_at = ? WHERE id = ?`,
		list.Title, string(raw), list.Version, list.UpdatedAt, list.ID)
	if err != nil {
		return nil, fmt.Errorf("update todo list: %w", err)
	}
	return list, nil
}

// DeleteTodoList removes a todo list and its version history. Missing
// lists are not an error.
func (s *Store) DeleteTodoList(id string) error {
	if _, err := s.db.Exec(`DELETE FROM todo_lists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete todo list: %w", err)
	}
	_, err := s.db.Exec(`DELETE FROM todo_versions WHERE todo_id = ?`, id)
	return err
}

// RestoreTodoVersion reinstates an exact prior version of a todo list.
func (s *Store) RestoreTodoVersion(id string, version int) (*TodoList, error) {
	row := s.db.QueryRow(`
		SELECT title, items FROM todo_versions WHERE todo_id = ? AND version = ?`,
		id, version)

	var title, items string
	err := row.Scan(&title, &items)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load todo version: %w", err)
	}

	var parsed []TodoItem
	if err := json.Unmarshal([]byte(items), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal todo items: %w", err)
	}
	return s.UpdateTodoList(id, title, parsed)
}

// RecreateTodoList reinstates a deleted todo list from its descriptor.
// The descriptor content holds the items as JSON.
func (s *Store) RecreateTodoList(d Descriptor) (*TodoList, error) {
	var items []TodoItem
	if d.Content != "" {
		if err := json.Unmarshal([]byte(d.Content), &items); err != nil {
			return nil, fmt.Errorf("unmarshal todo items: %w", err)
		}
	}

	now := time.Now()
	list := &TodoList{
		ID:        d.ID,
		Title:     d.Title,
		Items:     items,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := json.Marshal(list.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal todo items: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO todo_lists (id, title, items, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		list.ID, list.Title, string(raw), list.Version, list.CreatedAt, list.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("recreate todo list: %w", err)
	}
	return list, nil
}
