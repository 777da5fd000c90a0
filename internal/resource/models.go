// internal/resource/models.go
package resource

import "time"

// Document is a structured document edited through the tool layer.
// Version starts at 1 and bumps on every update; prior versions stay
// addressable so a rollback can restore an exact earlier state.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Path      string    `json:"path,omitempty"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodoList is a structured todo list. Items serialize as a JSON column;
// versioning mirrors documents.
type TodoList struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Items     []TodoItem `json:"items"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TodoItem is one entry in a todo list.
type TodoItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Descriptor carries enough of a deleted resource to recreate it.
type Descriptor struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content"`
}
