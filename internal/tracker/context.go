// internal/tracker/context.go
package tracker

import (
	"sync"
	"time"
)

// Form records how much of a resource the model was shown.
type Form string

const (
	FormSummary Form = "summary"
	FormFull    Form = "full"
)

// Entry records one resource shown to the model during a session.
type Entry struct {
	ResourceID string    `json:"resource_id"`
	Form       Form      `json:"form"`
	Version    int       `json:"version"` // resource version at show time
	Stale      bool      `json:"stale"`
	ShownAt    time.Time `json:"shown_at"`
}

// ContextTracker records, per session, which resources the model has seen
// and whether what it saw is still current. Like the accumulator it is
// reset wholesale on rollback; partial invalidation risks leaving stale
// references to messages that no longer exist.
type ContextTracker struct {
	mu    sync.Mutex
	shown map[string]map[string]*Entry // session ID -> resource ID -> entry
}

// NewContextTracker creates an empty context tracker registry.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{shown: make(map[string]map[string]*Entry)}
}

// MarkShown records that a resource was shown to the model in the given
// form, clearing any prior staleness for it.
func (t *ContextTracker) MarkShown(sessionID, resourceID string, form Form, version int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shown[sessionID] == nil {
		t.shown[sessionID] = make(map[string]*Entry)
	}
	t.shown[sessionID][resourceID] = &Entry{
		ResourceID: resourceID,
		Form:       form,
		Version:    version,
		ShownAt:    time.Now(),
	}
}

// MarkStale flags a resource as stale in every session that has seen it,
// used when the resource changes outside the session's own turn. Returns
// the sessions affected.
func (t *ContextTracker) MarkStale(resourceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for sessionID, entries := range t.shown {
		if entry, ok := entries[resourceID]; ok && !entry.Stale {
			entry.Stale = true
			affected = append(affected, sessionID)
		}
	}
	return affected
}

// Entries returns a copy of everything the session has been shown.
func (t *ContextTracker) Entries(sessionID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.shown[sessionID]))
	for _, e := range t.shown[sessionID] {
		entries = append(entries, *e)
	}
	return entries
}

// Reset discards the session's tracking state wholesale.
func (t *ContextTracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.shown, sessionID)
}
