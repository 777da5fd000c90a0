// internal/checkpoint/manager.go
package checkpoint

import (
	"fmt"
	"sync"
)

// Manager pairs the ledger and the collector across a turn's lifecycle.
// BeginTurn opens a checkpoint at the current message boundary and arms
// the capture window; the tool layer reports pre-states through the
// Capture helpers while the turn runs; EndTurn completes the checkpoint
// and persists whatever the window caught. The caller owns appending the
// completed checkpoint to the session ledger and persisting the session.
type Manager struct {
	collector *Collector
	storage   *Storage
	scope     string

	mu   sync.Mutex
	open map[string]*Checkpoint
}

// NewManager creates a turn manager for one scope (workspace).
func NewManager(storage *Storage, scope string) *Manager {
	return &Manager{
		collector: NewCollector(),
		storage:   storage,
		scope:     scope,
		open:      make(map[string]*Checkpoint),
	}
}

// BeginTurn opens a checkpoint at messageIndex and arms the session's
// capture window. messageIndex is the message count before any of this
// turn's messages are appended.
func (m *Manager) BeginTurn(sessionID string, messageIndex int, label string) *Checkpoint {
	cp := New(sessionID, messageIndex, label)

	m.mu.Lock()
	m.open[sessionID] = cp
	m.mu.Unlock()

	m.collector.Open(sessionID)
	return cp
}

// Current returns the session's open checkpoint, if a turn is running.
func (m *Manager) Current(sessionID string) (*Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.open[sessionID]
	return cp, ok
}

// CaptureFile records a file's pre-mutation content. existed=false marks
// a file that was absent before the turn.
func (m *Manager) CaptureFile(sessionID, path, content string, existed bool) {
	m.collector.Capture(sessionID, FileKey(path), FileState(content, existed))
}

// CaptureDocument records a document's pre-mutation state.
func (m *Manager) CaptureDocument(sessionID, documentID string, snap Snapshot) {
	m.collector.Capture(sessionID, DocumentKey(documentID), snap)
}

// CaptureTodo records a todo list's pre-mutation state.
func (m *Manager) CaptureTodo(sessionID, todoID string, snap Snapshot) {
	m.collector.Capture(sessionID, TodoKey(todoID), snap)
}

// EndTurn completes the checkpoint, flushes the capture window and
// persists its snapshots. Nothing is written when the window is empty;
// Storage.Load already answers an empty map for never-saved checkpoints.
func (m *Manager) EndTurn(cp *Checkpoint, changes []FileChange) error {
	m.mu.Lock()
	if m.open[cp.SessionID] == cp {
		delete(m.open, cp.SessionID)
	}
	m.mu.Unlock()

	cp.Complete(changes)

	snapshots := m.collector.Flush(cp.SessionID)
	if len(snapshots) == 0 {
		return nil
	}
	if err := m.storage.Save(m.scope, cp.SessionID, cp.ID, snapshots); err != nil {
		return fmt.Errorf("persist turn snapshots: %w", err)
	}
	return nil
}

// AbandonTurn drops an open checkpoint without persisting anything,
// used when a turn fails before producing messages.
func (m *Manager) AbandonTurn(sessionID string) {
	m.mu.Lock()
	delete(m.open, sessionID)
	m.mu.Unlock()

	m.collector.Flush(sessionID)
}

// Collector exposes the underlying collector for callers that capture
// through the raw Key API.
func (m *Manager) Collector() *Collector {
	return m.collector
}
