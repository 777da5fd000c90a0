// internal/checkpoint/collector.go
package checkpoint

import "sync"

// Collector captures "value before first mutation" per session while a
// checkpoint window is open. Purely in-memory; every operation is
// non-fallible by construction.
type Collector struct {
	mu      sync.Mutex
	windows map[string]map[Key]Snapshot
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{windows: make(map[string]map[Key]Snapshot)}
}

// Open arms an empty capture window for the session. Callers pair Open
// with Flush once per turn; opening over an existing window replaces it.
func (c *Collector) Open(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windows[sessionID] = make(map[Key]Snapshot)
}

// Capture records the pre-mutation state for key, but only the first time
// the key is seen in the open window: the goal is the value immediately
// before this turn's changes began, not before the last change. A capture
// with no open window is a silent no-op so a tool call firing outside an
// expected turn boundary cannot crash the turn.
func (c *Collector) Capture(sessionID string, key Key, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window, open := c.windows[sessionID]
	if !open {
		return
	}
	if _, seen := window[key]; seen {
		return
	}
	window[key] = snap
}

// Captured reports whether key has already been recorded in the session's
// open window.
func (c *Collector) Captured(sessionID string, key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	window, open := c.windows[sessionID]
	if !open {
		return false
	}
	_, seen := window[key]
	return seen
}

// Flush returns everything captured in the session's window and closes it.
// Flushing a window that never opened, or that captured nothing, returns
// an empty map.
func (c *Collector) Flush(sessionID string) map[Key]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windows[sessionID]
	delete(c.windows, sessionID)

	if window == nil {
		return make(map[Key]Snapshot)
	}
	return window
}
