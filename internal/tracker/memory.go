// internal/tracker/memory.go
package tracker

import (
	"sync"
	"time"
)

// Fact is one piece of conversational content buffered for background
// memory extraction.
type Fact struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	AddedAt   time.Time `json:"added_at"`
}

// MemoryAccumulator buffers facts pending extraction, per session. There
// is no checkpoint-level granularity here: on rollback the whole buffer
// is dropped, because any buffered fact may reference rolled-back content.
type MemoryAccumulator struct {
	mu      sync.Mutex
	pending map[string][]Fact
}

// NewMemoryAccumulator creates an empty accumulator registry.
func NewMemoryAccumulator() *MemoryAccumulator {
	return &MemoryAccumulator{pending: make(map[string][]Fact)}
}

// Add buffers a fact for the session.
func (a *MemoryAccumulator) Add(sessionID, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[sessionID] = append(a.pending[sessionID], Fact{
		SessionID: sessionID,
		Content:   content,
		AddedAt:   time.Now(),
	})
}

// Drain returns the session's buffered facts and clears the buffer,
// handing them to the extraction pipeline.
func (a *MemoryAccumulator) Drain(sessionID string) []Fact {
	a.mu.Lock()
	defer a.mu.Unlock()

	facts := a.pending[sessionID]
	delete(a.pending, sessionID)
	return facts
}

// Pending returns how many facts are buffered for the session.
func (a *MemoryAccumulator) Pending(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending[sessionID])
}

// Reset discards the session's buffer wholesale.
func (a *MemoryAccumulator) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.pending, sessionID)
}
