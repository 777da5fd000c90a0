// internal/approval/manager.go
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is one pending human-approval request. The decision channel is
// buffered so resolving never blocks on a waiter.
type Request struct {
	ID        string
	SessionID string
	Tool      string
	Detail    string
	CreatedAt time.Time

	decision chan bool
}

// Wait blocks until the request is resolved or the context ends.
func (r *Request) Wait(ctx context.Context) (bool, error) {
	select {
	case approved := <-r.decision:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Manager tracks outstanding approval requests per session.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Request            // request ID -> request
	bySess  map[string]map[string]*Request // session ID -> request IDs
}

// NewManager creates an empty approval manager.
func NewManager() *Manager {
	return &Manager{
		pending: make(map[string]*Request),
		bySess:  make(map[string]map[string]*Request),
	}
}

// Create registers a new pending request for a session.
func (m *Manager) Create(sessionID, tool, detail string) *Request {
	req := &Request{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Tool:      tool,
		Detail:    detail,
		CreatedAt: time.Now(),
		decision:  make(chan bool, 1),
	}

	m.mu.Lock()
	m.pending[req.ID] = req
	if m.bySess[sessionID] == nil {
		m.bySess[sessionID] = make(map[string]*Request)
	}
	m.bySess[sessionID][req.ID] = req
	m.mu.Unlock()

	return req
}

// Resolve answers one pending request and removes it.
func (m *Manager) Resolve(requestID string, approved bool) error {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if ok {
		m.remove(req)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval request not found: %s", requestID)
	}
	req.decision <- approved
	return nil
}

// DenyAll resolves every pending request for a session as not approved.
// Waiters are unblocked immediately rather than left to hit their own
// timeouts; the context they were asking about is going away. Returns the
// number of requests denied.
func (m *Manager) DenyAll(sessionID string) int {
	m.mu.Lock()
	reqs := make([]*Request, 0, len(m.bySess[sessionID]))
	for _, req := range m.bySess[sessionID] {
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		m.remove(req)
	}
	m.mu.Unlock()

	for _, req := range reqs {
		req.decision <- false
	}
	return len(reqs)
}

// Pending returns the IDs of a session's outstanding requests.
func (m *Manager) Pending(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.bySess[sessionID]))
	for id := range m.bySess[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

// remove must be called with the mutex held.
func (m *Manager) remove(req *Request) {
	delete(m.pending, req.ID)
	if sess := m.bySess[req.SessionID]; sess != nil {
		delete(sess, req.ID)
		if len(sess) == 0 {
			delete(m.bySess, req.SessionID)
		}
	}
}
