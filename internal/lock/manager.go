// internal/lock/manager.go
package lock

import (
	"fmt"
	"sync"
)

// ResourceType namespaces lockable resources.
type ResourceType string

const (
	TypeDocument ResourceType = "document"
	TypeTodo     ResourceType = "todo"
	TypeFile     ResourceType = "file"
)

type key struct {
	resourceType ResourceType
	resourceID   string
}

// Manager tracks which session holds each resource. Locks are scoped to a
// resource + session pair; sessions never share a lock.
type Manager struct {
	mu    sync.Mutex
	locks map[key]string // resource -> holding session
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[key]string)}
}

// Acquire takes the lock for sessionID. Re-acquiring a lock the session
// already holds succeeds; a lock held by another session is a conflict.
func (m *Manager) Acquire(resourceType ResourceType, resourceID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{resourceType, resourceID}
	if holder, held := m.locks[k]; held && holder != sessionID {
		return fmt.Errorf("%s %s is checked out by session %s", resourceType, resourceID, holder)
	}
	m.locks[k] = sessionID
	return nil
}

// Release drops the session's lock on one resource. Idempotent: releasing
// a lock that is not held, or held by another session, is a no-op.
func (m *Manager) Release(resourceType ResourceType, resourceID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{resourceType, resourceID}
	if m.locks[k] == sessionID {
		delete(m.locks, k)
	}
}

// ReleaseAll drops every lock the session holds. Used on session deletion,
// not by rollback, which only releases locks for resources it restored.
func (m *Manager) ReleaseAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, holder := range m.locks {
		if holder == sessionID {
			delete(m.locks, k)
		}
	}
}

// Holder reports which session holds a resource, if any.
func (m *Manager) Holder(resourceType ResourceType, resourceID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, held := m.locks[key{resourceType, resourceID}]
	return holder, held
}
