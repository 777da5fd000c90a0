// internal/stream/registry.go
package stream

import (
	"context"
	"sync"
)

// Registry tracks the in-flight response stream per session as a
// cancellation signal. The stream's writer is expected to watch its
// context and stop promptly; aborting is fire-and-forget and never waits
// for the writer's own cleanup.
type Registry struct {
	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for a session's new stream and
// records its cancel func. A previous stream for the same session is
// cancelled first; a session has at most one live stream.
func (r *Registry) Register(ctx context.Context, sessionID string) context.Context {
	streamCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prev, ok := r.streams[sessionID]; ok {
		prev()
	}
	r.streams[sessionID] = cancel
	r.mu.Unlock()

	return streamCtx
}

// Done drops the session's registration after the stream finishes on its
// own. The cancel func still runs to release the context's resources; the
// stream is already over, so nobody observes it.
func (r *Registry) Done(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.streams[sessionID]; ok {
		cancel()
		delete(r.streams, sessionID)
	}
}

// Abort cancels the session's in-flight stream, if any, and drops its
// registration so a late write cannot race whatever the caller mutates
// next. Reports whether a stream was actually cancelled.
func (r *Registry) Abort(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.streams[sessionID]
	if !ok {
		return false
	}
	cancel()
	delete(r.streams, sessionID)
	return true
}

// Active reports whether the session has a registered stream.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.streams[sessionID]
	return ok
}
