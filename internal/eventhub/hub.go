// internal/eventhub/hub.go
package eventhub

import (
	"context"
	"log"
)

// Broadcaster delivers events to connected observers.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the single dispatch point for external notifications.
// Emission is best-effort and fire-and-forget: a hub with no broadcaster
// attached drops events silently, and no emit path ever fails the caller.
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New creates an EventHub.
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster attaches the delivery backend (websocket hub in serve
// mode, nil in CLI one-shot mode).
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventHub] dropped %s: %v", eventName, r)
		}
	}()
	h.broadcaster.BroadcastEvent(eventName, payload)
}

// Emit sends a raw named event.
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// CheckpointCreatedEvent announces a new checkpoint on a session.
type CheckpointCreatedEvent struct {
	SessionID    string `json:"session_id"`
	CheckpointID string `json:"checkpoint_id"`
	Label        string `json:"label"`
	MessageIndex int    `json:"message_index"`
}

func (h *EventHub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.emit("checkpoint:created", event)
}

// RollbackCompletedEvent carries the compensation report for observers
// (UI refresh, audit log).
type RollbackCompletedEvent struct {
	SessionID string      `json:"session_id"`
	Report    interface{} `json:"report"`
}

func (h *EventHub) EmitRollbackCompleted(event RollbackCompletedEvent) {
	h.emit("rollback:completed", event)
}

// SessionChangedEvent announces a session lifecycle change.
type SessionChangedEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"` // "active", "rolled-back", "deleted"
}

func (h *EventHub) EmitSessionChanged(event SessionChangedEvent) {
	h.emit("session:changed", event)
}

// ResourceStaleEvent announces that a resource shown to one or more
// sessions changed out from under them.
type ResourceStaleEvent struct {
	ResourceID string   `json:"resource_id"`
	Sessions   []string `json:"sessions"`
}

func (h *EventHub) EmitResourceStale(event ResourceStaleEvent) {
	h.emit("resource:stale", event)
}
