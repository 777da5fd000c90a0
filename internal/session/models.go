// internal/session/models.go
package session

import (
	"time"

	"rewind/internal/checkpoint"
)

// Layer identifies which memory store a created memory landed in.
type Layer string

const (
	LayerUser      Layer = "user"
	LayerWorkspace Layer = "workspace"
	LayerSession   Layer = "session"
)

// MemoryRef points at a memory created while producing a message. Rollback
// collects these into the compensation report; the memory subsystem owns
// the actual deletion.
type MemoryRef struct {
	ID    string `json:"id"`
	Layer Layer  `json:"layer"`
}

// Message is one entry in a session's conversation history.
type Message struct {
	Role       string      `json:"role"` // "user", "assistant", "tool"
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	MemoryRefs []MemoryRef `json:"memory_refs,omitempty"`
}

// Session is the durable record of one conversation: its messages, the
// checkpoint ledger anchored to message boundaries, and the running
// summary state.
type Session struct {
	ID          string                  `json:"id"`
	Scope       string                  `json:"scope"` // workspace the session belongs to
	Title       string                  `json:"title,omitempty"`
	Messages    []Message               `json:"messages"`
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
	Summary     string                  `json:"summary,omitempty"`

	// CompressedThroughRound is the watermark of conversation rounds
	// already folded into the summary. One round is a user message plus
	// the assistant's reply.
	CompressedThroughRound int `json:"compressed_through_round,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastUserMessage returns the most recent user-role message, if any.
func (s *Session) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}
