// internal/checkpoint/models.go
package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyKind discriminates what a snapshot key refers to.
type KeyKind string

const (
	KindFile     KeyKind = "file"
	KindDocument KeyKind = "document"
	KindTodo     KeyKind = "todo"
)

// Key identifies a single snapshotted resource within a checkpoint window.
// The kind is decided once, at capture time; storage serializes keys with
// the bracket-tag convention ("[doc:id]", "[todo:id]", plain path for files)
// so snapshot maps stay readable on disk.
type Key struct {
	Kind KeyKind
	ID   string // relative file path, document ID, or todo-list ID
}

// FileKey returns a key for a workspace file path.
func FileKey(path string) Key { return Key{Kind: KindFile, ID: path} }

// DocumentKey returns a key for a structured document.
func DocumentKey(id string) Key { return Key{Kind: KindDocument, ID: id} }

// TodoKey returns a key for a todo list.
func TodoKey(id string) Key { return Key{Kind: KindTodo, ID: id} }

// String renders the key in its storage form.
func (k Key) String() string {
	switch k.Kind {
	case KindDocument:
		return "[doc:" + k.ID + "]"
	case KindTodo:
		return "[todo:" + k.ID + "]"
	default:
		return k.ID
	}
}

// MarshalText lets map[Key]Snapshot serialize with tagged string keys.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the storage form back into a tagged key.
func (k *Key) UnmarshalText(b []byte) error {
	s := string(b)
	switch {
	case strings.HasPrefix(s, "[doc:") && strings.HasSuffix(s, "]"):
		k.Kind = KindDocument
		k.ID = s[len("[doc:") : len(s)-1]
	case strings.HasPrefix(s, "[todo:") && strings.HasSuffix(s, "]"):
		k.Kind = KindTodo
		k.ID = s[len("[todo:") : len(s)-1]
	default:
		k.Kind = KindFile
		k.ID = s
	}
	if k.ID == "" {
		return fmt.Errorf("empty snapshot key %q", s)
	}
	return nil
}

// ResourceAction records what was about to happen to a structured resource
// when its snapshot was captured.
type ResourceAction string

const (
	ActionCreated  ResourceAction = "created"
	ActionModified ResourceAction = "modified"
	ActionDeleted  ResourceAction = "deleted"
)

// Snapshot is the captured pre-mutation state of one key.
//
// For files, Content holds the prior full text and Existed reports whether
// the file was present before the turn. For documents and todo lists the
// Action field is set and the Prior* fields carry whatever is needed to
// reverse it: the addressable version for a modification, or enough data
// to recreate the resource after a deletion.
type Snapshot struct {
	Existed bool   `json:"existed,omitempty"`
	Content string `json:"content,omitempty"`

	Action       ResourceAction `json:"action,omitempty"`
	PriorVersion int            `json:"prior_version,omitempty"`
	PriorTitle   string         `json:"prior_title,omitempty"`
	PriorPath    string         `json:"prior_path,omitempty"`
}

// FileState returns a snapshot of a file's prior content.
func FileState(content string, existed bool) Snapshot {
	return Snapshot{Existed: existed, Content: content}
}

// CreatedResource marks a resource that did not exist before the turn.
func CreatedResource() Snapshot {
	return Snapshot{Action: ActionCreated}
}

// ModifiedResource records the prior version of a resource being changed.
func ModifiedResource(priorVersion int, priorTitle, priorContent string) Snapshot {
	return Snapshot{
		Action:       ActionModified,
		PriorVersion: priorVersion,
		PriorTitle:   priorTitle,
		Content:      priorContent,
	}
}

// DeletedResource records enough of a resource being deleted to recreate it.
func DeletedResource(priorTitle, priorPath, priorContent string) Snapshot {
	return Snapshot{
		Action:     ActionDeleted,
		PriorTitle: priorTitle,
		PriorPath:  priorPath,
		Content:    priorContent,
	}
}

// ChangeKind classifies a file-level change made during a turn.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange describes one change made during a turn, attached to the
// checkpoint at completion for display. Restoration never reads these.
type FileChange struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// Checkpoint anchors "state before this turn" at a message-count boundary.
// MessageIndex is the session's message count at creation time: everything
// at or after that index was produced after the checkpoint.
type Checkpoint struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	Label        string       `json:"label"`
	MessageIndex int          `json:"message_index"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  time.Time    `json:"completed_at,omitempty"`
	FileChanges  []FileChange `json:"file_changes,omitempty"`
}

// New opens a checkpoint at the given message boundary.
func New(sessionID string, messageIndex int, label string) *Checkpoint {
	return &Checkpoint{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		Label:        label,
		MessageIndex: messageIndex,
		CreatedAt:    time.Now(),
	}
}

// Complete closes the checkpoint, attaching the turn's change summary.
// MessageIndex is never touched after creation.
func (c *Checkpoint) Complete(changes []FileChange) {
	c.CompletedAt = time.Now()
	c.FileChanges = changes
}

// Locate finds a checkpoint by ID within a ledger.
func Locate(ledger []Checkpoint, id string) (int, bool) {
	for i := range ledger {
		if ledger[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// Merge combines snapshot maps from several checkpoints into one, oldest
// first. The first occurrence of a key wins: the oldest removed checkpoint
// captured the true "before any undone turn" value, and later checkpoints
// only saw already-mutated state relative to it.
func Merge(maps []map[Key]Snapshot) map[Key]Snapshot {
	merged := make(map[Key]Snapshot)
	for _, m := range maps {
		for k, v := range m {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	return merged
}
