// internal/rollback/report.go
package rollback

// MemoryIDs partitions memory identifiers created during rolled-back
// turns by the layer they landed in. Encounter order is preserved and
// duplicates across turns are kept; downstream deletion is idempotent by
// identifier.
type MemoryIDs struct {
	User      []string `json:"user"`
	Workspace []string `json:"workspace"`
	Session   []string `json:"session"`
}

// Empty reports whether no memory IDs were collected.
func (m MemoryIDs) Empty() bool {
	return len(m.User) == 0 && len(m.Workspace) == 0 && len(m.Session) == 0
}

// Report is the compensation payload returned to the rollback caller and
// emitted on the event hub. RestoredFiles holds every snapshot key
// successfully undone that is not a document (file paths and tagged todo
// keys); documents get their own deleted/restored buckets because the
// memory subsystem and UI treat them differently.
type Report struct {
	SessionID             string    `json:"session_id"`
	CheckpointID          string    `json:"checkpoint_id"`
	RestoredFiles         []string  `json:"restored_files"`
	RemovedMemoryIDs      MemoryIDs `json:"removed_memory_ids"`
	DeletedDocumentIDs    []string  `json:"deleted_document_ids"`
	RestoredDocumentIDs   []string  `json:"restored_document_ids"`
	RemainingMessageCount int       `json:"remaining_message_count"`
}
