// internal/rollback/orchestrator.go
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"rewind/internal/approval"
	"rewind/internal/checkpoint"
	"rewind/internal/eventhub"
	"rewind/internal/lock"
	"rewind/internal/resource"
	"rewind/internal/session"
	"rewind/internal/stream"
	"rewind/internal/tracker"
)

// Orchestrator runs the rollback saga: given a target checkpoint it
// cancels concurrent activity, merges and applies snapshots across every
// removed checkpoint, truncates history, clears derived trackers and
// reports the compensation payload. No single store spans these
// subsystems, so correctness comes from strict ordering (cancel before
// mutate, truncate before tracker reset, delete snapshots only after
// restoration was attempted) rather than from a transaction.
type Orchestrator struct {
	sessions   *session.Store
	snapshots  *checkpoint.Storage
	resources  *resource.Store
	locks      *lock.Manager
	streams    *stream.Registry
	approvals  *approval.Manager
	memory     *tracker.MemoryAccumulator
	contexts   *tracker.ContextTracker
	hub        *eventhub.EventHub
	summarizer Summarizer

	workspaceRoot string
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Sessions      *session.Store
	Snapshots     *checkpoint.Storage
	Resources     *resource.Store
	Locks         *lock.Manager
	Streams       *stream.Registry
	Approvals     *approval.Manager
	Memory        *tracker.MemoryAccumulator
	Contexts      *tracker.ContextTracker
	Hub           *eventhub.EventHub
	Summarizer    Summarizer
	WorkspaceRoot string
}

// NewOrchestrator wires a rollback orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{
		sessions:      d.Sessions,
		snapshots:     d.Snapshots,
		resources:     d.Resources,
		locks:         d.Locks,
		streams:       d.Streams,
		approvals:     d.Approvals,
		memory:        d.Memory,
		contexts:      d.Contexts,
		hub:           d.Hub,
		summarizer:    d.Summarizer,
		workspaceRoot: d.WorkspaceRoot,
	}
}

// Rollback rewinds the session to just before the target checkpoint. The
// target itself is discarded: its message index is exactly the truncation
// boundary. restoreFiles=false skips workspace file writes but still
// undoes documents and todo lists.
func (o *Orchestrator) Rollback(ctx context.Context, sessionID, checkpointID string, restoreFiles bool) (*Report, error) {
	// Preconditions first: nothing is cancelled or mutated until both the
	// session and the target checkpoint are known to exist.
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	targetIdx, found := checkpoint.Locate(sess.Checkpoints, checkpointID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
	}

	// Stage 1: cancel concurrent activity before any mutation. The stream
	// abort is fire-and-forget; denied approvals unblock their waiters
	// immediately instead of timing out against vanished state.
	if o.streams.Abort(sessionID) {
		log.Printf("[Rollback] aborted in-flight stream for %s", sessionID)
	}
	if denied := o.approvals.DenyAll(sessionID); denied > 0 {
		log.Printf("[Rollback] denied %d pending approvals for %s", denied, sessionID)
	}

	// Stage 2: blast radius. Everything at or after the target goes.
	removed := sess.Checkpoints[targetIdx:]
	boundary := removed[0].MessageIndex

	report := &Report{
		SessionID:           sessionID,
		CheckpointID:        checkpointID,
		RestoredFiles:       []string{},
		DeletedDocumentIDs:  []string{},
		RestoredDocumentIDs: []string{},
	}

	// Stage 3: collect memory IDs from the rolled-back messages, in
	// encounter order. Duplicates across turns stay; downstream deletion
	// is idempotent by identifier.
	o.collectMemoryIDs(sess, boundary, report)

	// Stage 4: merge snapshots across removed checkpoints, oldest first,
	// first occurrence wins.
	merged := o.mergeSnapshots(sess.Scope, sessionID, removed)

	// Stage 5: apply. Every per-item failure is logged and dropped from
	// the report; none may abort the remaining items or the truncation.
	o.applySnapshots(sessionID, merged, restoreFiles, report)

	// Stage 6: truncate, the one mandatory step. Failure here is fatal:
	// restoration already ran, so the caller must hear that the operation
	// partially applied.
	truncated, err := o.sessions.Truncate(sessionID, boundary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncationFailed, err)
	}
	report.RemainingMessageCount = len(truncated.Messages)

	// Stage 7: now that restoration and truncation have run, the removed
	// checkpoints' snapshots are unreachable. Deleting earlier would lose
	// the recovery data a retry would need.
	removedIDs := make([]string, len(removed))
	for i, cp := range removed {
		removedIDs[i] = cp.ID
	}
	if err := o.snapshots.DeleteMany(sess.Scope, sessionID, removedIDs); err != nil {
		log.Printf("[Rollback] orphaned snapshot cleanup for %s: %v", sessionID, err)
	}

	// Stage 8: derived trackers are invalidated wholesale, never migrated.
	o.memory.Reset(sessionID)
	o.contexts.Reset(sessionID)
	o.clampWatermark(truncated)

	// Stage 9: summary. Async refresh when conversation remains, else a
	// synchronous clear.
	if last, ok := truncated.LastUserMessage(); ok {
		o.summarizer.ScheduleRefresh(sessionID, last.Content)
	} else if err := o.summarizer.Clear(sessionID); err != nil {
		log.Printf("[Rollback] summary clear for %s: %v", sessionID, err)
	}

	// Stage 10: report and notify. Emission is best-effort.
	o.hub.EmitRollbackCompleted(eventhub.RollbackCompletedEvent{
		SessionID: sessionID,
		Report:    report,
	})

	log.Printf("[Rollback] session %s rewound to %q: %d messages remain, %d files restored, %d/%d documents deleted/restored",
		sessionID, removed[0].Label, report.RemainingMessageCount,
		len(report.RestoredFiles), len(report.DeletedDocumentIDs), len(report.RestoredDocumentIDs))

	return report, nil
}

// collectMemoryIDs appends every memory reference carried by a rolled-back
// message into the report's layer buckets.
func (o *Orchestrator) collectMemoryIDs(sess *session.Session, boundary int, report *Report) {
	if boundary < 0 {
		boundary = 0
	}
	if boundary > len(sess.Messages) {
		return
	}
	for _, msg := range sess.Messages[boundary:] {
		for _, ref := range msg.MemoryRefs {
			switch ref.Layer {
			case session.LayerUser:
				report.RemovedMemoryIDs.User = append(report.RemovedMemoryIDs.User, ref.ID)
			case session.LayerWorkspace:
				report.RemovedMemoryIDs.Workspace = append(report.RemovedMemoryIDs.Workspace, ref.ID)
			case session.LayerSession:
				report.RemovedMemoryIDs.Session = append(report.RemovedMemoryIDs.Session, ref.ID)
			default:
				log.Printf("[Rollback] memory ref %s has unknown layer %q", ref.ID, ref.Layer)
			}
		}
	}
}

// mergeSnapshots loads each removed checkpoint's snapshot map in ledger
// order and folds them first-occurrence-wins. A load failure drops that
// checkpoint's snapshots but never the merge.
func (o *Orchestrator) mergeSnapshots(scope, sessionID string, removed []checkpoint.Checkpoint) map[checkpoint.Key]checkpoint.Snapshot {
	maps := make([]map[checkpoint.Key]checkpoint.Snapshot, 0, len(removed))
	for _, cp := range removed {
		snaps, err := o.snapshots.Load(scope, sessionID, cp.ID)
		if err != nil {
			log.Printf("[Rollback] load snapshots for checkpoint %s: %v", cp.ID, err)
			continue
		}
		maps = append(maps, snaps)
	}
	return checkpoint.Merge(maps)
}

// applySnapshots restores every merged key, continuing past individual
// failures. Keys are applied in sorted order for deterministic logs.
func (o *Orchestrator) applySnapshots(sessionID string, merged map[checkpoint.Key]checkpoint.Snapshot, restoreFiles bool, report *Report) {
	keys := make([]checkpoint.Key, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		snap := merged[key]
		switch key.Kind {
		case checkpoint.KindFile:
			if !restoreFiles {
				continue
			}
			if err := o.restoreFile(key.ID, snap); err != nil {
				log.Printf("[Rollback] restore file %s: %v", key.ID, err)
				continue
			}
			report.RestoredFiles = append(report.RestoredFiles, key.ID)

		case checkpoint.KindDocument:
			o.restoreDocument(sessionID, key.ID, snap, report)

		case checkpoint.KindTodo:
			o.restoreTodo(sessionID, key.ID, snap, report)
		}
	}
}

// restoreFile writes the prior content back, or deletes the file when the
// snapshot says it did not exist before the undone turns.
func (o *Orchestrator) restoreFile(relPath string, snap checkpoint.Snapshot) error {
	path := filepath.Join(o.workspaceRoot, relPath)

	if !snap.Existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove created file: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(snap.Content), 0644); err != nil {
		return fmt.Errorf("write prior content: %w", err)
	}
	return nil
}

// restoreDocument branches on the recorded action, then releases any lock
// this session holds on the document so a rolled-back edit leaves no
// dangling checkout.
func (o *Orchestrator) restoreDocument(sessionID, docID string, snap checkpoint.Snapshot, report *Report) {
	defer o.locks.Release(lock.TypeDocument, docID, sessionID)

	switch snap.Action {
	case checkpoint.ActionCreated:
		if err := o.resources.DeleteDocument(docID); err != nil {
			log.Printf("[Rollback] delete created document %s: %v", docID, err)
			return
		}
		report.DeletedDocumentIDs = append(report.DeletedDocumentIDs, docID)

	case checkpoint.ActionModified:
		if snap.PriorVersion <= 0 {
			log.Printf("[Rollback] document %s has no addressable prior version, skipping", docID)
			return
		}
		if _, err := o.resources.RestoreDocumentVersion(docID, snap.PriorVersion); err != nil {
			log.Printf("[Rollback] restore document %s to v%d: %v", docID, snap.PriorVersion, err)
			return
		}
		report.RestoredDocumentIDs = append(report.RestoredDocumentIDs, docID)

	case checkpoint.ActionDeleted:
		_, err := o.resources.RecreateDocument(resource.Descriptor{
			ID:      docID,
			Title:   snap.PriorTitle,
			Path:    snap.PriorPath,
			Content: snap.Content,
		})
		if err != nil {
			log.Printf("[Rollback] recreate document %s: %v", docID, err)
			return
		}
		report.RestoredDocumentIDs = append(report.RestoredDocumentIDs, docID)

	default:
		log.Printf("[Rollback] document %s snapshot has no action, skipping", docID)
	}
}

// restoreTodo mirrors restoreDocument; undone todo keys land in
// RestoredFiles in their tagged form.
func (o *Orchestrator) restoreTodo(sessionID, todoID string, snap checkpoint.Snapshot, report *Report) {
	defer o.locks.Release(lock.TypeTodo, todoID, sessionID)

	key := checkpoint.TodoKey(todoID).String()

	switch snap.Action {
	case checkpoint.ActionCreated:
		if err := o.resources.DeleteTodoList(todoID); err != nil {
			log.Printf("[Rollback] delete created todo list %s: %v", todoID, err)
			return
		}
		report.RestoredFiles = append(report.RestoredFiles, key)

	case checkpoint.ActionModified:
		if snap.PriorVersion <= 0 {
			log.Printf("[Rollback] todo list %s has no addressable prior version, skipping", todoID)
			return
		}
		if _, err := o.resources.RestoreTodoVersion(todoID, snap.PriorVersion); err != nil {
			log.Printf("[Rollback] restore todo list %s to v%d: %v", todoID, snap.PriorVersion, err)
			return
		}
		report.RestoredFiles = append(report.RestoredFiles, key)

	case checkpoint.ActionDeleted:
		_, err := o.resources.RecreateTodoList(resource.Descriptor{
			ID:      todoID,
			Title:   snap.PriorTitle,
			Content: snap.Content,
		})
		if err != nil {
			log.Printf("[Rollback] recreate todo list %s: %v", todoID, err)
			return
		}
		report.RestoredFiles = append(report.RestoredFiles, key)

	default:
		log.Printf("[Rollback] todo list %s snapshot has no action, skipping", todoID)
	}
}

// clampWatermark pulls the compressed-through-round watermark down so a
// later summarization pass cannot believe rounds exist that were just
// deleted. One round is two messages.
func (o *Orchestrator) clampWatermark(sess *session.Session) {
	maxRound := len(sess.Messages) / 2
	if sess.CompressedThroughRound <= maxRound {
		return
	}
	if err := o.sessions.SetCompressedThrough(sess.ID, maxRound); err != nil {
		log.Printf("[Rollback] clamp compressed-through for %s: %v", sess.ID, err)
		return
	}
	sess.CompressedThroughRound = maxRound
}
