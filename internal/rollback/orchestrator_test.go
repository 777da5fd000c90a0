// internal/rollback/orchestrator_test.go
package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rewind/internal/approval"
	"rewind/internal/checkpoint"
	"rewind/internal/eventhub"
	"rewind/internal/lock"
	"rewind/internal/resource"
	"rewind/internal/session"
	"rewind/internal/stream"
	"rewind/internal/tracker"
)

const testScope = "scope"

type env struct {
	t         *testing.T
	root      string
	sessions  *session.Store
	resources *resource.Store
	snapshots *checkpoint.Storage
	manager   *checkpoint.Manager
	locks     *lock.Manager
	streams   *stream.Registry
	approvals *approval.Manager
	memory    *tracker.MemoryAccumulator
	contexts  *tracker.ContextTracker
	orch      *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	sessions, err := session.Open(filepath.Join(dir, "rewind.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sessions.Close() })

	resources, err := resource.Open(filepath.Join(dir, "rewind.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resources.Close() })

	snapshots := checkpoint.NewStorage(dir, 3)

	e := &env{
		t:         t,
		root:      root,
		sessions:  sessions,
		resources: resources,
		snapshots: snapshots,
		manager:   checkpoint.NewManager(snapshots, testScope),
		locks:     lock.NewManager(),
		streams:   stream.NewRegistry(),
		approvals: approval.NewManager(),
		memory:    tracker.NewMemoryAccumulator(),
		contexts:  tracker.NewContextTracker(),
	}

	e.orch = NewOrchestrator(Deps{
		Sessions:      sessions,
		Snapshots:     snapshots,
		Resources:     resources,
		Locks:         e.locks,
		Streams:       e.streams,
		Approvals:     e.approvals,
		Memory:        e.memory,
		Contexts:      e.contexts,
		Hub:           eventhub.New(context.Background()),
		Summarizer:    NewStoreSummarizer(sessions, nil),
		WorkspaceRoot: root,
	})
	return e
}

func (e *env) newSession(id string) *session.Session {
	e.t.Helper()
	sess := &session.Session{ID: id, Scope: testScope}
	if err := e.sessions.Save(sess); err != nil {
		e.t.Fatal(err)
	}
	return sess
}

// runTurn runs one turn: open a checkpoint at the current boundary, let
// mutate perform captures and side effects, then close the turn and
// append a user/assistant message pair. refs attach to the assistant
// message, standing in for memories created while producing it.
func (e *env) runTurn(sess *session.Session, label string, refs []session.MemoryRef, mutate func()) *checkpoint.Checkpoint {
	e.t.Helper()

	cp := e.manager.BeginTurn(sess.ID, len(sess.Messages), label)
	if mutate != nil {
		mutate()
	}
	if err := e.manager.EndTurn(cp, nil); err != nil {
		e.t.Fatal(err)
	}

	sess.Messages = append(sess.Messages,
		session.Message{Role: "user", Content: "prompt for " + label},
		session.Message{Role: "assistant", Content: "reply for " + label, MemoryRefs: refs},
	)
	sess.Checkpoints = append(sess.Checkpoints, *cp)
	if err := e.sessions.Save(sess); err != nil {
		e.t.Fatal(err)
	}
	return cp
}

func (e *env) writeFile(rel, content string) {
	e.t.Helper()
	path := filepath.Join(e.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatal(err)
	}
}

func (e *env) readFile(rel string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.root, rel))
	if err != nil {
		e.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// touchFile captures the file's current state then overwrites it, the way
// the tool layer mutates workspace files during a turn.
func (e *env) touchFile(sessionID, rel, next string) {
	e.t.Helper()
	prior, err := os.ReadFile(filepath.Join(e.root, rel))
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		e.t.Fatal(err)
	}
	e.manager.CaptureFile(sessionID, rel, string(prior), existed)
	e.writeFile(rel, next)
}

func TestRollbackThreeTurnScenario(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	e.writeFile("notes.txt", "v0")

	e.runTurn(sess, "turn-1", nil, func() { e.touchFile("s1", "notes.txt", "v1") })
	cp2 := e.runTurn(sess, "turn-2", nil, func() { e.touchFile("s1", "notes.txt", "v2") })
	e.runTurn(sess, "turn-3", nil, func() { e.touchFile("s1", "notes.txt", "v3") })

	report, err := e.orch.Rollback(context.Background(), "s1", cp2.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if report.RemainingMessageCount != 2 {
		t.Errorf("remaining messages = %d, want 2", report.RemainingMessageCount)
	}

	updated, err := e.sessions.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Messages) != 2 {
		t.Errorf("session has %d messages, want 2", len(updated.Messages))
	}
	if len(updated.Checkpoints) != 1 {
		t.Fatalf("session has %d checkpoints, want 1", len(updated.Checkpoints))
	}
	if updated.Checkpoints[0].MessageIndex >= 2 {
		t.Errorf("surviving checkpoint at boundary %d", updated.Checkpoints[0].MessageIndex)
	}

	// Both turn-2 and turn-3 snapshotted notes.txt; the older capture wins.
	if got := e.readFile("notes.txt"); got != "v1" {
		t.Errorf("notes.txt = %q, want %q", got, "v1")
	}
	if len(report.RestoredFiles) != 1 || report.RestoredFiles[0] != "notes.txt" {
		t.Errorf("RestoredFiles = %v", report.RestoredFiles)
	}
}

func TestRollbackToFirstCheckpoint(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	sess.Summary = "stale summary"
	sess.CompressedThroughRound = 3
	if err := e.sessions.Save(sess); err != nil {
		t.Fatal(err)
	}

	cp1 := e.runTurn(sess, "turn-1", nil, nil)
	e.runTurn(sess, "turn-2", nil, nil)

	report, err := e.orch.Rollback(context.Background(), "s1", cp1.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if report.RemainingMessageCount != 0 {
		t.Errorf("remaining messages = %d, want 0", report.RemainingMessageCount)
	}

	updated, err := e.sessions.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Messages) != 0 || len(updated.Checkpoints) != 0 {
		t.Errorf("session not empty: %d messages, %d checkpoints",
			len(updated.Messages), len(updated.Checkpoints))
	}
	// No messages remain, so the summary is cleared synchronously and the
	// watermark collapses with it.
	if updated.Summary != "" {
		t.Errorf("summary not cleared: %q", updated.Summary)
	}
	if updated.CompressedThroughRound != 0 {
		t.Errorf("watermark not clamped: %d", updated.CompressedThroughRound)
	}
}

func TestRollbackCollectsMemoryIDs(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")

	e.runTurn(sess, "turn-1", []session.MemoryRef{{ID: "a", Layer: session.LayerUser}}, nil)
	cp2 := e.runTurn(sess, "turn-2", []session.MemoryRef{{ID: "b", Layer: session.LayerWorkspace}}, nil)
	e.runTurn(sess, "turn-3", []session.MemoryRef{
		{ID: "c", Layer: session.LayerSession},
		{ID: "d", Layer: session.LayerSession},
	}, nil)

	report, err := e.orch.Rollback(context.Background(), "s1", cp2.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	// Turn 1's memory survives; turns 2 and 3 are compensated.
	if len(report.RemovedMemoryIDs.User) != 0 {
		t.Errorf("user bucket = %v, want empty", report.RemovedMemoryIDs.User)
	}
	if len(report.RemovedMemoryIDs.Workspace) != 1 || report.RemovedMemoryIDs.Workspace[0] != "b" {
		t.Errorf("workspace bucket = %v, want [b]", report.RemovedMemoryIDs.Workspace)
	}
	want := []string{"c", "d"}
	if len(report.RemovedMemoryIDs.Session) != 2 {
		t.Fatalf("session bucket = %v, want %v", report.RemovedMemoryIDs.Session, want)
	}
	for i, id := range want {
		if report.RemovedMemoryIDs.Session[i] != id {
			t.Errorf("session bucket = %v, want %v in order", report.RemovedMemoryIDs.Session, want)
		}
	}
}

func TestRollbackStructuredResources(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")

	// Pre-existing document, modified during a rolled-back turn.
	doc, err := e.resources.CreateDocument("Plan", "", "original")
	if err != nil {
		t.Fatal(err)
	}
	// Pre-existing document, deleted during a rolled-back turn.
	victim, err := e.resources.CreateDocument("Victim", "", "keep me")
	if err != nil {
		t.Fatal(err)
	}

	var created *resource.Document
	cp := e.runTurn(sess, "turn-1", nil, func() {
		// Modify Plan.
		e.manager.CaptureDocument("s1", doc.ID,
			checkpoint.ModifiedResource(doc.Version, doc.Title, doc.Content))
		if _, err := e.resources.UpdateDocument(doc.ID, "Plan v2", "rewritten"); err != nil {
			t.Fatal(err)
		}
		if err := e.locks.Acquire(lock.TypeDocument, doc.ID, "s1"); err != nil {
			t.Fatal(err)
		}

		// Create a new document.
		created, err = e.resources.CreateDocument("Scratch", "", "temp")
		if err != nil {
			t.Fatal(err)
		}
		e.manager.CaptureDocument("s1", created.ID, checkpoint.CreatedResource())

		// Delete Victim.
		e.manager.CaptureDocument("s1", victim.ID,
			checkpoint.DeletedResource(victim.Title, victim.Path, victim.Content))
		if err := e.resources.DeleteDocument(victim.ID); err != nil {
			t.Fatal(err)
		}
	})

	report, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	t.Run("ModifiedRestoredToPriorVersion", func(t *testing.T) {
		got, err := e.resources.GetDocument(doc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "Plan" || got.Content != "original" {
			t.Errorf("document = %q / %q", got.Title, got.Content)
		}
		found := false
		for _, id := range report.RestoredDocumentIDs {
			if id == doc.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("RestoredDocumentIDs = %v, missing %s", report.RestoredDocumentIDs, doc.ID)
		}
	})

	t.Run("CreatedDeleted", func(t *testing.T) {
		if _, err := e.resources.GetDocument(created.ID); !errors.Is(err, resource.ErrNotFound) {
			t.Errorf("created document still exists: %v", err)
		}
		if len(report.DeletedDocumentIDs) != 1 || report.DeletedDocumentIDs[0] != created.ID {
			t.Errorf("DeletedDocumentIDs = %v", report.DeletedDocumentIDs)
		}
	})

	t.Run("DeletedRecreated", func(t *testing.T) {
		got, err := e.resources.GetDocument(victim.ID)
		if err != nil {
			t.Fatalf("deleted document not recreated: %v", err)
		}
		if got.Content != "keep me" {
			t.Errorf("recreated content = %q", got.Content)
		}
	})

	t.Run("LockReleased", func(t *testing.T) {
		if holder, held := e.locks.Holder(lock.TypeDocument, doc.ID); held {
			t.Errorf("document lock still held by %s", holder)
		}
	})
}

func TestRollbackTodoLists(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")

	list, err := e.resources.CreateTodoList("Chores", []resource.TodoItem{{Text: "sweep"}})
	if err != nil {
		t.Fatal(err)
	}

	cp := e.runTurn(sess, "turn-1", nil, func() {
		e.manager.CaptureTodo("s1", list.ID,
			checkpoint.ModifiedResource(list.Version, list.Title, ""))
		if _, err := e.resources.UpdateTodoList(list.ID, "Chores", []resource.TodoItem{
			{Text: "sweep", Done: true},
			{Text: "mop"},
		}); err != nil {
			t.Fatal(err)
		}
	})

	report, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	got, err := e.resources.GetTodoList(list.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 1 || got.Items[0].Done {
		t.Errorf("todo items = %+v", got.Items)
	}

	wantKey := checkpoint.TodoKey(list.ID).String()
	if len(report.RestoredFiles) != 1 || report.RestoredFiles[0] != wantKey {
		t.Errorf("RestoredFiles = %v, want [%s]", report.RestoredFiles, wantKey)
	}
}

func TestRollbackSkipsFilesWhenDisabled(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	e.writeFile("notes.txt", "v0")

	cp := e.runTurn(sess, "turn-1", nil, func() { e.touchFile("s1", "notes.txt", "v1") })

	report, err := e.orch.Rollback(context.Background(), "s1", cp.ID, false)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if got := e.readFile("notes.txt"); got != "v1" {
		t.Errorf("file was restored despite restoreFiles=false: %q", got)
	}
	if len(report.RestoredFiles) != 0 {
		t.Errorf("RestoredFiles = %v, want empty", report.RestoredFiles)
	}
	if report.RemainingMessageCount != 0 {
		t.Error("truncation skipped alongside file restore")
	}
}

func TestRollbackRemovesFilesCreatedDuringTurn(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")

	cp := e.runTurn(sess, "turn-1", nil, func() { e.touchFile("s1", "fresh.txt", "new file") })

	if _, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(e.root, "fresh.txt")); !os.IsNotExist(err) {
		t.Errorf("file created during rolled-back turn still exists: %v", err)
	}
}

func TestRollbackPreconditionErrors(t *testing.T) {
	e := newEnv(t)

	if _, err := e.orch.Rollback(context.Background(), "ghost", "cp", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	sess := e.newSession("s1")
	e.runTurn(sess, "turn-1", nil, nil)

	if _, err := e.orch.Rollback(context.Background(), "s1", "ghost", true); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}

	// Preconditions failed, so nothing was truncated.
	got, err := e.sessions.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 || len(got.Checkpoints) != 1 {
		t.Error("failed precondition still mutated the session")
	}
}

func TestRollbackCancelsConcurrentActivity(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	cp := e.runTurn(sess, "turn-1", nil, nil)

	streamCtx := e.streams.Register(context.Background(), "s1")
	req := e.approvals.Create("s1", "write_file", "pending question")

	decided := make(chan bool, 1)
	go func() {
		approved, err := req.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait failed: %v", err)
			return
		}
		decided <- approved
	}()

	if _, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	select {
	case <-streamCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("in-flight stream not cancelled by rollback")
	}

	select {
	case approved := <-decided:
		if approved {
			t.Error("pending approval resolved as approved")
		}
	case <-time.After(time.Second):
		t.Fatal("pending approval never resolved")
	}
}

func TestRollbackResetsTrackers(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	cp := e.runTurn(sess, "turn-1", nil, nil)

	e.memory.Add("s1", "fact about rolled-back content")
	e.contexts.MarkShown("s1", "doc-1", tracker.FormFull, 1)
	e.memory.Add("s2", "unrelated fact")

	if _, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if e.memory.Pending("s1") != 0 {
		t.Error("memory accumulator survived rollback")
	}
	if len(e.contexts.Entries("s1")) != 0 {
		t.Error("context tracker survived rollback")
	}
	if e.memory.Pending("s2") != 1 {
		t.Error("rollback touched another session's accumulator")
	}
}

func TestSequentialRollbacksDoNotResurrectSnapshots(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")
	e.writeFile("notes.txt", "v0")

	e.runTurn(sess, "turn-1", nil, func() { e.touchFile("s1", "notes.txt", "v1") })
	cp2 := e.runTurn(sess, "turn-2", nil, func() { e.touchFile("s1", "notes.txt", "v2") })

	if _, err := e.orch.Rollback(context.Background(), "s1", cp2.ID, true); err != nil {
		t.Fatal(err)
	}
	if got := e.readFile("notes.txt"); got != "v1" {
		t.Fatalf("first rollback left notes.txt = %q", got)
	}

	// The first rollback deleted turn-2's snapshots for good.
	if snaps, err := e.snapshots.Load(testScope, "s1", cp2.ID); err != nil || len(snaps) != 0 {
		t.Fatalf("turn-2 snapshots survived: %d entries, err=%v", len(snaps), err)
	}

	// A new turn after the rollback, then a second rollback: only the new
	// turn's snapshot applies.
	sess, err := e.sessions.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	cp3 := e.runTurn(sess, "turn-3", nil, func() { e.touchFile("s1", "notes.txt", "v3") })

	if _, err := e.orch.Rollback(context.Background(), "s1", cp3.ID, true); err != nil {
		t.Fatal(err)
	}
	if got := e.readFile("notes.txt"); got != "v1" {
		t.Errorf("second rollback restored %q, want %q", got, "v1")
	}
}

func TestRollbackSchedulesSummaryRefresh(t *testing.T) {
	e := newEnv(t)

	// Plug a deterministic generator so the async refresh is observable.
	e.orch.summarizer = NewStoreSummarizer(e.sessions, func(seed string) (string, error) {
		return "recap: " + seed, nil
	})

	sess := e.newSession("s1")
	e.runTurn(sess, "turn-1", nil, nil)
	cp2 := e.runTurn(sess, "turn-2", nil, nil)

	if _, err := e.orch.Rollback(context.Background(), "s1", cp2.ID, true); err != nil {
		t.Fatal(err)
	}

	want := "recap: prompt for turn-1"
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.sessions.Get("s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Summary == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("summary refresh never landed, want %q", want)
}

func TestRollbackSkipsUnaddressableDocumentVersion(t *testing.T) {
	e := newEnv(t)
	sess := e.newSession("s1")

	doc, err := e.resources.CreateDocument("Plan", "", "original")
	if err != nil {
		t.Fatal(err)
	}

	cp := e.runTurn(sess, "turn-1", nil, func() {
		// Snapshot without an addressable prior version: restore must
		// skip rather than guess.
		e.manager.CaptureDocument("s1", doc.ID, checkpoint.ModifiedResource(0, doc.Title, doc.Content))
		if _, err := e.resources.UpdateDocument(doc.ID, "Plan v2", "rewritten"); err != nil {
			t.Fatal(err)
		}
	})

	report, err := e.orch.Rollback(context.Background(), "s1", cp.ID, true)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if len(report.RestoredDocumentIDs) != 0 {
		t.Errorf("RestoredDocumentIDs = %v, want empty", report.RestoredDocumentIDs)
	}
	got, err := e.resources.GetDocument(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "rewritten" {
		t.Errorf("unaddressable version was restored anyway: %q", got.Content)
	}
}
