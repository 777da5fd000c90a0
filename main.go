// main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rewind/internal/approval"
	"rewind/internal/checkpoint"
	"rewind/internal/config"
	"rewind/internal/eventhub"
	"rewind/internal/lock"
	"rewind/internal/resource"
	"rewind/internal/rollback"
	"rewind/internal/session"
	"rewind/internal/stream"
	"rewind/internal/tracker"
	"rewind/internal/watcher"
	"rewind/internal/websocket"
)

// services is everything a command needs, wired once per invocation.
type services struct {
	cfg          *config.Config
	sessions     *session.Store
	resources    *resource.Store
	snapshots    *checkpoint.Storage
	contexts     *tracker.ContextTracker
	hub          *eventhub.EventHub
	orchestrator *rollback.Orchestrator
}

func wire(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sessions, err := session.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	resources, err := resource.Open(cfg.DatabasePath)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("open resource store: %w", err)
	}

	snapshots := checkpoint.NewStorage(cfg.SnapshotDir, cfg.CompressionLevel)
	hub := eventhub.New(ctx)
	contexts := tracker.NewContextTracker()

	orchestrator := rollback.NewOrchestrator(rollback.Deps{
		Sessions:      sessions,
		Snapshots:     snapshots,
		Resources:     resources,
		Locks:         lock.NewManager(),
		Streams:       stream.NewRegistry(),
		Approvals:     approval.NewManager(),
		Memory:        tracker.NewMemoryAccumulator(),
		Contexts:      contexts,
		Hub:           hub,
		Summarizer:    rollback.NewStoreSummarizer(sessions, nil),
		WorkspaceRoot: cfg.WorkspaceRoot,
	})

	return &services{
		cfg:          cfg,
		sessions:     sessions,
		resources:    resources,
		snapshots:    snapshots,
		contexts:     contexts,
		hub:          hub,
		orchestrator: orchestrator,
	}, nil
}

func (s *services) close() {
	s.sessions.Close()
	s.resources.Close()
}

func main() {
	root := &cobra.Command{
		Use:   "rewind",
		Short: "Checkpoint and rollback service for conversational sessions",
	}

	root.AddCommand(serveCmd(), rollbackCmd(), checkpointsCmd(), sessionsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event-push server and workspace watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			svc, err := wire(ctx)
			if err != nil {
				return err
			}
			defer svc.close()

			server := websocket.NewServer(svc.cfg.EventPort)
			svc.hub.SetBroadcaster(server)

			w, err := watcher.New(svc.cfg.WorkspaceRoot, 300*time.Millisecond, func(c watcher.Change) {
				if affected := svc.contexts.MarkStale(c.Path); len(affected) > 0 {
					svc.hub.EmitResourceStale(eventhub.ResourceStaleEvent{
						ResourceID: c.Path,
						Sessions:   affected,
					})
				}
			})
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				log.Println("[Serve] shutting down")
				server.Stop()
				cancel()
			}()

			return server.Start()
		},
	}
}

func rollbackCmd() *cobra.Command {
	var restoreFiles bool

	cmd := &cobra.Command{
		Use:   "rollback <session-id> <checkpoint-id>",
		Short: "Rewind a session to just before a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			report, err := svc.orchestrator.Rollback(cmd.Context(), args[0], args[1], restoreFiles)
			if err != nil {
				return err
			}

			fmt.Printf("rolled back to checkpoint %s\n", report.CheckpointID)
			fmt.Printf("  messages remaining:  %d\n", report.RemainingMessageCount)
			fmt.Printf("  keys restored:       %d\n", len(report.RestoredFiles))
			fmt.Printf("  documents deleted:   %d\n", len(report.DeletedDocumentIDs))
			fmt.Printf("  documents restored:  %d\n", len(report.RestoredDocumentIDs))
			if !report.RemovedMemoryIDs.Empty() {
				fmt.Printf("  memories to delete:  user=%d workspace=%d session=%d\n",
					len(report.RemovedMemoryIDs.User),
					len(report.RemovedMemoryIDs.Workspace),
					len(report.RemovedMemoryIDs.Session))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&restoreFiles, "restore-files", true, "restore workspace files from snapshots")
	return cmd
}

func checkpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <session-id>",
		Short: "List a session's checkpoint ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			sess, err := svc.sessions.Get(args[0])
			if err != nil {
				return err
			}

			for _, cp := range sess.Checkpoints {
				fmt.Printf("%s  msg=%-4d %-12s %s\n",
					cp.ID, cp.MessageIndex, cp.Label, cp.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions in the configured scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			list, err := svc.sessions.List(svc.cfg.Scope)
			if err != nil {
				return err
			}

			for _, sess := range list {
				fmt.Printf("%s  messages=%-4d checkpoints=%-3d %s\n",
					sess.ID, len(sess.Messages), len(sess.Checkpoints), sess.Title)
			}
			return nil
		},
	}
}
