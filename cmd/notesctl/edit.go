package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/internal/service"
)

var (
	editFile   string
	editFormat string
)

var editCmd = &cobra.Command{
	Use:   "edit [lessonId]",
	Short: "Edit a lesson note with autosave and live mirroring",
	Long: `Open a lesson note for editing. With --file the note is written to the file
(when it does not exist yet) and every save of the file becomes an edit.
Without --file, lines read from stdin are appended to the note.

Edits are autosaved after a short pause and mirrored to the other
participants of the lesson while typing. Interrupting the command performs
a final save.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lessonID := args[0]
		format := domain.ParseFormat(editFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e := newEngine()
		defer e.Close()

		leases, err := e.leaseRepository()
		if err != nil {
			return err
		}
		keeper := service.NewLeaseKeeper(leases, lessonID, uuid.NewString(), cfg.Client.LeaseTTL, e.clock)
		if err := keeper.Acquire(ctx); err != nil {
			if errors.Is(err, repository.ErrLeaseHeld) {
				return fmt.Errorf("lesson %s is already open for editing on this machine", lessonID)
			}
			return err
		}
		defer func() {
			if err := keeper.Release(context.Background()); err != nil {
				slog.Warn("failed to release editor lease", "lesson", lessonID, "error", err)
			}
		}()

		e.joinLesson(ctx, lessonID)

		session := e.newSession()
		var (
			labelMu   sync.Mutex
			lastLabel string
		)
		session.OnChange(func(ev service.SessionEvent) {
			labelMu.Lock()
			defer labelMu.Unlock()
			if ev.Status.Label == lastLabel {
				return
			}
			lastLabel = ev.Status.Label
			slog.Info(ev.Status.Label, "lesson", ev.LessonID, "state", string(ev.State), "tone", string(ev.Status.Tone))
		})

		monitor := service.NewConnectivityMonitor(e.notes, cfg.Client.ProbeInterval, cfg.Notes.RequestTimeout, e.clock, session.SetOnline)
		monitor.Check(ctx)
		monitor.Start()
		defer monitor.Stop()

		result, err := session.Open(ctx, lessonID)
		if err != nil {
			return fmt.Errorf("failed to open lesson %s: %w", lessonID, err)
		}
		if result.Source == domain.SourceNone && result.Err != nil {
			slog.Warn("starting from an empty note", "lesson", lessonID, "error", result.Err)
		}

		go session.RunPoller(ctx)

		initial := session.Draft().Content
		if editFile != "" {
			if _, err := os.Stat(editFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(editFile, []byte(initial), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", editFile, err)
				}
			}
		}

		edits := make(chan string)
		inputDone := make(chan error, 1)
		go func() {
			if editFile != "" {
				inputDone <- watchFile(ctx, editFile, edits)
				return
			}
			inputDone <- readLines(ctx, os.Stdin, initial, edits)
		}()

		var peerDone <-chan struct{}
		if e.peer != nil {
			peerDone = e.peer.Done()
		}

		var runErr error
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-keeper.Lost():
				runErr = errors.New("editor lease lost; another editor took over this lesson")
				break loop
			case <-peerDone:
				slog.Warn("live mirror disconnected; autosave continues", "lesson", lessonID)
				peerDone = nil
				go monitor.Check(ctx)
			case content := <-edits:
				session.Edit(content, format)
			case err := <-inputDone:
				runErr = err
				break loop
			}
		}

		if err := session.Close(context.Background()); err != nil {
			slog.Error("final save failed", "lesson", lessonID, "error", err)
			if runErr == nil {
				runErr = err
			}
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVarP(&editFile, "file", "f", "", "Edit through this file instead of stdin")
	editCmd.Flags().StringVar(&editFormat, "format", string(domain.FormatMarkdown), "Note format: markdown or plain")
}
