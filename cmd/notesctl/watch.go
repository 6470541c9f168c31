package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lesson-notes-sync/internal/domain"
)

var watchClear bool

var watchCmd = &cobra.Command{
	Use:   "watch [lessonId]",
	Short: "Follow the live draft of a lesson note",
	Long: `Print the in-progress note of a lesson as other participants type.
Mirrors are previews: nothing is saved by watching.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lessonID := args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e := newEngine()
		defer e.Close()

		e.joinLesson(ctx, lessonID)
		if e.broadcaster == nil {
			return errors.New("live mirror unavailable; check --ws and SOFTSYNC_ENABLED")
		}

		e.broadcaster.OnIncoming(func(p domain.SoftSyncPayload) {
			if watchClear {
				fmt.Print("\033[H\033[2J")
			}
			fmt.Fprintf(os.Stderr, "--- %s (%s) saved %s\n", p.LessonID, p.Format, p.UpdatedAt.Format(time.Kitchen))
			fmt.Println(p.Content)
		})

		slog.Info("watching lesson", "lesson", lessonID, "sender", e.broadcaster.SenderID())

		select {
		case <-ctx.Done():
			return nil
		case <-e.peer.Done():
			return errors.New("live mirror disconnected")
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchClear, "clear", false, "Clear the terminal before each mirror")
}
