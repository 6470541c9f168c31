package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/service"
)

var getOutput string

type noteView struct {
	LessonID         string     `json:"lesson_id" yaml:"lesson_id"`
	Source           string     `json:"source" yaml:"source"`
	HasPersistedNote bool       `json:"has_persisted_note" yaml:"has_persisted_note"`
	Content          string     `json:"content" yaml:"content"`
	Format           string     `json:"format,omitempty" yaml:"format,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	UpdatedBy        string     `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
	Version          int64      `json:"version,omitempty" yaml:"version,omitempty"`
	CachedAt         *time.Time `json:"cached_at,omitempty" yaml:"cached_at,omitempty"`
	Error            string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func newNoteView(lessonID string, r *service.ReadResult) noteView {
	v := noteView{
		LessonID:         lessonID,
		Source:           string(r.Source),
		HasPersistedNote: r.HasPersistedNote,
	}
	if n := r.Note; n != nil {
		v.Content = n.Content
		v.Format = string(n.Format)
		v.UpdatedBy = n.UpdatedBy
		v.Version = n.Version
		if !n.UpdatedAt.IsZero() {
			updated := n.UpdatedAt
			v.UpdatedAt = &updated
		}
	}
	if r.Source == domain.SourceCache && r.CachedNote != nil {
		cached := r.CachedNote.CachedAt
		v.CachedAt = &cached
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

var getCmd = &cobra.Command{
	Use:   "get [lessonId]",
	Short: "Print a lesson note",
	Long: `Print the note of a lesson. The network copy is preferred; when the service
is unreachable the locally cached copy is shown and marked as such.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lessonID := args[0]

		e := newEngine()
		defer e.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Notes.RequestTimeout+cfg.Cache.Timeout)
		defer cancel()

		result := e.reader.Read(ctx, lessonID)
		view := newNoteView(lessonID, result)

		switch getOutput {
		case "json":
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(view)
		case "yaml":
			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			defer encoder.Close()
			return encoder.Encode(view)
		case "text", "":
		default:
			return fmt.Errorf("unknown output format %q", getOutput)
		}

		switch result.Source {
		case domain.SourceNone:
			return fmt.Errorf("no note available for %s: %w", lessonID, result.Err)
		case domain.SourceCache:
			if view.CachedAt != nil {
				fmt.Fprintf(os.Stderr, "offline copy from %s\n", view.CachedAt.Format(time.RFC1123))
			}
		}
		if !result.HasPersistedNote {
			fmt.Fprintln(os.Stderr, "no notes yet")
			return nil
		}
		fmt.Print(view.Content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "text", "Output format: text, json or yaml")
}
