package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lesson-notes-sync/internal/config"
)

var (
	verbose   bool
	apiURL    string
	wsURL     string
	token     string
	cachePath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "notesctl",
	Short: "Read, edit and follow lesson notes",
	Long: `notesctl is a headless editing surface for lesson notes.
Edits are autosaved to the notes service, cached locally for offline reads,
and mirrored live to everyone else in the lesson.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if apiURL != "" {
			loaded.Client.BaseURL = apiURL
		}
		if wsURL != "" {
			loaded.Client.WSURL = wsURL
		}
		if token != "" {
			loaded.Client.Token = token
		}
		if cachePath != "" {
			loaded.Cache.Path = cachePath
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fatal("notesctl", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Notes API base URL (default $NOTES_API_URL)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", "", "Lesson channel URL (default $NOTES_WS_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (default $NOTES_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "Local cache file (default $NOTES_CACHE_PATH)")
}
