package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const fileSettle = 50 * time.Millisecond

// watchFile emits the full content of path each time it settles after a
// write. The parent directory is watched so editors that save by renaming
// over the file are still seen.
func watchFile(ctx context.Context, path string, edits chan<- string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var settle *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			slog.Debug("file event", "name", event.Name, "op", event.Op.String())
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(fileSettle, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			data, err := os.ReadFile(abs)
			if err != nil {
				slog.Warn("failed to read edited file", "path", abs, "error", err)
				continue
			}
			select {
			case edits <- string(data):
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

// readLines treats r as an append-only editor: every line extends the draft.
func readLines(ctx context.Context, r io.Reader, initial string, edits chan<- string) error {
	var content strings.Builder
	content.WriteString(initial)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			content.WriteString(line)
			select {
			case edits <- content.String():
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}
