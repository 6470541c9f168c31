package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"lesson-notes-sync/internal/client"
	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/internal/service"
	"lesson-notes-sync/internal/softsync"
	"lesson-notes-sync/internal/websocket"
)

// engine is the client-side wiring shared by the commands.
type engine struct {
	db     *sql.DB
	cache  repository.NoteCache
	notes  *client.NotesClient
	reader *service.NoteReader
	clock  clock.Clock

	peer        *websocket.Peer
	broadcaster *softsync.Broadcaster
}

func newEngine() *engine {
	clk := clock.New()

	db, err := repository.OpenLocalStore(cfg.Cache.Path)
	if err != nil {
		// Reads and saves still work against the network without a cache.
		slog.Warn("local cache unavailable", "path", cfg.Cache.Path, "error", err)
		db = nil
	}

	notes := client.NewNotesClient(cfg.Client.BaseURL, cfg.Client.Token, cfg.Notes.RequestTimeout)
	cache := repository.NewNoteCache(db, cfg.Cache.Timeout, clk)

	return &engine{
		db:     db,
		cache:  cache,
		notes:  notes,
		reader: service.NewNoteReader(notes, cache),
		clock:  clk,
	}
}

// joinLesson dials the lesson channel and wires a broadcaster to it. Soft
// sync is optional: failures are logged and the engine carries on without it.
func (e *engine) joinLesson(ctx context.Context, lessonID string) {
	if !cfg.SoftSync.Enabled {
		return
	}

	peer, err := websocket.DialPeer(ctx, cfg.Client.WSURL, lessonID, cfg.Client.Token)
	if err != nil {
		slog.Warn("live mirror unavailable", "lesson", lessonID, "error", err)
		return
	}

	pacing := softsync.PacingConfig{
		TinyChars: cfg.SoftSync.TinyChars,
		TinyGate:  cfg.SoftSync.TinyGate,
		Debounce:  cfg.SoftSync.Debounce,
		MaxWait:   cfg.SoftSync.MaxWait,
	}
	b := softsync.NewBroadcaster(peer, "", pacing, cfg.SoftSync.SendTimeout, e.clock)
	b.SetLesson(lessonID)
	peer.OnMessage(func(payload []byte) { b.HandleIncoming(payload) })

	e.peer = peer
	e.broadcaster = b
}

func (e *engine) newSession() *service.LessonSession {
	scfg := service.SessionConfig{
		Autosave: service.AutosaveConfig{
			MaxBytes:       cfg.Notes.MaxBytes,
			Debounce:       cfg.Notes.SaveDebounce,
			RequestTimeout: cfg.Notes.RequestTimeout,
		},
		PollInterval:    cfg.Notes.PollInterval,
		FinalSaveWindow: cfg.Notes.FinalSaveWindow,
	}
	return service.NewLessonSession(e.reader, e.notes, e.cache, e.broadcaster, scfg, e.clock)
}

func (e *engine) leaseRepository() (repository.LeaseRepository, error) {
	if e.db == nil {
		return nil, fmt.Errorf("editor lease needs the local cache at %s", cfg.Cache.Path)
	}
	return repository.NewLeaseRepository(e.db, e.clock), nil
}

func (e *engine) Close() {
	if e.broadcaster != nil {
		e.broadcaster.Close()
	}
	if e.peer != nil {
		e.peer.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
