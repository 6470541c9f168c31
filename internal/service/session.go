package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/internal/softsync"
)

var ErrSessionClosed = errors.New("lesson session closed")

type SessionConfig struct {
	Autosave        AutosaveConfig
	PollInterval    time.Duration
	FinalSaveWindow time.Duration
}

type SessionEvent struct {
	LessonID string
	AutosaveEvent
}

// LessonSession drives the notes of whichever lesson is open: it paints the
// cached copy, then the network copy, routes local edits to autosave and the
// broadcaster, and applies peer mirrors.
type LessonSession struct {
	mu sync.Mutex

	reader      *NoteReader
	writer      NoteWriter
	cache       repository.NoteCache
	broadcaster *softsync.Broadcaster
	clock       clock.Clock
	cfg         SessionConfig

	lessonID string
	autosave *Autosave
	active   bool
	online   bool
	closed   bool

	listeners []func(SessionEvent)
}

// NewLessonSession wires the session. broadcaster may be nil when soft sync
// is off.
func NewLessonSession(reader *NoteReader, writer NoteWriter, cache repository.NoteCache, broadcaster *softsync.Broadcaster, cfg SessionConfig, clk clock.Clock) *LessonSession {
	if clk == nil {
		clk = clock.New()
	}
	s := &LessonSession{
		reader:      reader,
		writer:      writer,
		cache:       cache,
		broadcaster: broadcaster,
		clock:       clk,
		cfg:         cfg,
		active:      true,
		online:      true,
	}
	if broadcaster != nil {
		broadcaster.OnIncoming(s.handlePeer)
	}
	return s
}

func (s *LessonSession) OnChange(fn func(SessionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Open makes lessonID the current lesson. A lesson already open is closed
// first, with a final save.
func (s *LessonSession) Open(ctx context.Context, lessonID string) (*ReadResult, error) {
	if s.current() != nil {
		if err := s.closeCurrent(ctx); err != nil {
			log.Printf("[Session] final save before opening %s failed: %v", lessonID, err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}

	a := NewAutosave(lessonID, s.writer, s.cache, s.cfg.Autosave, s.clock)
	a.OnChange(func(ev AutosaveEvent) {
		s.emit(SessionEvent{LessonID: lessonID, AutosaveEvent: ev})
	})
	online := s.online

	s.lessonID = lessonID
	s.autosave = a
	s.mu.Unlock()

	a.SetOnline(online)

	if s.broadcaster != nil {
		s.broadcaster.SetLesson(lessonID)
	}

	if peek := s.reader.Peek(ctx, lessonID); peek.Note != nil {
		a.ApplyRemote(peek)
	}

	result := s.reader.Read(ctx, lessonID)
	a.ApplyRemote(result)
	if result.Err != nil {
		log.Printf("[Session] opened %s from %s: %v", lessonID, result.Source, result.Err)
	}

	return result, nil
}

func (s *LessonSession) current() *Autosave {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave
}

func (s *LessonSession) LessonID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lessonID
}

// Edit feeds a local change to both the save path and the mirror path.
func (s *LessonSession) Edit(content string, format domain.NoteFormat) {
	a := s.current()
	if a == nil {
		return
	}

	a.Edit(content, format)

	if s.broadcaster != nil {
		payload := domain.SoftSyncPayload{LessonID: a.LessonID(), Content: content, Format: format}
		if lp := a.Draft().LastPersisted; lp != nil {
			payload.UpdatedAt = lp.UpdatedAt
		}
		s.broadcaster.Broadcast(payload)
	}
}

func (s *LessonSession) handlePeer(payload domain.SoftSyncPayload) {
	a := s.current()
	if a == nil || a.LessonID() != payload.LessonID {
		return
	}
	a.ApplyPeer(payload.Content, payload.Format)
}

func (s *LessonSession) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	a := s.autosave
	s.mu.Unlock()

	if a != nil {
		a.SetOnline(online)
	}
}

func (s *LessonSession) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// ShouldRefresh is true only for a visible lesson with nothing pending
// locally.
func (s *LessonSession) ShouldRefresh() bool {
	s.mu.Lock()
	a, active, closed := s.autosave, s.active, s.closed
	s.mu.Unlock()

	return a != nil && active && !closed && a.CanRefresh()
}

// Refresh re-reads the current lesson and reports whether the draft changed.
func (s *LessonSession) Refresh(ctx context.Context) bool {
	if !s.ShouldRefresh() {
		return false
	}
	a := s.current()
	result := s.reader.Read(ctx, a.LessonID())
	return a.ApplyRemote(result)
}

// RunPoller refreshes every PollInterval until ctx is done.
func (s *LessonSession) RunPoller(ctx context.Context) {
	if s.cfg.PollInterval <= 0 {
		return
	}

	for {
		due := make(chan struct{})
		t := s.clock.AfterFunc(s.cfg.PollInterval, func() { close(due) })

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-due:
		}

		s.Refresh(ctx)
	}
}

// Switch closes the current lesson and opens lessonID. Unlike Open it
// reports a failed final save; the new lesson is opened either way.
func (s *LessonSession) Switch(ctx context.Context, lessonID string) (*ReadResult, error) {
	closeErr := s.closeCurrent(ctx)
	result, err := s.Open(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	return result, closeErr
}

func (s *LessonSession) closeCurrent(ctx context.Context) error {
	s.mu.Lock()
	a := s.autosave
	s.autosave = nil
	s.lessonID = ""
	s.mu.Unlock()

	if s.broadcaster != nil {
		s.broadcaster.Disable()
	}
	if a == nil {
		return nil
	}

	window := s.cfg.FinalSaveWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	return a.Close(ctx)
}

func (s *LessonSession) Close(ctx context.Context) error {
	err := s.closeCurrent(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
	return err
}

func (s *LessonSession) Draft() domain.DraftState {
	if a := s.current(); a != nil {
		return a.Draft()
	}
	return domain.DraftState{}
}

func (s *LessonSession) Status() domain.SaveStatus {
	if a := s.current(); a != nil {
		return a.Status()
	}
	return domain.SaveStatus{Label: "No lesson open", Tone: domain.ToneNeutral}
}

func (s *LessonSession) emit(ev SessionEvent) {
	s.mu.Lock()
	listeners := append([]func(SessionEvent){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
