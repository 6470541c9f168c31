package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/pkg/canon"
	"lesson-notes-sync/pkg/hash"
)

type SaveState string

const (
	StateClean  SaveState = "clean"
	StateDirty  SaveState = "dirty"
	StateSaving SaveState = "saving"
)

type AutosaveConfig struct {
	MaxBytes       int
	Debounce       time.Duration
	RequestTimeout time.Duration
}

type AutosaveEvent struct {
	State  SaveState
	Draft  domain.DraftState
	Status domain.SaveStatus
}

type savePayload struct {
	content string
	format  domain.NoteFormat
	// base is the server timestamp of the version being replaced.
	base time.Time
}

// Autosave owns the editable draft of one lesson note. Edits are coalesced
// behind a debounce and written through a single in-flight save; data coming
// back from the network never replaces a dirty draft.
type Autosave struct {
	mu sync.Mutex

	lessonID string
	writer   NoteWriter
	cache    repository.NoteCache
	clock    clock.Clock
	cfg      AutosaveConfig

	draft       domain.DraftState
	online      bool
	saving      bool
	saveDone    chan struct{}
	resave      bool
	closed      bool
	timer       clock.Timer
	timerGen    uint64
	mirrored    bool
	err         error
	lastSavedAt *time.Time
	fromCache   bool

	listeners []func(AutosaveEvent)
}

func NewAutosave(lessonID string, writer NoteWriter, cache repository.NoteCache, cfg AutosaveConfig, clk clock.Clock) *Autosave {
	if clk == nil {
		clk = clock.New()
	}
	return &Autosave{
		lessonID: lessonID,
		writer:   writer,
		cache:    cache,
		clock:    clk,
		cfg:      cfg,
		online:   true,
		draft:    domain.DraftState{Format: domain.FormatMarkdown},
	}
}

func (a *Autosave) LessonID() string {
	return a.lessonID
}

func (a *Autosave) OnChange(fn func(AutosaveEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Edit records a local change and restarts the save debounce.
func (a *Autosave) Edit(content string, format domain.NoteFormat) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	a.draft.Content = content
	a.draft.Format = format
	a.draft.Dirty = !a.matchesPersistedLocked()
	a.mirrored = false

	if !a.draft.Dirty {
		a.stopTimerLocked()
		a.clearLocalErrorLocked()
	} else if a.checkLocalGuardsLocked() {
		a.armLocked()
	}

	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)
}

// ApplyRemote offers freshly read data to the draft. It returns true when the
// draft content was replaced.
func (a *Autosave) ApplyRemote(result *ReadResult) bool {
	if result == nil {
		return false
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}

	if a.unchangedLocked(result) {
		a.mu.Unlock()
		return false
	}

	applied := a.applyRemoteLocked(result)
	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)
	return applied
}

// unchangedLocked reports a read of exactly the version already held, which
// needs neither an apply nor an event.
func (a *Autosave) unchangedLocked(result *ReadResult) bool {
	note, lp := result.Note, a.draft.LastPersisted
	if note == nil || lp == nil {
		return false
	}
	if a.fromCache && result.Source == domain.SourceNetwork {
		return false
	}
	return note.UpdatedAt.Equal(lp.UpdatedAt) && note.Format == lp.Format &&
		hash.Equal(noteHash(note.ContentHash, note.Content), lp.ContentHash)
}

func (a *Autosave) applyRemoteLocked(result *ReadResult) bool {
	busy := a.draft.Dirty || a.saving
	note := result.Note

	if note == nil {
		// An explicit "no note" from the server outranks a cached copy, but
		// not a version this session has seen the server confirm.
		if result.Source != domain.SourceNetwork || busy {
			return false
		}
		if a.draft.LastPersisted != nil && !a.fromCache {
			return false
		}
		a.draft.LastPersisted = nil
		a.draft.Content = ""
		a.draft.Dirty = false
		a.fromCache = false
		a.mirrored = false
		return true
	}

	if lp := a.draft.LastPersisted; lp != nil && !lp.UpdatedAt.IsZero() && note.UpdatedAt.Before(lp.UpdatedAt) {
		log.Printf("[Autosave] discarding stale %s note for %s: %s is older than %s",
			result.Source, a.lessonID, note.UpdatedAt.Format(time.RFC3339Nano), lp.UpdatedAt.Format(time.RFC3339Nano))
		return false
	}

	a.draft.LastPersisted = snapshotOf(note)

	if busy {
		return false
	}

	a.draft.Content = note.Content
	a.draft.Format = note.Format
	a.draft.Dirty = false
	a.fromCache = result.Source == domain.SourceCache
	a.mirrored = false
	return true
}

func snapshotOf(note *domain.LessonNote) *domain.PersistedSnapshot {
	return &domain.PersistedSnapshot{
		Content:     note.Content,
		Format:      note.Format,
		UpdatedAt:   note.UpdatedAt,
		ContentHash: noteHash(note.ContentHash, note.Content),
	}
}

func noteHash(stored, content string) string {
	if stored != "" {
		return stored
	}
	return hash.Content(canon.Canonicalize(content))
}

// ApplyPeer mirrors a peer's draft onto the screen. The mirror replaces any
// pending local edit and is never saved from here: the author persists their
// own edits, and the draft counts as clean until the next local Edit.
func (a *Autosave) ApplyPeer(content string, format domain.NoteFormat) {
	a.mu.Lock()
	if a.closed || (a.draft.Content == content && a.draft.Format == format) {
		a.mu.Unlock()
		return
	}

	a.draft.Content = content
	a.draft.Format = format
	a.draft.Dirty = false
	a.mirrored = true
	a.resave = false
	a.stopTimerLocked()
	a.clearLocalErrorLocked()

	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)
}

func (a *Autosave) SetOnline(online bool) {
	a.mu.Lock()
	if a.online == online {
		a.mu.Unlock()
		return
	}

	a.online = online
	if !online {
		a.stopTimerLocked()
		if a.draft.Dirty {
			a.err = domain.ErrOffline
		}
	} else {
		if errors.Is(a.err, domain.ErrOffline) {
			a.err = nil
		}
		if a.draft.Dirty && !a.saving && !a.closed && a.checkLocalGuardsLocked() {
			a.armLocked()
		}
	}

	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)
}

func (a *Autosave) Draft() domain.DraftState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draftLocked()
}

func (a *Autosave) State() SaveState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Autosave) Status() domain.SaveStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Autosave) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// CanRefresh is false while local changes are pending or being written.
func (a *Autosave) CanRefresh() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && !a.draft.Dirty && !a.saving
}

// Close cancels the debounce and makes a final save attempt for a dirty
// draft. An in-flight save is awaited first.
func (a *Autosave) Close(ctx context.Context) error {
	for {
		a.mu.Lock()
		a.closed = true
		a.stopTimerLocked()

		if a.saving {
			done := a.saveDone
			a.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		payload, ok := a.prepareSaveLocked()
		ev := a.eventLocked()
		a.mu.Unlock()
		a.emit(ev)

		if !ok {
			return nil
		}
		return a.save(ctx, payload)
	}
}

func (a *Autosave) flush(gen uint64) {
	a.mu.Lock()
	if gen != a.timerGen {
		// Superseded by a newer arm or a stop.
		a.mu.Unlock()
		return
	}
	a.timer = nil
	if a.closed {
		a.mu.Unlock()
		return
	}

	payload, ok := a.prepareSaveLocked()
	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)

	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	a.save(ctx, payload)
}

// prepareSaveLocked evaluates the save guards in priority order and, when a
// write may start, marks the save as in flight.
func (a *Autosave) prepareSaveLocked() (savePayload, bool) {
	if !a.draft.Dirty || a.mirrored {
		return savePayload{}, false
	}
	if !a.checkLocalGuardsLocked() {
		return savePayload{}, false
	}
	if a.saving {
		a.resave = true
		return savePayload{}, false
	}
	if strings.TrimSpace(canon.Canonicalize(a.draft.Content)) == "" && a.draft.LastPersisted == nil {
		a.draft.Dirty = false
		a.err = nil
		return savePayload{}, false
	}

	a.saving = true
	a.saveDone = make(chan struct{})
	a.err = nil
	p := savePayload{content: a.draft.Content, format: a.draft.Format}
	if lp := a.draft.LastPersisted; lp != nil {
		p.base = lp.UpdatedAt
	}
	return p, true
}

// checkLocalGuardsLocked applies the size and connectivity gates that never
// reach the network.
func (a *Autosave) checkLocalGuardsLocked() bool {
	if canon.ByteLength(a.draft.Content) >= a.cfg.MaxBytes {
		a.stopTimerLocked()
		a.err = domain.ErrTooLarge
		return false
	}
	if !a.online {
		a.stopTimerLocked()
		a.err = domain.ErrOffline
		return false
	}
	a.clearLocalErrorLocked()
	return true
}

func (a *Autosave) clearLocalErrorLocked() {
	// A 413 from the server unwraps to ErrTooLarge too; only the locally
	// raised sentinels are cleared here.
	if a.err == domain.ErrTooLarge || a.err == domain.ErrOffline {
		a.err = nil
	}
}

func (a *Autosave) save(ctx context.Context, p savePayload) error {
	note, err := a.writer.Put(ctx, a.lessonID, domain.PutNoteRequest{Content: p.content, Format: p.format})

	switch {
	case err != nil:
	case note != nil:
		a.cache.Save(ctx, note)
	case !p.base.IsZero():
		// No body: keep the cache on the server's clock by reusing the
		// timestamp of the version just replaced.
		a.cache.Save(ctx, &domain.LessonNote{LessonID: a.lessonID, Content: p.content, Format: p.format, UpdatedAt: p.base})
	}

	a.mu.Lock()
	a.saving = false
	close(a.saveDone)

	if err != nil {
		a.err = err
		log.Printf("[Autosave] save for %s failed: %v", a.lessonID, err)
	} else {
		snapshot := snapshotOf(&domain.LessonNote{Content: p.content, Format: p.format, UpdatedAt: p.base})
		if note != nil {
			snapshot = snapshotOf(note)
		}
		a.draft.LastPersisted = snapshot

		now := a.clock.Now()
		a.lastSavedAt = &now
		a.fromCache = false
		a.draft.Dirty = !a.mirrored && (a.draft.Content != p.content || a.draft.Format != p.format)
	}

	if a.draft.Dirty && a.resave && a.timer == nil && !a.closed && a.checkLocalGuardsLocked() {
		a.armLocked()
	}
	a.resave = false

	ev := a.eventLocked()
	a.mu.Unlock()
	a.emit(ev)

	if err != nil {
		return fmt.Errorf("failed to save lesson note: %w", err)
	}
	return nil
}

func (a *Autosave) armLocked() {
	a.stopTimerLocked()
	gen := a.timerGen
	a.timer = a.clock.AfterFunc(a.cfg.Debounce, func() { a.flush(gen) })
}

func (a *Autosave) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
}

func (a *Autosave) matchesPersistedLocked() bool {
	lp := a.draft.LastPersisted
	if lp == nil {
		return a.draft.Content == ""
	}
	return lp.Content == a.draft.Content && lp.Format == a.draft.Format
}

func (a *Autosave) stateLocked() SaveState {
	switch {
	case a.saving:
		return StateSaving
	case a.draft.Dirty:
		return StateDirty
	default:
		return StateClean
	}
}

func (a *Autosave) draftLocked() domain.DraftState {
	d := a.draft
	if a.draft.LastPersisted != nil {
		lp := *a.draft.LastPersisted
		d.LastPersisted = &lp
	}
	return d
}

func (a *Autosave) statusLocked() domain.SaveStatus {
	status := domain.SaveStatus{Offline: !a.online}

	switch {
	case !a.online && a.draft.Dirty:
		status.Label = "No connection. Changes not saved."
		status.Tone = domain.ToneError
		status.ErrorMessage = status.Label
	case errors.Is(a.err, domain.ErrTooLarge):
		status.Label = "Note is too large to save."
		status.Tone = domain.ToneError
		status.ErrorMessage = fmt.Sprintf("Notes are limited to %d KB.", a.cfg.MaxBytes/1024)
	case a.err != nil && !errors.Is(a.err, domain.ErrOffline):
		status.Label = remoteErrorLabel(a.err)
		status.Tone = domain.ToneError
		status.ErrorMessage = a.err.Error()
	case a.saving:
		status.Label = "Saving…"
		status.Tone = domain.ToneInfo
		status.IsSaving = true
	case a.draft.Dirty:
		status.Label = "Unsaved changes"
		status.Tone = domain.ToneNeutral
	case a.lastSavedAt != nil:
		saved := *a.lastSavedAt
		status.Label = "All changes saved"
		status.Tone = domain.ToneSuccess
		status.LastSavedAt = &saved
	case a.fromCache:
		status.Label = "Showing offline copy"
		status.Tone = domain.ToneWarning
	case a.draft.Content == "":
		status.Label = "No notes yet"
		status.Tone = domain.ToneNeutral
	default:
		status.Label = "Up to date"
		status.Tone = domain.ToneNeutral
	}

	if a.lastSavedAt != nil && status.LastSavedAt == nil {
		saved := *a.lastSavedAt
		status.LastSavedAt = &saved
	}

	return status
}

func remoteErrorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "You don't have access to these notes."
	case errors.Is(err, domain.ErrNotFound):
		return "This lesson no longer exists."
	case errors.Is(err, domain.ErrInvalid):
		return "The note could not be saved."
	default:
		return "Couldn't save changes. Keep editing to retry."
	}
}

func (a *Autosave) eventLocked() AutosaveEvent {
	return AutosaveEvent{
		State:  a.stateLocked(),
		Draft:  a.draftLocked(),
		Status: a.statusLocked(),
	}
}

func (a *Autosave) emit(ev AutosaveEvent) {
	a.mu.Lock()
	listeners := append([]func(AutosaveEvent){}, a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
