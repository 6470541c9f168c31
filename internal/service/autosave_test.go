package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAutosaveConfig = AutosaveConfig{
	MaxBytes:       64,
	Debounce:       time.Second,
	RequestTimeout: 10 * time.Second,
}

func newTestAutosave(t *testing.T) (*Autosave, *mockNotesAPI, *mockCache, *clock.Manual) {
	t.Helper()

	api := newMockNotesAPI()
	cache := newMockCache()
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewAutosave("lesson-1", api, cache, testAutosaveConfig, clk), api, cache, clk
}

type stateRecorder struct {
	mu     sync.Mutex
	states []SaveState
}

func (r *stateRecorder) record(ev AutosaveEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.states); n > 0 && r.states[n-1] == ev.State {
		return
	}
	r.states = append(r.states, ev.State)
}

func (r *stateRecorder) get() []SaveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SaveState{}, r.states...)
}

func TestAutosave_TypeThenIdleSavesOnce(t *testing.T) {
	a, api, cache, clk := newTestAutosave(t)
	rec := &stateRecorder{states: []SaveState{a.State()}}
	a.OnChange(rec.record)

	a.Edit("Hello", domain.FormatMarkdown)
	assert.Equal(t, StateDirty, a.State())
	assert.Equal(t, "Unsaved changes", a.Status().Label)

	clk.Advance(1200 * time.Millisecond)

	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "Hello", api.lastPut().Content)
	assert.Equal(t, []SaveState{StateClean, StateDirty, StateSaving, StateClean}, rec.get())

	status := a.Status()
	assert.Equal(t, "All changes saved", status.Label)
	assert.Equal(t, domain.ToneSuccess, status.Tone)
	require.NotNil(t, status.LastSavedAt)

	draft := a.Draft()
	assert.False(t, draft.Dirty)
	require.NotNil(t, draft.LastPersisted)
	assert.Equal(t, "Hello", draft.LastPersisted.Content)

	cached := cache.Load(context.Background(), "lesson-1")
	require.NotNil(t, cached)
	assert.Equal(t, "Hello", cached.Content)
}

func TestAutosave_DebounceCoalescesEdits(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	for _, text := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		a.Edit(text, domain.FormatMarkdown)
		clk.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, 0, api.putCount())

	clk.Advance(time.Second)
	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "Hello", api.lastPut().Content)
}

func TestAutosave_StaleRemoteIgnored(t *testing.T) {
	a, _, _, _ := newTestAutosave(t)

	newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	applied := a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "current", Format: domain.FormatMarkdown, UpdatedAt: newer},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	})
	require.True(t, applied)

	applied = a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "older", Format: domain.FormatMarkdown, UpdatedAt: newer.Add(-24 * time.Hour)},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	})

	assert.False(t, applied)
	draft := a.Draft()
	assert.Equal(t, "current", draft.Content)
	assert.True(t, draft.LastPersisted.UpdatedAt.Equal(newer))
}

func TestAutosave_RemoteNeverReplacesDirtyDraft(t *testing.T) {
	a, _, _, _ := newTestAutosave(t)

	a.Edit("local words", domain.FormatMarkdown)
	applied := a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "server words", Format: domain.FormatMarkdown, UpdatedAt: time.Now()},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	})

	assert.False(t, applied)
	assert.Equal(t, "local words", a.Draft().Content)
	assert.True(t, a.Draft().Dirty)
	assert.False(t, a.CanRefresh())
}

func TestAutosave_OfflineBlocksSaves(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.Edit("Hel", domain.FormatMarkdown)
	a.SetOnline(false)
	a.Edit("Hello", domain.FormatMarkdown)

	status := a.Status()
	assert.Equal(t, "No connection. Changes not saved.", status.Label)
	assert.Equal(t, domain.ToneError, status.Tone)
	assert.True(t, status.Offline)

	clk.Advance(5 * time.Second)
	assert.Equal(t, 0, api.putCount())

	a.SetOnline(true)
	clk.Advance(time.Second)
	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "Hello", api.lastPut().Content)
	assert.Equal(t, "All changes saved", a.Status().Label)
}

func TestAutosave_SizeGate(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantSaved bool
	}{
		{name: "one byte under the limit", content: strings.Repeat("a", testAutosaveConfig.MaxBytes-1), wantSaved: true},
		{name: "at the limit", content: strings.Repeat("a", testAutosaveConfig.MaxBytes), wantSaved: false},
		{name: "multibyte over the limit", content: strings.Repeat("é", testAutosaveConfig.MaxBytes/2), wantSaved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, api, _, clk := newTestAutosave(t)

			a.Edit(tt.content, domain.FormatPlain)
			clk.Advance(2 * time.Second)

			if tt.wantSaved {
				assert.Equal(t, 1, api.putCount())
				assert.NoError(t, a.Err())
				return
			}
			assert.Equal(t, 0, api.putCount())
			assert.ErrorIs(t, a.Err(), domain.ErrTooLarge)
			assert.Equal(t, "Note is too large to save.", a.Status().Label)
			assert.NotEmpty(t, a.Status().ErrorMessage)
		})
	}
}

func TestAutosave_ShrinkingClearsSizeError(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.Edit(strings.Repeat("a", 100), domain.FormatPlain)
	require.ErrorIs(t, a.Err(), domain.ErrTooLarge)

	a.Edit("short", domain.FormatPlain)
	assert.NoError(t, a.Err())

	clk.Advance(time.Second)
	assert.Equal(t, 1, api.putCount())
}

func TestAutosave_EmptyNeverPersistedIsNoop(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.Edit("  \n\n", domain.FormatMarkdown)
	clk.Advance(2 * time.Second)

	assert.Equal(t, 0, api.putCount())
	assert.Equal(t, StateClean, a.State())
}

func TestAutosave_SingleFlight(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)
	api.block = make(chan struct{})
	api.started = make(chan struct{}, 4)

	a.Edit("first", domain.FormatMarkdown)

	done := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(done)
	}()
	<-api.started
	assert.Equal(t, StateSaving, a.State())

	a.Edit("first and second", domain.FormatMarkdown)
	clk.Advance(time.Second)
	assert.Equal(t, 0, api.putCount(), "no second write may start while one is in flight")

	close(api.block)
	<-done

	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "first", api.lastPut().Content)
	assert.Equal(t, StateDirty, a.State())

	clk.Advance(time.Second)
	<-api.started
	require.Equal(t, 2, api.putCount())
	assert.Equal(t, "first and second", api.lastPut().Content)
	assert.Equal(t, StateClean, a.State())
}

func TestAutosave_RemoteErrorKeepsDraftDirty(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)
	api.putErr = &domain.NotesError{Status: 403, Message: "forbidden"}

	a.Edit("secret", domain.FormatMarkdown)
	clk.Advance(time.Second)

	assert.Equal(t, 1, api.putCount())
	assert.True(t, a.Draft().Dirty)
	assert.ErrorIs(t, a.Err(), domain.ErrForbidden)
	assert.Equal(t, "You don't have access to these notes.", a.Status().Label)

	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, api.putCount(), "failed saves are not retried on their own")

	api.putErr = nil
	a.Edit("secret!", domain.FormatMarkdown)
	clk.Advance(time.Second)
	assert.Equal(t, 2, api.putCount())
	assert.NoError(t, a.Err())
}

func TestAutosave_NoContentKeepsPreviousTimestamp(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)
	api.noBody = true

	updated := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "v1", Format: domain.FormatMarkdown, UpdatedAt: updated},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	})

	a.Edit("v2", domain.FormatMarkdown)
	clk.Advance(time.Second)

	lp := a.Draft().LastPersisted
	require.NotNil(t, lp)
	assert.Equal(t, "v2", lp.Content)
	assert.True(t, lp.UpdatedAt.Equal(updated))
}

func TestAutosave_CloseFlushesDirtyDraft(t *testing.T) {
	a, api, _, _ := newTestAutosave(t)

	a.Edit("last words", domain.FormatMarkdown)
	require.NoError(t, a.Close(context.Background()))

	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "last words", api.lastPut().Content)

	a.Edit("after close", domain.FormatMarkdown)
	assert.Equal(t, "last words", a.Draft().Content)
}

func TestAutosave_ApplyPeerDoesNotSave(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.ApplyPeer("from the tutor", domain.FormatMarkdown)
	clk.Advance(5 * time.Second)

	assert.Equal(t, "from the tutor", a.Draft().Content)
	assert.Equal(t, 0, api.putCount())
}

func TestAutosave_CacheSourceLabel(t *testing.T) {
	a, _, _, _ := newTestAutosave(t)

	a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "cached", Format: domain.FormatMarkdown},
		Source:           domain.SourceCache,
		HasPersistedNote: true,
	})

	status := a.Status()
	assert.Equal(t, "Showing offline copy", status.Label)
	assert.Equal(t, domain.ToneWarning, status.Tone)
}

func TestAutosave_PeerMirrorDuringSaveSettlesClean(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)
	api.block = make(chan struct{})
	api.started = make(chan struct{}, 4)

	a.Edit("mine", domain.FormatMarkdown)

	done := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(done)
	}()
	<-api.started

	a.ApplyPeer("theirs", domain.FormatMarkdown)
	close(api.block)
	<-done

	clk.Advance(time.Minute)

	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "mine", api.lastPut().Content)
	assert.Equal(t, "theirs", a.Draft().Content)
	assert.Equal(t, StateClean, a.State())
	assert.True(t, a.CanRefresh(), "polling resumes once the save lands")
	assert.Equal(t, 0, clk.Pending())
}

func TestAutosave_PeerMirrorDropsPendingEdit(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.Edit("mine", domain.FormatMarkdown)
	a.ApplyPeer("theirs", domain.FormatMarkdown)
	clk.Advance(2 * time.Second)

	assert.Equal(t, 0, api.putCount(), "a mirrored draft is never written by this editor")
	assert.Equal(t, StateClean, a.State())
	assert.Equal(t, 0, clk.Pending())

	a.Edit("theirs and mine", domain.FormatMarkdown)
	clk.Advance(time.Second)
	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "theirs and mine", api.lastPut().Content)
}

func TestAutosave_SameVersionIsNotReapplied(t *testing.T) {
	a, _, _, _ := newTestAutosave(t)

	var events int
	a.OnChange(func(AutosaveEvent) { events++ })

	result := &ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "v1", Format: domain.FormatMarkdown, UpdatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	}
	require.True(t, a.ApplyRemote(result))
	require.Equal(t, 1, events)

	a.ApplyPeer("live preview", domain.FormatMarkdown)
	events = 0

	assert.False(t, a.ApplyRemote(result))
	assert.Equal(t, 0, events)
	assert.Equal(t, "live preview", a.Draft().Content, "a poll of the same version keeps the mirror")
}

func TestAutosave_NetworkCopyReplacesCacheOfSameVersion(t *testing.T) {
	a, _, _, _ := newTestAutosave(t)
	note := domain.LessonNote{LessonID: "lesson-1", Content: "v1", Format: domain.FormatMarkdown, UpdatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	a.ApplyRemote(&ReadResult{Note: &note, Source: domain.SourceCache, HasPersistedNote: true})
	require.Equal(t, "Showing offline copy", a.Status().Label)

	a.ApplyRemote(&ReadResult{Note: &note, Source: domain.SourceNetwork, HasPersistedNote: true})
	assert.Equal(t, "Up to date", a.Status().Label)
}

func TestAutosave_NoBodyCachesOnServerClock(t *testing.T) {
	a, api, cache, clk := newTestAutosave(t)
	api.noBody = true

	a.Edit("never persisted", domain.FormatMarkdown)
	clk.Advance(time.Second)
	assert.Nil(t, cache.Load(context.Background(), "lesson-1"), "no server timestamp to cache under")

	updated := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a.ApplyRemote(&ReadResult{
		Note:             &domain.LessonNote{LessonID: "lesson-1", Content: "v1", Format: domain.FormatMarkdown, UpdatedAt: updated},
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	})
	a.Edit("v2", domain.FormatMarkdown)
	clk.Advance(time.Second)

	cached := cache.Load(context.Background(), "lesson-1")
	require.NotNil(t, cached)
	assert.Equal(t, "v2", cached.Content)
	assert.True(t, cached.UpdatedAt.Equal(updated))
}

func TestAutosave_SupersededFlushIsIgnored(t *testing.T) {
	a, api, _, clk := newTestAutosave(t)

	a.Edit("a", domain.FormatMarkdown)
	a.mu.Lock()
	stale := a.timerGen
	a.mu.Unlock()

	a.Edit("ab", domain.FormatMarkdown)
	a.flush(stale)

	assert.Equal(t, 0, api.putCount())
	a.mu.Lock()
	assert.NotNil(t, a.timer, "the newer debounce stays armed")
	a.mu.Unlock()

	clk.Advance(time.Second)
	require.Equal(t, 1, api.putCount())
	assert.Equal(t, "ab", api.lastPut().Content)
}
