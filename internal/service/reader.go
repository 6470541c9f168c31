package service

import (
	"context"
	"log"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/repository"
)

type NoteFetcher interface {
	Get(ctx context.Context, lessonID string) (*domain.LessonNote, error)
}

type NoteWriter interface {
	Put(ctx context.Context, lessonID string, req domain.PutNoteRequest) (*domain.LessonNote, error)
}

// ReadResult is the unified read model. Err carries the network failure that
// caused a fallback, if any.
type ReadResult struct {
	Note             *domain.LessonNote
	CachedNote       *domain.CachedNote
	Source           domain.ReadSource
	HasPersistedNote bool
	Err              error
}

type NoteReader struct {
	remote NoteFetcher
	cache  repository.NoteCache
}

func NewNoteReader(remote NoteFetcher, cache repository.NoteCache) *NoteReader {
	return &NoteReader{
		remote: remote,
		cache:  cache,
	}
}

// Peek answers from the local cache only, so a caller can paint before the
// network responds.
func (r *NoteReader) Peek(ctx context.Context, lessonID string) *ReadResult {
	cached := r.cache.Load(ctx, lessonID)
	if cached == nil {
		return &ReadResult{Source: domain.SourceNone}
	}

	note := cached.LessonNote
	return &ReadResult{
		Note:             &note,
		CachedNote:       cached,
		Source:           domain.SourceCache,
		HasPersistedNote: true,
	}
}

func (r *NoteReader) Read(ctx context.Context, lessonID string) *ReadResult {
	cached := r.cache.Load(ctx, lessonID)

	note, err := r.remote.Get(ctx, lessonID)
	if err != nil {
		log.Printf("[Reader] network read for %s failed, falling back to cache: %v", lessonID, err)
		if cached == nil {
			return &ReadResult{Source: domain.SourceNone, Err: err}
		}
		fallback := cached.LessonNote
		return &ReadResult{
			Note:             &fallback,
			CachedNote:       cached,
			Source:           domain.SourceCache,
			HasPersistedNote: true,
			Err:              err,
		}
	}

	if note == nil {
		if cached != nil {
			r.cache.Clear(ctx, lessonID)
		}
		return &ReadResult{Source: domain.SourceNetwork, HasPersistedNote: false}
	}

	if note.LessonID == "" {
		note.LessonID = lessonID
	}
	r.cache.Save(ctx, note)

	return &ReadResult{
		Note:             note,
		CachedNote:       cached,
		Source:           domain.SourceNetwork,
		HasPersistedNote: true,
	}
}
