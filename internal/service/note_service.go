package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/repository"
	"lesson-notes-sync/pkg/canon"
	"lesson-notes-sync/pkg/hash"
)

// NoteService backs the remote note resource.
type NoteService struct {
	repo     repository.LessonNoteRepository
	maxBytes int
	clock    clock.Clock
}

func NewNoteService(repo repository.LessonNoteRepository, maxBytes int, clk clock.Clock) *NoteService {
	if clk == nil {
		clk = clock.New()
	}
	return &NoteService{
		repo:     repo,
		maxBytes: maxBytes,
		clock:    clk,
	}
}

func (s *NoteService) Get(ctx context.Context, lessonID string) (*domain.LessonNote, error) {
	note, err := s.repo.FindByLesson(ctx, lessonID)
	if err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return note, nil
}

// Put stores the note for a lesson. Content that canonicalizes to what is
// stored, in the same format, returns the stored note without a new version.
func (s *NoteService) Put(ctx context.Context, userID, lessonID string, req *domain.PutNoteRequest) (*domain.LessonNote, error) {
	if canon.ByteLength(req.Content) >= s.maxBytes {
		return nil, domain.ErrTooLarge
	}

	existing, err := s.repo.FindByLesson(ctx, lessonID)
	if err != nil && !errors.Is(err, repository.ErrNoteNotFound) {
		return nil, fmt.Errorf("failed to load lesson note: %w", err)
	}

	contentHash := hash.Content(canon.Canonicalize(req.Content))

	if existing != nil && existing.Format == req.Format {
		stored := existing.ContentHash
		if stored == "" {
			stored = hash.Content(canon.Canonicalize(existing.Content))
		}
		if hash.Equal(stored, contentHash) {
			return existing, nil
		}
	}

	now := s.clock.Now().UTC()
	note := &domain.LessonNote{
		LessonID:    lessonID,
		Content:     req.Content,
		Format:      req.Format,
		UpdatedAt:   now,
		UpdatedBy:   userID,
		ContentHash: contentHash,
		Version:     1,
	}

	if existing != nil {
		note.Version = existing.Version + 1
		if !now.After(existing.UpdatedAt) {
			note.UpdatedAt = existing.UpdatedAt.Add(time.Millisecond)
		}
	}

	if err := s.repo.Save(ctx, note); err != nil {
		return nil, err
	}

	return note, nil
}
