package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"lesson-notes-sync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var ErrNoteNotFound = errors.New("lesson note not found")

type LessonNoteRepository interface {
	FindByLesson(ctx context.Context, lessonID string) (*domain.LessonNote, error)
	Save(ctx context.Context, note *domain.LessonNote) error
}

type lessonNoteDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.LessonNote
}

type lessonNoteRepository struct {
	client *kivik.Client
	dbName string
}

func NewLessonNoteRepository(client *kivik.Client, dbName string) LessonNoteRepository {
	return &lessonNoteRepository{
		client: client,
		dbName: dbName,
	}
}

func lessonNoteDocID(lessonID string) string {
	return fmt.Sprintf("lesson-note:%s", lessonID)
}

func (r *lessonNoteRepository) find(ctx context.Context, lessonID string) (*lessonNoteDoc, error) {
	db := r.client.DB(r.dbName)

	var doc lessonNoteDoc
	if err := db.Get(ctx, lessonNoteDocID(lessonID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to find lesson note: %w", err)
	}

	return &doc, nil
}

func (r *lessonNoteRepository) FindByLesson(ctx context.Context, lessonID string) (*domain.LessonNote, error) {
	doc, err := r.find(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	note := doc.LessonNote
	return &note, nil
}

// Save creates or replaces the note document, carrying the current revision.
func (r *lessonNoteRepository) Save(ctx context.Context, note *domain.LessonNote) error {
	doc := &lessonNoteDoc{
		ID:         lessonNoteDocID(note.LessonID),
		Type:       "lesson_note",
		LessonNote: *note,
	}

	existing, err := r.find(ctx, note.LessonID)
	switch {
	case err == nil:
		doc.Rev = existing.Rev
	case !errors.Is(err, ErrNoteNotFound):
		return err
	}

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save lesson note: %w", err)
	}

	return nil
}
