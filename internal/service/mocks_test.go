package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"lesson-notes-sync/internal/domain"
)

// mockNotesAPI stands in for the notes HTTP client.
type mockNotesAPI struct {
	mu      sync.Mutex
	notes   map[string]*domain.LessonNote
	puts    []domain.PutNoteRequest
	getErr  error
	putErr  error
	noBody  bool
	block   chan struct{}
	started chan struct{}
	now     time.Time
}

func newMockNotesAPI() *mockNotesAPI {
	return &mockNotesAPI{
		notes: make(map[string]*domain.LessonNote),
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockNotesAPI) Get(ctx context.Context, lessonID string) (*domain.LessonNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	if n, exists := m.notes[lessonID]; exists {
		copied := *n
		return &copied, nil
	}
	return nil, nil
}

func (m *mockNotesAPI) Put(ctx context.Context, lessonID string, req domain.PutNoteRequest) (*domain.LessonNote, error) {
	m.mu.Lock()
	block, started := m.block, m.started
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, req)
	if m.putErr != nil {
		return nil, m.putErr
	}

	m.now = m.now.Add(time.Second)
	note := &domain.LessonNote{
		LessonID:  lessonID,
		Content:   req.Content,
		Format:    req.Format,
		UpdatedAt: m.now,
	}
	m.notes[lessonID] = note
	if m.noBody {
		return nil, nil
	}
	copied := *note
	return &copied, nil
}

func (m *mockNotesAPI) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

func (m *mockNotesAPI) lastPut() domain.PutNoteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[len(m.puts)-1]
}

type mockCache struct {
	mu    sync.Mutex
	notes map[string]*domain.CachedNote
}

func newMockCache() *mockCache {
	return &mockCache{notes: make(map[string]*domain.CachedNote)}
}

func (m *mockCache) Save(ctx context.Context, note *domain.LessonNote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[note.LessonID] = &domain.CachedNote{LessonNote: *note, CachedAt: note.UpdatedAt}
}

func (m *mockCache) Load(ctx context.Context, lessonID string) *domain.CachedNote {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, exists := m.notes[lessonID]; exists {
		copied := *n
		return &copied
	}
	return nil
}

func (m *mockCache) Clear(ctx context.Context, lessonID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, lessonID)
}

var errNetwork = errors.New("connection refused")
