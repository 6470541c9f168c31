package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"lesson-notes-sync/internal/clock"
	"lesson-notes-sync/internal/domain"
)

// NoteCache never reports errors: an unreachable store behaves as a miss on
// Load and as a silent success on Save and Clear.
type NoteCache interface {
	Save(ctx context.Context, note *domain.LessonNote)
	Load(ctx context.Context, lessonID string) *domain.CachedNote
	Clear(ctx context.Context, lessonID string)
}

type noteCache struct {
	db      *sql.DB
	timeout time.Duration
	clock   clock.Clock
}

// NewNoteCache wraps db; a nil db yields a cache that never hits.
func NewNoteCache(db *sql.DB, timeout time.Duration, clk clock.Clock) NoteCache {
	if clk == nil {
		clk = clock.New()
	}
	return &noteCache{db: db, timeout: timeout, clock: clk}
}

func (c *noteCache) Save(ctx context.Context, note *domain.LessonNote) {
	if c.db == nil || note == nil {
		return
	}

	cachedAt := note.UpdatedAt
	if cachedAt.IsZero() {
		cachedAt = c.clock.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO lesson_note_cache
			(lesson_id, content, format, updated_at, updated_by, content_hash, version, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lesson_id) DO UPDATE SET
			content = excluded.content,
			format = excluded.format,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by,
			content_hash = excluded.content_hash,
			version = excluded.version,
			cached_at = excluded.cached_at
		WHERE excluded.cached_at >= lesson_note_cache.cached_at`,
		note.LessonID,
		note.Content,
		string(note.Format),
		unixNano(note.UpdatedAt),
		note.UpdatedBy,
		note.ContentHash,
		note.Version,
		cachedAt.UnixNano(),
	)
	if err != nil {
		log.Printf("[Cache] %v: save %s: %v", domain.ErrCacheUnavailable, note.LessonID, err)
	}
}

func (c *noteCache) Load(ctx context.Context, lessonID string) *domain.CachedNote {
	if c.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		cached    domain.CachedNote
		format    string
		updatedAt int64
		cachedAt  int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT lesson_id, content, format, updated_at, updated_by, content_hash, version, cached_at
		FROM lesson_note_cache WHERE lesson_id = ?`, lessonID,
	).Scan(
		&cached.LessonID,
		&cached.Content,
		&format,
		&updatedAt,
		&cached.UpdatedBy,
		&cached.ContentHash,
		&cached.Version,
		&cachedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		log.Printf("[Cache] %v: load %s: %v", domain.ErrCacheUnavailable, lessonID, err)
		return nil
	}

	cached.Format = domain.ParseFormat(format)
	cached.UpdatedAt = fromUnixNano(updatedAt)
	cached.CachedAt = fromUnixNano(cachedAt)
	return &cached
}

func (c *noteCache) Clear(ctx context.Context, lessonID string) {
	if c.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM lesson_note_cache WHERE lesson_id = ?`, lessonID); err != nil {
		log.Printf("[Cache] %v: clear %s: %v", domain.ErrCacheUnavailable, lessonID, err)
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
