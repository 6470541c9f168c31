package domain

import "time"

type NoteFormat string

const (
	FormatMarkdown NoteFormat = "markdown"
	FormatPlain    NoteFormat = "plain"
)

// ParseFormat falls back to markdown for anything it does not recognise.
func ParseFormat(s string) NoteFormat {
	if NoteFormat(s) == FormatPlain {
		return FormatPlain
	}
	return FormatMarkdown
}

type LessonNote struct {
	LessonID    string     `json:"lesson_id"`
	Content     string     `json:"content"`
	Format      NoteFormat `json:"format"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	Version     int64      `json:"version"`
}

type CachedNote struct {
	LessonNote
	CachedAt time.Time `json:"cached_at"`
}

type PutNoteRequest struct {
	Content string     `json:"content"`
	Format  NoteFormat `json:"format" validate:"required,oneof=markdown plain"`
}

// PersistedSnapshot is what the store last acknowledged for a lesson.
type PersistedSnapshot struct {
	Content     string
	Format      NoteFormat
	UpdatedAt   time.Time
	ContentHash string
}

type DraftState struct {
	Content       string
	Format        NoteFormat
	Dirty         bool
	LastPersisted *PersistedSnapshot
}

type ReadSource string

const (
	SourceNetwork ReadSource = "network"
	SourceCache   ReadSource = "cache"
	SourceNone    ReadSource = "none"
)
