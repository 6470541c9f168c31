package domain

import "time"

const SoftSyncKind = "note-soft-sync"

type SoftSyncMessage struct {
	Kind            string     `json:"kind" validate:"required,eq=note-soft-sync"`
	LessonID        string     `json:"lessonId" validate:"required"`
	Content         string     `json:"content"`
	Format          NoteFormat `json:"format" validate:"required,oneof=markdown plain"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	SenderID        string     `json:"senderId" validate:"required"`
	SentAtMonotonic int64      `json:"sentAtMonotonic" validate:"gte=0"`
	SentAtWall      time.Time  `json:"sentAtWall"`
	ContentLength   int        `json:"contentLength" validate:"gte=0"`
}

// SoftSyncPayload is the draft snapshot handed to the broadcaster.
type SoftSyncPayload struct {
	LessonID  string
	Content   string
	Format    NoteFormat
	UpdatedAt time.Time
}
