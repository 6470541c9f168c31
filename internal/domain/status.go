package domain

import "time"

type StatusTone string

const (
	ToneNeutral StatusTone = "neutral"
	ToneInfo    StatusTone = "info"
	ToneSuccess StatusTone = "success"
	ToneWarning StatusTone = "warning"
	ToneError   StatusTone = "error"
)

type SaveStatus struct {
	Label        string     `json:"label"`
	Tone         StatusTone `json:"tone"`
	IsSaving     bool       `json:"is_saving"`
	LastSavedAt  *time.Time `json:"last_saved_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Offline      bool       `json:"offline"`
}

type EditorLease struct {
	LessonID  string    `json:"lesson_id"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
