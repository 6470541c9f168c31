package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTooLarge         = errors.New("note is too large")
	ErrOffline          = errors.New("no connection")
	ErrForbidden        = errors.New("no access to lesson notes")
	ErrNotFound         = errors.New("lesson not found")
	ErrInvalid          = errors.New("invalid note payload")
	ErrTransport        = errors.New("notes service unavailable")
	ErrCacheUnavailable = errors.New("note cache unavailable")
)

// NotesError is a failure reported by the remote note resource. Status 0 means
// the request never got an HTTP response.
type NotesError struct {
	Status  int
	Message string
}

func (e *NotesError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("notes request failed: %s", e.Message)
	}
	return fmt.Sprintf("notes request failed with status %d: %s", e.Status, e.Message)
}

func (e *NotesError) Unwrap() error {
	switch e.Status {
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalid
	default:
		return ErrTransport
	}
}
