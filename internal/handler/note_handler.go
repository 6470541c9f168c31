package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/middleware"
	"lesson-notes-sync/internal/service"
	"lesson-notes-sync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type NoteHandler struct {
	service  *service.NoteService
	validate *validator.Validate
	maxBytes int64
}

func NewNoteHandler(service *service.NoteService, maxBytes int) *NoteHandler {
	return &NoteHandler{
		service:  service,
		validate: validator.New(),
		maxBytes: int64(maxBytes),
	}
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	lessonID := mux.Vars(r)["lessonId"]
	if lessonID == "" {
		response.BadRequest(w, "Lesson ID is required")
		return
	}

	note, err := h.service.Get(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "Lesson note not found")
			return
		}
		log.Printf("[Notes] failed to load note for %s: %v", lessonID, err)
		response.InternalError(w, "Failed to load note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Put(w http.ResponseWriter, r *http.Request) {
	lessonID := mux.Vars(r)["lessonId"]
	if lessonID == "" {
		response.BadRequest(w, "Lesson ID is required")
		return
	}

	// JSON escaping can inflate content up to six times; the hard limit is
	// checked on the decoded content below.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*6+1024)

	var req domain.PutNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.TooLarge(w, "Note is too large")
			return
		}
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Unprocessable(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	note, err := h.service.Put(r.Context(), userID, lessonID, &req)
	if err != nil {
		if errors.Is(err, domain.ErrTooLarge) {
			response.TooLarge(w, "Note is too large")
			return
		}
		log.Printf("[Notes] failed to save note for %s: %v", lessonID, err)
		response.InternalError(w, "Failed to save note")
		return
	}

	response.Success(w, note)
}
