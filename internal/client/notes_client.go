package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/pkg/response"
)

// NotesClient talks to the authoritative lesson note resource.
type NotesClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewNotesClient(baseURL, token string, timeout time.Duration) *NotesClient {
	return &NotesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *NotesClient) noteURL(lessonID string) string {
	return fmt.Sprintf("%s/lessons/%s/notes", c.baseURL, url.PathEscape(lessonID))
}

// Get returns (nil, nil) when the lesson has no note yet.
func (c *NotesClient) Get(ctx context.Context, lessonID string) (*domain.LessonNote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.noteURL(lessonID), nil)
	if err != nil {
		return nil, &domain.NotesError{Message: err.Error()}
	}

	note, status, err := c.do(req)
	if status == http.StatusNotFound {
		return nil, nil
	}
	return note, err
}

// Put stores the note. A 204 or an empty body is a successful write that
// returns no note.
func (c *NotesClient) Put(ctx context.Context, lessonID string, body domain.PutNoteRequest) (*domain.LessonNote, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.NotesError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.noteURL(lessonID), bytes.NewReader(data))
	if err != nil {
		return nil, &domain.NotesError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	note, _, err := c.do(req)
	return note, err
}

// Ping checks that the notes server answers its health endpoint, which sits
// at the root of the API host.
func (c *NotesClient) Ping(ctx context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return &domain.NotesError{Message: err.Error()}
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &domain.NotesError{Message: err.Error()}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.NotesError{Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return &domain.NotesError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *NotesClient) do(req *http.Request) (*domain.LessonNote, int, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, &domain.NotesError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, nil
	}

	env, decodeErr := response.Decode(io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := http.StatusText(resp.StatusCode)
		if decodeErr == nil && env.Error != "" {
			message = env.Error
		}
		return nil, resp.StatusCode, &domain.NotesError{Status: resp.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return nil, resp.StatusCode, &domain.NotesError{Status: resp.StatusCode, Message: decodeErr.Error()}
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, resp.StatusCode, nil
	}

	var note domain.LessonNote
	if err := json.Unmarshal(env.Data, &note); err != nil {
		return nil, resp.StatusCode, &domain.NotesError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed note: %v", err)}
	}
	if note.Format == "" {
		note.Format = domain.FormatMarkdown
	}

	return &note, resp.StatusCode, nil
}
