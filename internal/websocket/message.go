package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	TypeSoftSync MessageType = "note-soft-sync"
	TypeError    MessageType = "error"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

// Message is the envelope for every frame on the lesson channel.
type Message struct {
	Type      MessageType     `json:"type"`
	LessonID  string          `json:"lesson_id,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage wraps payload, which may be nil, or already-encoded JSON.
func NewMessage(msgType MessageType, lessonID, senderID string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		LessonID:  lessonID,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
	}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		msg.Payload = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

func NewErrorMessage(lessonID string, cause error) *Message {
	msg, _ := NewMessage(TypeError, lessonID, "", ErrorPayload{Error: cause.Error()})
	return msg
}

func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", m.Type, err)
	}
	return data, nil
}

func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// SplitFrames undoes write batching: one websocket message may carry several
// newline-separated frames.
func SplitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, frame := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}
