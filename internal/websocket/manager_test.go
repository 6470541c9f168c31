package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManager(t *testing.T, cfg ManagerConfig) (*Manager, context.CancelFunc) {
	t.Helper()
	m := NewManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(cancel)
	return m, cancel
}

func join(t *testing.T, m *Manager, id, lessonID string) *Client {
	t.Helper()
	c := NewClient(id, "user-"+id, lessonID, nil, m)
	require.NoError(t, m.Join(c))
	return c
}

func TestManager_BroadcastStaysInLessonAndSkipsSender(t *testing.T) {
	m, _ := startManager(t, ManagerConfig{SendBuffer: 4})

	sender := join(t, m, "a", "lesson-1")
	peer := join(t, m, "b", "lesson-1")
	other := join(t, m, "c", "lesson-2")
	require.Eventually(t, func() bool { return m.LessonConnections("lesson-1") == 2 }, time.Second, 5*time.Millisecond)

	msg, err := NewMessage(TypeSoftSync, "lesson-1", "tab-1", json.RawMessage(`{"content":"x"}`))
	require.NoError(t, err)
	require.NoError(t, m.BroadcastToLesson("lesson-1", msg, sender.ID))

	require.Len(t, peer.Send, 1)
	assert.Len(t, sender.Send, 0)
	assert.Len(t, other.Send, 0)

	var got Message
	require.NoError(t, json.Unmarshal(<-peer.Send, &got))
	assert.Equal(t, TypeSoftSync, got.Type)
	assert.Equal(t, "tab-1", got.SenderID)
	assert.JSONEq(t, `{"content":"x"}`, string(got.Payload))
}

func TestManager_RefusesOverCapacity(t *testing.T) {
	m, _ := startManager(t, ManagerConfig{MaxConnPerLesson: 1})

	join(t, m, "a", "lesson-1")

	refused := NewClient("b", "user-b", "lesson-1", nil, m)
	assert.ErrorIs(t, m.Join(refused), ErrLessonFull)
	assert.Equal(t, 1, m.LessonConnections("lesson-1"))

	msg, err := NewMessage(TypeSoftSync, "lesson-1", "tab-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.BroadcastToLesson("lesson-1", msg, "a"))
	assert.Len(t, refused.Send, 0, "a refused client is never a room member")

	require.NoError(t, m.Join(NewClient("c", "user-c", "lesson-2", nil, m)), "the cap is per lesson")
}

func TestManager_DropsSlowClient(t *testing.T) {
	m, _ := startManager(t, ManagerConfig{SendBuffer: 1})

	join(t, m, "a", "lesson-1")
	slow := join(t, m, "b", "lesson-1")
	require.Eventually(t, func() bool { return m.LessonConnections("lesson-1") == 2 }, time.Second, 5*time.Millisecond)

	msg, err := NewMessage(TypeSoftSync, "lesson-1", "tab-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.BroadcastToLesson("lesson-1", msg, "a"))
	require.NoError(t, m.BroadcastToLesson("lesson-1", msg, "a"))

	require.Eventually(t, func() bool { return m.LessonConnections("lesson-1") == 1 }, time.Second, 5*time.Millisecond)
	<-slow.Send
	_, ok := <-slow.Send
	assert.False(t, ok, "dropped client has its send channel closed")
}

func TestManager_JoinAfterStop(t *testing.T) {
	m, cancel := startManager(t, ManagerConfig{})
	c := join(t, m, "a", "lesson-1")
	cancel()

	assert.Eventually(t, func() bool {
		return m.Join(NewClient("b", "user-b", "lesson-1", nil, m)) == ErrHubStopped
	}, time.Second, 5*time.Millisecond)

	_, ok := <-c.Send
	assert.False(t, ok, "stopping the hub closes every client")
}

func TestSplitFrames(t *testing.T) {
	frames := SplitFrames([]byte("{\"type\":\"ping\"}\n\n  \n{\"type\":\"pong\"}"))
	require.Len(t, frames, 2)
	assert.Equal(t, `{"type":"ping"}`, string(frames[0]))
	assert.Equal(t, `{"type":"pong"}`, string(frames[1]))

	assert.Empty(t, SplitFrames([]byte("\n")))
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("lesson-1", assert.AnError)

	var payload ErrorPayload
	require.NoError(t, msg.UnmarshalPayload(&payload))
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, assert.AnError.Error(), payload.Error)

	empty, err := NewMessage(TypePong, "lesson-1", "", nil)
	require.NoError(t, err)
	assert.Error(t, empty.UnmarshalPayload(&payload))
}
