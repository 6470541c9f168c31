package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lesson-notes-sync/internal/domain"
)

// Peer is the client end of a lesson channel.
type Peer struct {
	conn     *websocket.Conn
	lessonID string

	writeMu   sync.Mutex
	writeWait time.Duration

	handlerMu sync.RWMutex
	handler   func(payload []byte)

	done      chan struct{}
	closeOnce sync.Once
}

// DialPeer connects to the hub at wsURL and joins the room of lessonID.
func DialPeer(ctx context.Context, wsURL, lessonID, token string) (*Peer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("lesson_id", lessonID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial lesson channel: %w", err)
	}

	p := &Peer{
		conn:      conn,
		lessonID:  lessonID,
		writeWait: 10 * time.Second,
		done:      make(chan struct{}),
	}
	go p.readLoop()

	return p, nil
}

// OnMessage sets the receiver for soft-sync payloads.
func (p *Peer) OnMessage(fn func(payload []byte)) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handler = fn
}

func (p *Peer) Publish(ctx context.Context, msg *domain.SoftSyncMessage) error {
	envelope, err := NewMessage(TypeSoftSync, msg.LessonID, msg.SenderID, msg)
	if err != nil {
		return err
	}
	data, err := envelope.Encode()
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return fmt.Errorf("failed to publish: %w", websocket.ErrCloseSent)
	default:
	}

	deadline := time.Now().Add(p.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (p *Peer) readLoop() {
	defer p.Close()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] peer read error for lesson %s: %v", p.lessonID, err)
			}
			return
		}

		for _, frame := range SplitFrames(data) {
			p.dispatch(frame)
		}
	}
}

func (p *Peer) dispatch(frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		log.Printf("[WebSocket] ignoring malformed frame: %v", err)
		return
	}

	switch msg.Type {
	case TypeSoftSync:
		p.handlerMu.RLock()
		handler := p.handler
		p.handlerMu.RUnlock()
		if handler != nil {
			handler(msg.Payload)
		}
	case TypeError:
		var e ErrorPayload
		if err := msg.UnmarshalPayload(&e); err == nil {
			log.Printf("[WebSocket] hub rejected frame: %s", e.Error)
		}
	}
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		p.conn.SetWriteDeadline(time.Now().Add(time.Second))
		p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()

		err = p.conn.Close()
		close(p.done)
	})
	return err
}
