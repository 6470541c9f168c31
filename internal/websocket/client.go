package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connection in a lesson room.
type Client struct {
	ID       string
	UserID   string
	LessonID string
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte

	sendOnce sync.Once
}

func NewClient(id, userID, lessonID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		LessonID: lessonID,
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, manager.sendBuffer),
	}
}

// Enqueue hands a frame to the write pump without blocking. It reports false
// when the buffer is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.Send) })
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.leave(c)
		c.Conn.Close()
	}()

	if c.Manager.maxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error for client %s (lesson %s): %v", c.ID, c.LessonID, err)
			}
			return
		}

		for _, frame := range SplitFrames(data) {
			if !c.Manager.deliver(&ClientMessage{Client: c, Message: frame}) {
				return
			}
		}
	}
}

// WritePump drains Send, coalescing whatever is queued into one websocket
// message, and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeBatch(frame); err != nil {
				log.Printf("[WebSocket] write error for client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeBatch(first []byte) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)

	for queued := len(c.Send); queued > 0; queued-- {
		frame, ok := <-c.Send
		if !ok {
			break
		}
		w.Write([]byte{'\n'})
		w.Write(frame)
	}
	return w.Close()
}
