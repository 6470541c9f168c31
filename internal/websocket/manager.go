package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager is the hub. Clients join the room of the lesson they connected
// for; frames are fanned out only within a room.
type Manager struct {
	clients          map[string]*Client
	lessonIndex      map[string]map[string]bool
	clientsMutex     sync.RWMutex
	register         chan *joinRequest
	Unregister       chan *Client
	HandleMessage    chan *ClientMessage
	maxConnPerLesson int
	sendBuffer       int
	maxMessageSize   int64
	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	messageHandler   MessageHandler
	done             chan struct{}
}

var (
	ErrHubStopped = errors.New("websocket hub stopped")
	ErrLessonFull = errors.New("lesson room is full")
)

type joinRequest struct {
	client *Client
	result chan error
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

type ManagerConfig struct {
	MaxConnPerLesson int
	SendBuffer       int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Manager{
		clients:          make(map[string]*Client),
		lessonIndex:      make(map[string]map[string]bool),
		register:         make(chan *joinRequest),
		Unregister:       make(chan *Client),
		HandleMessage:    make(chan *ClientMessage),
		maxConnPerLesson: cfg.MaxConnPerLesson,
		sendBuffer:       cfg.SendBuffer,
		maxMessageSize:   cfg.MaxMessageSize,
		writeWait:        cfg.WriteWait,
		pongWait:         cfg.PongWait,
		pingPeriod:       cfg.PingPeriod,
		done:             make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case req := <-m.register:
			req.result <- m.registerClient(req.client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)

		case <-ctx.Done():
			m.closeAll()
			return
		}
	}
}

// Join hands a new connection to the hub. A refused client must not start
// its pumps.
func (m *Manager) Join(client *Client) error {
	req := &joinRequest{client: client, result: make(chan error, 1)}
	select {
	case m.register <- req:
		return <-req.result
	case <-m.done:
		return ErrHubStopped
	}
}

func (m *Manager) leave(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) deliver(msg *ClientMessage) bool {
	select {
	case m.HandleMessage <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) registerClient(client *Client) error {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.maxConnPerLesson > 0 && len(m.lessonIndex[client.LessonID]) >= m.maxConnPerLesson {
		log.Printf("[WebSocket] max connections reached for lesson %s", client.LessonID)
		return ErrLessonFull
	}

	if m.lessonIndex[client.LessonID] == nil {
		m.lessonIndex[client.LessonID] = make(map[string]bool)
	}

	m.clients[client.ID] = client
	m.lessonIndex[client.LessonID][client.ID] = true

	log.Printf("[WebSocket] client registered: %s (user: %s, lesson: %s)", client.ID, client.UserID, client.LessonID)
	return nil
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.lessonIndex[client.LessonID], client.ID)

		if len(m.lessonIndex[client.LessonID]) == 0 {
			delete(m.lessonIndex, client.LessonID)
		}

		client.closeSend()
		log.Printf("[WebSocket] client unregistered: %s", client.ID)
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		client.closeSend()
		delete(m.clients, id)
	}
	m.lessonIndex = make(map[string]map[string]bool)
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("[WebSocket] error unmarshaling message from %s: %v", clientMsg.Client.ID, err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("[WebSocket] error handling message: %v", err)
		}
	}
}

// BroadcastToLesson queues the message for every client in the lesson room
// except excludeClientID. A client whose buffer is full is dropped.
func (m *Manager) BroadcastToLesson(lessonID string, message *Message, excludeClientID string) error {
	frame, err := message.Encode()
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	clientIDs, exists := m.lessonIndex[lessonID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		if clientID == excludeClientID {
			continue
		}
		client := m.clients[clientID]
		if !client.Enqueue(frame) {
			log.Printf("[WebSocket] client %s send buffer full, closing connection", clientID)
			go m.leave(client)
		}
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	frame, err := message.Encode()
	if err != nil {
		return err
	}

	if !client.Enqueue(frame) {
		log.Printf("[WebSocket] client %s send buffer full, dropping %s frame", clientID, message.Type)
	}

	return nil
}

func (m *Manager) LessonConnections(lessonID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.lessonIndex[lessonID]; exists {
		return len(clients)
	}
	return 0
}
