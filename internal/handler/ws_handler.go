package handler

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"lesson-notes-sync/internal/domain"
	"lesson-notes-sync/internal/websocket"
	"lesson-notes-sync/pkg/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleConnection upgrades an authenticated request into a member of the
// room for ?lesson_id=. The token comes from ?token= (browsers cannot set
// headers on upgrade) or the Authorization header.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	token := query.Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		log.Printf("[WebSocket] missing authorization token from %s", r.RemoteAddr)
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	lessonID := strings.TrimSpace(query.Get("lesson_id"))
	if lessonID == "" {
		http.Error(w, "missing lesson_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.NewString(), claims.UserID, lessonID, conn, h.manager)
	if err := h.manager.Join(client); err != nil {
		log.Printf("[WebSocket] refusing %s: %v", claims.UserID, err)
		closing := ws.FormatCloseMessage(ws.CloseTryAgainLater, err.Error())
		conn.WriteControl(ws.CloseMessage, closing, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler relays soft-sync frames within a lesson room.
type WebSocketMessageHandler struct {
	manager  *websocket.Manager
	validate *validator.Validate
}

func NewWebSocketMessageHandler(manager *websocket.Manager) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		manager:  manager,
		validate: validator.New(),
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSoftSync:
		return h.handleSoftSync(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		log.Printf("[WebSocket] unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleSoftSync(client *websocket.Client, msg *websocket.Message) error {
	var payload domain.SoftSyncMessage
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.reject(client, fmt.Errorf("invalid soft-sync payload: %w", err))
	}
	if err := h.validate.Struct(&payload); err != nil {
		return h.reject(client, err)
	}
	if payload.LessonID != client.LessonID {
		return h.reject(client, fmt.Errorf("lesson %s does not match connection lesson %s", payload.LessonID, client.LessonID))
	}

	relay, err := websocket.NewMessage(websocket.TypeSoftSync, client.LessonID, payload.SenderID, msg.Payload)
	if err != nil {
		return err
	}
	return h.manager.BroadcastToLesson(client.LessonID, relay, client.ID)
}

func (h *WebSocketMessageHandler) reject(client *websocket.Client, cause error) error {
	if err := h.manager.SendToClient(client.ID, websocket.NewErrorMessage(client.LessonID, cause)); err != nil {
		return err
	}
	return cause
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pong, err := websocket.NewMessage(websocket.TypePong, client.LessonID, "", nil)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client.ID, pong)
}
