// Package websocket pushes notification events to connected users. Each
// connection belongs to one authenticated user and receives exactly the
// events addressed to that user.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/platform/auth"
	"github.com/vivamoms/consult/internal/platform/notification"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// ClientMessage is an inbound frame. Only "ping" is understood; the server
// answers with a "pong" frame so clients can measure liveness without
// relying on control frames.
type ClientMessage struct {
	Action string `json:"action"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single connection of one user.
type Client struct {
	ID     string
	UserID uuid.UUID
	Send   chan []byte
}

// Topic is the subscription key of a user's connections.
func Topic(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Hub tracks connections by user. A user may hold several at once, for
// example a phone and a browser tab.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	topic := Topic(client.UserID)
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

// Unregister removes the client and closes its Send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	topic := Topic(client.UserID)
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Broadcast queues data for every connection on topic. Slow clients whose
// buffer is full miss the frame rather than stall the publisher.
func (h *Hub) Broadcast(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered int
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Debug().Str("client_id", client.ID).Msg("websocket buffer full, frame dropped")
		}
	}
	return delivered
}

// Publish implements notification.Publisher. A user with no open
// connection is not an error; the in-app inbox still has the event.
func (h *Hub) Publish(_ context.Context, ev notification.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(Topic(ev.TargetUserID), data)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// UserConnections returns the number of open connections of userID.
func (h *Hub) UserConnections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[Topic(userID)])
}

// Handler upgrades authenticated requests. It must be mounted behind
// auth.Authenticate; browsers pass the token as ?access_token= because
// they cannot set headers on the upgrade request.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds the upgrade handler. allowedOrigins empty means any
// origin is accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

func (wsh *Handler) HandleConnect(c echo.Context) error {
	actor, err := auth.Actor(c)
	if err != nil {
		return err
	}
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: actor.ID,
		Send:   make(chan []byte, sendBuffer),
	}
	wsh.hub.Register(client)
	wsh.hub.logger.Debug().Str("client_id", client.ID).Str("user_id", actor.ID.String()).Msg("websocket connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
		wsh.hub.logger.Debug().Str("client_id", client.ID).Msg("websocket disconnected")
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Action == "ping" {
			select {
			case client.Send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
