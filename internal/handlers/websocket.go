package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/middleware"
	"github.com/mossy-p/meshcall/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	presenceWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// PresenceStore records which participants are in a room.
type PresenceStore interface {
	Join(ctx context.Context, roomID, userID string) error
	Leave(ctx context.Context, roomID, userID string) error
	PresentUserIDs(ctx context.Context, roomID string) ([]string, error)
}

// Hub relays frames between the clients subscribed to the same topic.
// Frames are opaque: the hub never decodes them, so any codec works.
type Hub struct {
	presence PresenceStore
	log      *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewHub(presence PresenceStore, log *zap.Logger) *Hub {
	return &Hub{
		presence: presence,
		log:      log.Named("hub"),
		rooms:    make(map[string]*Room),
	}
}

// Room is the set of clients on one topic.
type Room struct {
	Topic string
	ID    string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	// users counts connections per participant, so presence is only
	// dropped when a participant's last connection leaves.
	users map[string]int
}

type frame struct {
	kind int
	data []byte
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan frame

	hub  *Hub
	room *Room
	log  *zap.Logger
}

// HandleSignaling upgrades an authenticated request and joins the client
// to the topic named in the path.
func (h *Hub) HandleSignaling(c *gin.Context) {
	topic := c.Param("topic")
	roomID, ok := models.RoomFromTopic(topic)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signaling topic"})
		return
	}
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan frame, sendBuffer),
		hub:    h,
		log:    h.log.With(zap.String("user", userID), zap.String("room", roomID)),
	}
	h.register(client, topic, roomID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(client *Client, topic, roomID string) {
	h.mu.Lock()
	room, exists := h.rooms[topic]
	if !exists {
		room = &Room{
			Topic:   topic,
			ID:      roomID,
			clients: make(map[*Client]struct{}),
			users:   make(map[string]int),
		}
		h.rooms[topic] = room
		activeRooms.Inc()
		h.log.Info("created room", zap.String("room", roomID))
	}
	room.mu.Lock()
	room.clients[client] = struct{}{}
	room.users[client.UserID]++
	first := room.users[client.UserID] == 1
	room.mu.Unlock()
	h.mu.Unlock()

	client.room = room
	activeConnections.Inc()

	if first && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
		defer cancel()
		if err := h.presence.Join(ctx, roomID, client.UserID); err != nil {
			client.log.Warn("presence join failed", zap.Error(err))
		}
	}
	client.log.Info("client joined", zap.String("conn", client.ID))
}

func (h *Hub) unregister(client *Client) {
	room := client.room

	h.mu.Lock()
	room.mu.Lock()
	if _, ok := room.clients[client]; !ok {
		room.mu.Unlock()
		h.mu.Unlock()
		return
	}
	delete(room.clients, client)
	room.users[client.UserID]--
	last := room.users[client.UserID] == 0
	if last {
		delete(room.users, client.UserID)
	}
	empty := len(room.clients) == 0
	room.mu.Unlock()

	// Clean up room if empty
	if empty {
		delete(h.rooms, room.Topic)
		activeRooms.Dec()
		h.log.Info("removed empty room", zap.String("room", room.ID))
	}
	h.mu.Unlock()

	close(client.Send)
	activeConnections.Dec()

	if last && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
		defer cancel()
		if err := h.presence.Leave(ctx, room.ID, client.UserID); err != nil {
			client.log.Warn("presence leave failed", zap.Error(err))
		}
	}
	client.log.Info("client left", zap.String("conn", client.ID))
}

// broadcast queues f for every client of the room, the sender included.
func (r *Room) broadcast(f frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		select {
		case client.Send <- f:
		default:
			droppedFrames.Inc()
			client.log.Warn("send buffer full, dropping frame")
		}
	}
}

// Clients returns the number of connections on topic.
func (h *Hub) Clients(topic string) int {
	h.mu.RLock()
	room, ok := h.rooms[topic]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			break
		}
		relayedFrames.Inc()
		c.room.broadcast(frame{kind: kind, data: message})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(f.kind, f.data); err != nil {
				c.log.Debug("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
