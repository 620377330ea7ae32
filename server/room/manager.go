package room

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const sendBuffer = 64

// Client is one connected websocket with its outbound queue
type Client struct {
	UserID string
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

// Send queues one frame. It reports false when the client is gone or its
// queue is full.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WritePump owns all writes to the connection: queued frames and pings. It
// returns once the queue is closed or a write fails.
func (c *Client) WritePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Room represents a chat room with connected clients
type Room struct {
	ID         string
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan []byte
	mu         sync.RWMutex
	done       chan struct{}
	log        *logrus.Entry
}

func NewRoom(id string, log *logrus.Entry) *Room {
	return &Room{
		ID:         id,
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		log:        log.WithField("room", id),
	}
}

// Run serves registrations and broadcasts until ctx is done. A client whose
// queue is full is dropped rather than stalling the room.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			for c := range r.Clients {
				c.close()
				delete(r.Clients, c)
			}
			r.mu.Unlock()
			return
		case c := <-r.Register:
			r.mu.Lock()
			r.Clients[c] = true
			r.mu.Unlock()
		case c := <-r.Unregister:
			r.mu.Lock()
			if _, ok := r.Clients[c]; ok {
				delete(r.Clients, c)
				c.close()
			}
			r.mu.Unlock()
		case data := <-r.Broadcast:
			r.mu.Lock()
			for c := range r.Clients {
				if !c.Send(data) {
					r.log.WithField("user_id", c.UserID).Warn("dropping slow client")
					delete(r.Clients, c)
					c.close()
				}
			}
			r.mu.Unlock()
		}
	}
}

// Join registers c. It reports false once the room has stopped.
func (r *Room) Join(c *Client) bool {
	select {
	case r.Register <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) Leave(c *Client) {
	select {
	case r.Unregister <- c:
	case <-r.done:
	}
}

// Publish queues data for every client.
func (r *Room) Publish(data []byte) {
	select {
	case r.Broadcast <- data:
	case <-r.done:
	}
}

// Count returns the number of connected clients.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Clients)
}

// Manager manages multiple rooms
type Manager struct {
	Rooms map[string]*Room
	mu    sync.RWMutex
	ctx   context.Context
	log   *logrus.Entry
}

// NewManager creates rooms on demand; they stop when ctx is done.
func NewManager(ctx context.Context, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("component", "room")
	}
	return &Manager{
		Rooms: make(map[string]*Room),
		ctx:   ctx,
		log:   log,
	}
}

func (m *Manager) GetRoom(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.Rooms[roomID]; ok {
		return room
	}

	room := NewRoom(roomID, m.log)
	m.Rooms[roomID] = room
	go room.Run(m.ctx)
	return room
}
