// Package gateway terminates player websocket connections and routes their
// messages to the matchmaker and to match sessions.
package gateway

import (
	"sync"

	"arena-backend/internal/constants"
	"arena-backend/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type client struct {
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(playerID string, conn *websocket.Conn) *client {
	return &client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, constants.WSSendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// enqueue never blocks; a full buffer drops the frame.
func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Hub maps each player to their newest connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// register binds c to its player, closing any older connection for the same player.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	old := h.clients[c.playerID]
	h.clients[c.playerID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		h.logger.Info().Str("player_id", c.playerID).Msg("replacing older connection")
		old.close()
	}
}

// unregister removes c if it is still the player's current connection and reports
// whether it was.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.playerID] != c {
		return false
	}
	delete(h.clients, c.playerID)
	return true
}

func (h *Hub) Connected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

// Send encodes msg and queues it on the player's connection without blocking.
func (h *Hub) Send(playerID string, msg protocol.Message) bool {
	h.mu.RLock()
	c := h.clients[playerID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	b, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event()).Msg("failed to encode message")
		return false
	}
	if !c.enqueue(b) {
		h.logger.Debug().Str("player_id", playerID).Str("event", msg.Event()).Msg("send buffer full, message dropped")
		return false
	}
	return true
}
