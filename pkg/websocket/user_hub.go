package websocket

import (
	"log"
	"sync"
)

// UserHub tracks per-user connections on the matchmaking channel.
type UserHub struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func NewUserHub() *UserHub {
	return &UserHub{
		clients: make(map[string]*Client),
	}
}

func (h *UserHub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	log.Printf("Matchmaking client %s connected", c.ID)
}

func (h *UserHub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.ID] == c {
		delete(h.clients, c.ID)
		log.Printf("Matchmaking client %s disconnected", c.ID)
	}
}

func (h *UserHub) SendToUser(userID string, message []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, exists := h.clients[userID]
	if !exists {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}
