package websocket

import (
	"log"
	"sync"
)

// Room is the broadcast group for one battle. Two participants' connections
// may live in different server processes; a Room only holds the clients
// connected to this process, and the Bridge fans messages in from Redis.
type Room struct {
	ID      string
	mu      sync.Mutex
	clients map[string]*Client
}

func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[string]*Client),
	}
}

func (r *Room) AddClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	c.Room = r
	log.Printf("Client %s joined battle room %s", c.ID, r.ID)
}

func (r *Room) RemoveClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[c.ID] == c {
		delete(r.clients, c.ID)
		log.Printf("Client %s left battle room %s", c.ID, r.ID)
	}
}

// Broadcast sends message to every client in the room except senderID.
// Pass senderID "" to reach everyone.
func (r *Room) Broadcast(senderID string, message []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if id == senderID {
			continue
		}
		select {
		case client.Send <- message:
		default:
			log.Printf("Dropping message for slow client %s in room %s", id, r.ID)
		}
	}
}

// SendTo delivers message to a single client, reporting whether the client
// is connected to this process.
func (r *Room) SendTo(userID string, message []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[userID]
	if !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0
}
