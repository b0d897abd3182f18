package websocket

import (
	"sync"
)

// Hub tracks the battle rooms with at least one locally connected client.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom returns the local room for battleID, creating it if this
// is the first local connection.
func (h *Hub) GetOrCreateRoom(battleID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[battleID]; ok {
		return room
	}
	room := NewRoom(battleID)
	h.rooms[battleID] = room
	return room
}

// GetRoom returns the local room for battleID if any client is connected.
func (h *Hub) GetRoom(battleID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[battleID]
	return room, ok
}

// ReleaseRoom drops the room once its last local client disconnects.
func (h *Hub) ReleaseRoom(battleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[battleID]; ok && room.Empty() {
		delete(h.rooms, battleID)
	}
}
