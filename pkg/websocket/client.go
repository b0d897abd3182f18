package websocket

import (
	"github.com/gorilla/websocket"
)

type Client struct {
	ID   string // user id
	Conn *websocket.Conn
	Send chan []byte
	Room *Room
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 16),
	}
}
