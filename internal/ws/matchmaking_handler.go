package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/auth"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/matchmaking"
	"github.com/promptclash/promptclash-backend/internal/store"
	wsPkg "github.com/promptclash/promptclash-backend/pkg/websocket"
)

// MatchmakingHandler serves the per-user matchmaking channel.
type MatchmakingHandler struct {
	UserHub  *wsPkg.UserHub
	Verifier *auth.Verifier
	Matcher  *matchmaking.Service
	Store    *store.Postgres
	Origins  []string
}

func NewMatchmakingHandler(userHub *wsPkg.UserHub, verifier *auth.Verifier, matcher *matchmaking.Service, st *store.Postgres, origins []string) *MatchmakingHandler {
	return &MatchmakingHandler{
		UserHub:  userHub,
		Verifier: verifier,
		Matcher:  matcher,
		Store:    st,
		Origins:  origins,
	}
}

func (h *MatchmakingHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, h.Origins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Matchmaking WS upgrade failed: %v", err)
		return
	}

	userID, err := h.Verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		closeWith(conn, CloseUnauthenticated, "unauthenticated")
		return
	}

	client := wsPkg.NewClient(userID, conn)
	h.UserHub.AddClient(client)

	// Presence feeds active-user matchmaking eligibility.
	if err := h.Store.TouchUser(r.Context(), userID); err != nil {
		log.Printf("Failed to touch user %s: %v", userID, err)
	}

	go h.read(client)
	go h.write(client)
}

type queueMessage struct {
	Type      string `json:"type"`
	MatchType string `json:"match_type"`
}

func (h *MatchmakingHandler) read(c *wsPkg.Client) {
	defer func() {
		h.UserHub.RemoveClient(c)
		close(c.Send)
		c.Conn.Close()
	}()

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			log.Printf("Matchmaking read error for %s: %v", c.ID, err)
			break
		}
		var message queueMessage
		if err := json.Unmarshal(msg, &message); err != nil {
			log.Printf("Failed to unmarshal matchmaking message from %s: %v", c.ID, err)
			continue
		}
		h.dispatch(c, message)
	}
}

func (h *MatchmakingHandler) dispatch(c *wsPkg.Client, message queueMessage) {
	ctx := context.Background()
	switch message.Type {
	case "ping":
		c.Send <- events.Pong()
	case "join_queue":
		h.joinQueue(ctx, c, message.MatchType)
	case "leave_queue":
		if err := h.Matcher.LeaveQueue(ctx, c.ID); err != nil {
			c.Send <- events.Error("failed to leave queue")
			return
		}
		c.Send <- events.QueueLeft()
	case "queue_status":
		inQueue, position, expiresAt, err := h.Matcher.QueueStatus(ctx, c.ID)
		if err != nil {
			c.Send <- events.Error("failed to check queue")
			return
		}
		c.Send <- events.QueueStatus(inQueue, position, expiresAt)
	default:
		c.Send <- events.Error("unknown message type")
	}
}

func (h *MatchmakingHandler) joinQueue(ctx context.Context, c *wsPkg.Client, matchType string) {
	switch matchType {
	case "ai":
		b, err := h.Matcher.InstantAIMatch(ctx, c.ID)
		if err != nil {
			c.Send <- events.Error(queueErrorMessage(err))
			return
		}
		c.Send <- events.MatchFound(b.ID, *b.OpponentID)
	case "active_user":
		b, _, err := h.Matcher.ActiveUserMatch(ctx, c.ID)
		if errors.Is(err, matchmaking.ErrNoCandidates) {
			c.Send <- events.NoActiveUsers()
			return
		}
		if err != nil {
			c.Send <- events.Error(queueErrorMessage(err))
			return
		}
		c.Send <- events.MatchFound(b.ID, "")
	default: // random
		result, err := h.Matcher.FindRandomMatch(ctx, c.ID)
		if err == nil {
			c.Send <- events.MatchFound(result.BattleID, result.OpponentID)
			return
		}
		if !errors.Is(err, matchmaking.ErrNoOpponent) {
			c.Send <- events.Error(queueErrorMessage(err))
			return
		}
		// Nobody is waiting: the caller becomes the waiting entry.
		entry, err := h.Matcher.JoinQueue(ctx, c.ID, db.SourceRandom)
		if err != nil {
			c.Send <- events.Error("failed to join queue")
			return
		}
		_, position, _, err := h.Matcher.QueueStatus(ctx, c.ID)
		if err != nil {
			position = 1
		}
		c.Send <- events.QueueJoined(position, entry.ExpiresAt)
	}
}

// queueErrorMessage keeps expected outcomes ("no prompt configured")
// distinct from hard failures.
func queueErrorMessage(err error) string {
	if errors.Is(err, matchmaking.ErrNoChallenge) {
		return "no active prompt available"
	}
	return "matchmaking failed, please try again"
}

func (h *MatchmakingHandler) write(c *wsPkg.Client) {
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Matchmaking write error for %s: %v", c.ID, err)
			break
		}
	}
	c.Conn.Close()
}
