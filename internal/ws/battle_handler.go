package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/promptclash/promptclash-backend/internal/auth"
	"github.com/promptclash/promptclash-backend/internal/battle"
	"github.com/promptclash/promptclash-backend/internal/events"
	wsPkg "github.com/promptclash/promptclash-backend/pkg/websocket"
)

// Close codes distinguishing admission failures so clients can tell the
// causes apart.
const (
	CloseUnauthenticated = 4001
	CloseUnauthorized    = 4003
	CloseBattleNotFound  = 4004
)

type BattleHandler struct {
	Hub      *wsPkg.Hub
	Verifier *auth.Verifier
	Service  *battle.Service
	Origins  []string
}

func NewBattleHandler(hub *wsPkg.Hub, verifier *auth.Verifier, service *battle.Service, origins []string) *BattleHandler {
	return &BattleHandler{
		Hub:      hub,
		Verifier: verifier,
		Service:  service,
		Origins:  origins,
	}
}

func (h *BattleHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, h.Origins)
		},
	}
}

func originAllowed(r *http.Request, origins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	for _, allowed := range origins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *BattleHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Battle WS upgrade failed: %v", err)
		return
	}

	userID, err := h.Verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		closeWith(conn, CloseUnauthenticated, "unauthenticated")
		return
	}

	battleID := r.URL.Query().Get("battleId")
	_, err = h.Service.Admit(r.Context(), battleID, userID)
	switch {
	case errors.Is(err, battle.ErrBattleNotFound):
		closeWith(conn, CloseBattleNotFound, "battle not found")
		return
	case errors.Is(err, battle.ErrNotParticipant):
		closeWith(conn, CloseUnauthorized, "not a participant")
		return
	case err != nil:
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	room := h.Hub.GetOrCreateRoom(battleID)
	client := wsPkg.NewClient(userID, conn)
	room.AddClient(client)

	if err := h.Service.HandleConnect(r.Context(), battleID, userID); err != nil {
		log.Printf("Failed to register connect for %s in battle %s: %v", userID, battleID, err)
	}

	go h.read(client, battleID)
	go h.write(client)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}

type clientMessage struct {
	Type       string `json:"type"`
	IsTyping   bool   `json:"is_typing"`
	PromptText string `json:"prompt_text"`
}

func (h *BattleHandler) read(c *wsPkg.Client, battleID string) {
	defer func() {
		if c.Room != nil {
			c.Room.RemoveClient(c)
			h.Hub.ReleaseRoom(battleID)
		}
		h.Service.HandleDisconnect(context.Background(), battleID, c.ID)
		close(c.Send)
		c.Conn.Close()
	}()

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			log.Printf("Read error for client %s: %v", c.ID, err)
			break
		}
		var message clientMessage
		if err := json.Unmarshal(msg, &message); err != nil {
			log.Printf("Failed to unmarshal message from %s: %v", c.ID, err)
			continue
		}
		h.dispatch(c, battleID, message)
	}
}

func (h *BattleHandler) dispatch(c *wsPkg.Client, battleID string, message clientMessage) {
	ctx := context.Background()
	switch message.Type {
	case "ping":
		c.Send <- events.Pong()
	case "typing":
		h.Service.HandleTyping(ctx, battleID, c.ID, message.IsTyping)
	case "submit_prompt":
		// Membership and phase are re-validated inside Submit against a
		// fresh read; the initial admission is not trusted for later
		// messages.
		sub, err := h.Service.Submit(ctx, battleID, c.ID, message.PromptText)
		if err != nil {
			c.Send <- events.Error(submitErrorMessage(err))
			return
		}
		c.Send <- events.SubmissionConfirmed(sub.ID)
	case "extend_deadline":
		ok, err := h.Service.ExtendDeadline(ctx, battleID, c.ID)
		if err != nil {
			c.Send <- events.Error("failed to extend deadline")
			return
		}
		if !ok {
			c.Send <- events.Error("no extensions remaining")
		}
	case "request_state":
		snap, err := h.Service.StateFor(ctx, battleID, c.ID)
		if err != nil {
			c.Send <- events.Error("failed to load state")
			return
		}
		c.Send <- events.BattleState(snap)
	default:
		c.Send <- events.Error("unknown message type")
	}
}

// submitErrorMessage maps submission failures to the specific, actionable
// messages the user sees.
func submitErrorMessage(err error) string {
	var gateErr *battle.GateError
	if errors.As(err, &gateErr) {
		return gateErr.Reason
	}
	switch {
	case errors.Is(err, battle.ErrAlreadySubmitted):
		return "already submitted"
	case errors.Is(err, battle.ErrCopyPaste),
		errors.Is(err, battle.ErrInjection),
		errors.Is(err, battle.ErrPromptTooShort),
		errors.Is(err, battle.ErrPromptTooLong):
		return err.Error()
	case errors.Is(err, battle.ErrBattleNotFound):
		return "battle not found"
	default:
		return "submission failed, please try again"
	}
}

func (h *BattleHandler) write(c *wsPkg.Client) {
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Write error for client %s: %v", c.ID, err)
			break
		}
	}
	c.Conn.Close()
}
