package invite

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/auth"
)

// LinkBattleCreator books a battle plus an open invitation in one step.
type LinkBattleCreator interface {
	CreateLinkBattle(ctx context.Context, userID, opponentName string) (*db.Battle, *db.Invitation, error)
}

type Handler struct {
	service  *Service
	creator  LinkBattleCreator
	verifier *auth.Verifier
}

func NewHandler(service *Service, creator LinkBattleCreator, verifier *auth.Verifier) *Handler {
	return &Handler{
		service:  service,
		creator:  creator,
		verifier: verifier,
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

type CreateLinkRequest struct {
	OpponentName string `json:"opponent_name"`
}

type CreateLinkResponse struct {
	BattleID     string `json:"battle_id"`
	InvitationID string `json:"invitation_id"`
	ExpiresAt    string `json:"expires_at"`
}

// CreateLink books a battle with no opponent yet and returns the shareable
// invitation. The opponent name is a display hint only; whoever opens the
// link first becomes the opponent.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	b, inv, err := h.creator.CreateLinkBattle(r.Context(), userID, req.OpponentName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Printf("Failed to create link battle for %s: %v", userID, err)
		return
	}

	writeJSON(w, CreateLinkResponse{
		BattleID:     b.ID,
		InvitationID: inv.ID,
		ExpiresAt:    inv.ExpiresAt.Format(time.RFC3339),
	})
}

type AcceptRequest struct {
	InvitationID string `json:"invitation_id"`
}

type AcceptResponse struct {
	BattleID string `json:"battle_id"`
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InvitationID == "" {
		http.Error(w, "Missing invitation_id", http.StatusBadRequest)
		return
	}

	b, err := h.service.Accept(r.Context(), req.InvitationID, userID)
	if err != nil {
		http.Error(w, err.Error(), acceptStatus(err))
		return
	}
	writeJSON(w, AcceptResponse{BattleID: b.ID})
}

func acceptStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvitationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvitationExpired):
		return http.StatusGone
	case errors.Is(err, ErrAlreadyAccepted), errors.Is(err, ErrOwnInvitation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type DeclineRequest struct {
	InvitationID string `json:"invitation_id"`
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req DeclineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Decline(r.Context(), req.InvitationID, userID); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			http.Error(w, "Invitation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"message": "Invitation declined"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
