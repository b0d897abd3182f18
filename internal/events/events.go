// Package events builds every message the server sends over a battle or
// matchmaking socket. Outbound payloads are constructed here and nowhere
// else, so only primitive, JSON-serializable fields can cross the wire,
// never a raw store record holding a back-reference to the opposing
// submission.
package events

import (
	"encoding/json"
	"log"
	"time"
)

// Opponent presence states for opponent_status events.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusTyping       = "typing"
	StatusIdle         = "idle"
	StatusSubmitted    = "submitted"
)

// JudgedResult is the per-submission slice of a judging_complete event.
type JudgedResult struct {
	SubmissionID   string             `json:"submission_id"`
	UserID         string             `json:"user_id"`
	Score          float64            `json:"score"`
	CriteriaScores map[string]float64 `json:"criteria_scores"`
	Feedback       string             `json:"feedback"`
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every payload below is built from primitives, so this only fires
		// on a programming error. Surface it loudly instead of stranding
		// the battle with a silent broadcast failure.
		log.Printf("Failed to marshal outbound event: %v", err)
		return []byte(`{"type":"error","error":"internal error"}`)
	}
	return data
}

type typed struct {
	Type string `json:"type"`
}

func Pong() []byte {
	return marshal(typed{Type: "pong"})
}

func BattleState(state interface{}) []byte {
	return marshal(struct {
		Type      string      `json:"type"`
		State     interface{} `json:"state"`
		Timestamp int64       `json:"timestamp"`
	}{"battle_state", state, time.Now().Unix()})
}

func OpponentStatus(userID, status string) []byte {
	return marshal(struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
		Status string `json:"status"`
	}{"opponent_status", userID, status})
}

func CountdownStart(duration int) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		Duration int    `json:"duration"`
	}{"countdown_start", duration})
}

func CountdownTick(value int) []byte {
	return marshal(struct {
		Type  string `json:"type"`
		Value int    `json:"value"`
	}{"countdown_tick", value})
}

func PhaseChange(p string) []byte {
	return marshal(struct {
		Type  string `json:"type"`
		Phase string `json:"phase"`
	}{"phase_change", p})
}

func SubmissionConfirmed(submissionID string) []byte {
	return marshal(struct {
		Type         string `json:"type"`
		SubmissionID string `json:"submission_id"`
	}{"submission_confirmed", submissionID})
}

func ImageGenerating(submissionID string) []byte {
	return marshal(struct {
		Type         string `json:"type"`
		SubmissionID string `json:"submission_id"`
	}{"image_generating", submissionID})
}

func ImageGenerated(submissionID, userID, url string) []byte {
	return marshal(struct {
		Type         string `json:"type"`
		SubmissionID string `json:"submission_id"`
		UserID       string `json:"user_id"`
		ImageURL     string `json:"image_url"`
	}{"image_generated", submissionID, userID, url})
}

func ImageGenerationFailed(submissionID, reason string) []byte {
	return marshal(struct {
		Type         string `json:"type"`
		SubmissionID string `json:"submission_id"`
		Reason       string `json:"reason"`
	}{"image_generation_failed", submissionID, reason})
}

func JudgingComplete(winnerID string, results []JudgedResult) []byte {
	return marshal(struct {
		Type     string         `json:"type"`
		WinnerID string         `json:"winner_id"`
		Results  []JudgedResult `json:"results"`
	}{"judging_complete", winnerID, results})
}

func BattleComplete(winnerID string) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		WinnerID string `json:"winner_id"`
	}{"battle_complete", winnerID})
}

func BattleForfeit(winnerID, reason string) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		WinnerID string `json:"winner_id"`
		Reason   string `json:"reason"`
	}{"battle_forfeit", winnerID, reason})
}

func BattleCancelled(reason string) []byte {
	return marshal(struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{"battle_cancelled", reason})
}

func Error(message string) []byte {
	return marshal(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{"error", message})
}

// Matchmaking-channel events.

func QueueJoined(position int, expiresAt time.Time) []byte {
	return marshal(struct {
		Type      string `json:"type"`
		Position  int    `json:"position"`
		ExpiresAt int64  `json:"expires_at"`
	}{"queue_joined", position, expiresAt.Unix()})
}

func MatchFound(battleID, opponentID string) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		BattleID string `json:"battle_id"`
		Opponent string `json:"opponent"`
	}{"match_found", battleID, opponentID})
}

func NoActiveUsers() []byte {
	return marshal(typed{Type: "no_active_users"})
}

func QueueLeft() []byte {
	return marshal(typed{Type: "queue_left"})
}

func QueueStatus(inQueue bool, position int, expiresAt *time.Time) []byte {
	var exp int64
	if expiresAt != nil {
		exp = expiresAt.Unix()
	}
	return marshal(struct {
		Type      string `json:"type"`
		InQueue   bool   `json:"in_queue"`
		Position  int    `json:"position"`
		ExpiresAt int64  `json:"expires_at,omitempty"`
	}{"queue_status", inQueue, position, exp})
}

func BattleInvitation(battleID, senderID string) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		BattleID string `json:"battle_id"`
		SenderID string `json:"sender_id"`
	}{"battle_invitation", battleID, senderID})
}
