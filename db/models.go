package db

import (
	"time"

	"github.com/promptclash/promptclash-backend/internal/phase"
)

// MatchSource records how a battle's pairing originated.
type MatchSource string

const (
	SourceRandom     MatchSource = "random"
	SourceAI         MatchSource = "ai"
	SourceInvitation MatchSource = "invitation"
	SourceDirect     MatchSource = "direct"
)

type User struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Points      int       `json:"points" db:"points"`
	Available   bool      `json:"available" db:"available_for_battle"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Criterion is one weighted judging dimension of a challenge type. The name
// is used verbatim when prompting the judge and when parsing its response.
type Criterion struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type ChallengeType struct {
	ID       string      `json:"id" db:"id"`
	Name     string      `json:"name" db:"name"`
	Criteria []Criterion `json:"criteria" db:"criteria"`
}

type Challenge struct {
	ID              string    `json:"id" db:"id"`
	Text            string    `json:"text" db:"text"`
	ChallengeTypeID *string   `json:"challenge_type_id" db:"challenge_type_id"`
	Active          bool      `json:"active" db:"active"`
	UsageCount      int       `json:"usage_count" db:"usage_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type Battle struct {
	ID           string       `json:"id" db:"id"`
	ChallengerID string       `json:"challenger_id" db:"challenger_id"`
	// Nil until an invitation or match binds the second participant.
	OpponentID    *string      `json:"opponent_id" db:"opponent_id"`
	ChallengeID   *string      `json:"challenge_id" db:"challenge_id"`
	ChallengeText string       `json:"challenge_text" db:"challenge_text"`
	Status        phase.Status `json:"status" db:"status"`
	Phase         phase.Phase  `json:"phase" db:"phase"`
	Source        MatchSource  `json:"source" db:"source"`

	ChallengerConnected bool    `json:"challenger_connected" db:"challenger_connected"`
	OpponentConnected   bool    `json:"opponent_connected" db:"opponent_connected"`
	CurrentTurnUserID   *string `json:"current_turn_user_id" db:"current_turn_user_id"`
	WinnerID            *string `json:"winner_id" db:"winner_id"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	StartedAt      *time.Time `json:"started_at" db:"started_at"`
	PhaseChangedAt time.Time  `json:"phase_changed_at" db:"phase_changed_at"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	CompletedAt    *time.Time `json:"completed_at" db:"completed_at"`

	// Async/turn-based play.
	TurnExpiresAt  *time.Time `json:"turn_expires_at" db:"turn_expires_at"`
	AsyncDeadline  *time.Time `json:"async_deadline" db:"async_deadline"`
	ExtensionCount int        `json:"extension_count" db:"extension_count"`
}

// IsParticipant reports whether userID is a declared side of the battle.
func (b *Battle) IsParticipant(userID string) bool {
	if userID == b.ChallengerID {
		return true
	}
	return b.OpponentID != nil && *b.OpponentID == userID
}

// OpponentOf returns the other declared participant, or "" if there is none.
func (b *Battle) OpponentOf(userID string) string {
	if userID == b.ChallengerID {
		if b.OpponentID != nil {
			return *b.OpponentID
		}
		return ""
	}
	return b.ChallengerID
}

type Submission struct {
	ID       string `json:"id" db:"id"`
	BattleID string `json:"battle_id" db:"battle_id"`
	UserID   string `json:"user_id" db:"user_id"`

	PromptText    string `json:"prompt_text" db:"prompt_text"`
	SanitizedText string `json:"sanitized_text" db:"sanitized_text"`
	// Output reference (image URL); empty until generation completes.
	GeneratedURL string `json:"generated_url" db:"generated_url"`

	Scores         map[string]float64 `json:"scores" db:"scores"`
	AggregateScore *float64           `json:"aggregate_score" db:"aggregate_score"`
	Feedback       string             `json:"feedback" db:"feedback"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type QueueEntry struct {
	ID        string      `json:"id" db:"id"`
	UserID    string      `json:"user_id" db:"user_id"`
	MatchType MatchSource `json:"match_type" db:"match_type"`
	QueuedAt  time.Time   `json:"queued_at" db:"queued_at"`
	ExpiresAt time.Time   `json:"expires_at" db:"expires_at"`
}

type InvitationStatus string

const (
	InvitePending  InvitationStatus = "pending"
	InviteAccepted InvitationStatus = "accepted"
	InviteDeclined InvitationStatus = "declined"
	InviteExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID       string `json:"id" db:"id"`
	BattleID string `json:"battle_id" db:"battle_id"`
	SenderID string `json:"sender_id" db:"sender_id"`
	// Nil for open link invitations until someone accepts.
	RecipientID *string `json:"recipient_id" db:"recipient_id"`
	// Challenger-supplied friendly name for the invited opponent; shown to
	// the challenger only.
	OpponentName string           `json:"opponent_name" db:"opponent_name"`
	Status       InvitationStatus `json:"status" db:"status"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at" db:"expires_at"`
}
