package battle

import (
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

// SnapshotConfig carries the timing/points knobs the snapshot needs.
type SnapshotConfig struct {
	CountdownSeconds    int
	RevealWindow        time.Duration
	WinnerPoints        int
	ParticipationPoints int
}

// OwnView is the viewer's own submission state, fully visible.
type OwnView struct {
	SubmissionID   string             `json:"submission_id,omitempty"`
	PromptText     string             `json:"prompt_text,omitempty"`
	ImageURL       string             `json:"image_url,omitempty"`
	Score          *float64           `json:"score,omitempty"`
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
	Feedback       string             `json:"feedback,omitempty"`
	Submitted      bool               `json:"submitted"`
}

// OpponentView hides the opponent's entry until reveal.
type OpponentView struct {
	UserID         string             `json:"user_id,omitempty"`
	Connected      bool               `json:"connected"`
	Submitted      bool               `json:"submitted"`
	PromptText     string             `json:"prompt_text,omitempty"`
	ImageURL       string             `json:"image_url,omitempty"`
	Score          *float64           `json:"score,omitempty"`
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
	// Challenger-supplied display name from a link invitation; populated
	// only when the viewer is the challenger.
	DisplayName string `json:"display_name,omitempty"`
}

// Snapshot is the per-viewer state document pushed over the battle channel.
// It contains only serializable primitives; store records never cross this
// boundary verbatim.
type Snapshot struct {
	BattleID         string       `json:"battle_id"`
	Phase            string       `json:"phase"`
	Status           string       `json:"status"`
	ChallengeText    string       `json:"challenge_text"`
	Side             string       `json:"side"` // challenger | opponent
	YourTurn         bool         `json:"your_turn"`
	You              OwnView      `json:"you"`
	Opponent         OpponentView `json:"opponent"`
	RemainingSeconds int          `json:"remaining_seconds"`
	InviteStatus     string       `json:"invite_status,omitempty"`
	WinnerID         string       `json:"winner_id,omitempty"`
	PointsEarned     int          `json:"points_earned,omitempty"`
}

// BuildSnapshot computes the state document for one viewer.
func BuildSnapshot(b *db.Battle, subs []db.Submission, inv *db.Invitation, viewerID string, cfg SnapshotConfig, now time.Time) Snapshot {
	snap := Snapshot{
		BattleID:      b.ID,
		Phase:         string(b.Phase),
		Status:        string(b.Status),
		ChallengeText: b.ChallengeText,
		Side:          "opponent",
	}
	if viewerID == b.ChallengerID {
		snap.Side = "challenger"
	}
	if b.CurrentTurnUserID != nil && *b.CurrentTurnUserID == viewerID {
		snap.YourTurn = true
	}
	if b.Phase == phase.Active {
		snap.YourTurn = true
	}

	revealed := b.Phase == phase.Reveal || b.Phase == phase.Complete

	opponentID := b.OpponentOf(viewerID)
	snap.Opponent.UserID = opponentID
	if opponentID != "" {
		snap.Opponent.Connected = connectedFlag(b, opponentID)
	}

	for i := range subs {
		s := &subs[i]
		switch s.UserID {
		case viewerID:
			snap.You = OwnView{
				SubmissionID:   s.ID,
				PromptText:     s.SanitizedText,
				ImageURL:       s.GeneratedURL,
				Score:          s.AggregateScore,
				CriteriaScores: s.Scores,
				Feedback:       s.Feedback,
				Submitted:      true,
			}
		case opponentID:
			snap.Opponent.Submitted = true
			if revealed {
				snap.Opponent.PromptText = s.SanitizedText
				snap.Opponent.ImageURL = s.GeneratedURL
				snap.Opponent.Score = s.AggregateScore
				snap.Opponent.CriteriaScores = s.Scores
			}
		}
	}

	if inv != nil {
		snap.InviteStatus = string(inv.Status)
		if viewerID == b.ChallengerID {
			snap.Opponent.DisplayName = inv.OpponentName
		}
	}

	snap.RemainingSeconds = remainingSeconds(b, cfg, now)

	if b.WinnerID != nil && revealed {
		snap.WinnerID = *b.WinnerID
	}
	if b.Phase == phase.Complete {
		if b.WinnerID != nil && *b.WinnerID == viewerID {
			snap.PointsEarned = cfg.WinnerPoints
		} else if b.Status == phase.StatusCompleted && snap.You.Submitted {
			// Participation points require a submission; the loser of a
			// forfeit never submitted and is never awarded them.
			snap.PointsEarned = cfg.ParticipationPoints
		}
	}
	return snap
}

func connectedFlag(b *db.Battle, userID string) bool {
	if userID == b.ChallengerID {
		return b.ChallengerConnected
	}
	if b.OpponentID != nil && *b.OpponentID == userID {
		return b.OpponentConnected
	}
	return false
}

// remainingSeconds computes time left against whichever deadline matters
// for the current phase.
func remainingSeconds(b *db.Battle, cfg SnapshotConfig, now time.Time) int {
	var deadline time.Time
	switch b.Phase {
	case phase.Waiting, phase.Active:
		deadline = b.ExpiresAt
	case phase.Countdown:
		deadline = b.PhaseChangedAt.Add(time.Duration(cfg.CountdownSeconds) * time.Second)
	case phase.ChallengerTurn, phase.OpponentTurn:
		if b.TurnExpiresAt != nil {
			deadline = *b.TurnExpiresAt
		} else if b.AsyncDeadline != nil {
			deadline = *b.AsyncDeadline
		}
	case phase.Reveal:
		deadline = b.PhaseChangedAt.Add(cfg.RevealWindow)
	default:
		return 0
	}
	if deadline.IsZero() {
		return 0
	}
	left := int(deadline.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}
