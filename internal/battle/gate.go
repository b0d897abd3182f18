package battle

import (
	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

// Decision is the outcome of the submission gate. Reason is the exact
// human-readable message surfaced to the user when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// CanSubmit decides whether user may submit to b right now. It is a pure
// decision with no persistence side effects; callers must run it before any
// submission write. hasSubmitted is supplied by the caller when duplicate
// rejection is wanted (the data layer enforces uniqueness regardless).
func CanSubmit(b *db.Battle, userID string, hasSubmitted bool) Decision {
	if !b.IsParticipant(userID) {
		return deny("not a participant")
	}
	// Phase reasons come first: a pending battle still waiting for its
	// opponent should say so, not hide behind the generic status message.
	if !phase.Submittable(b.Phase) {
		switch b.Phase {
		case phase.Waiting:
			return deny("waiting for opponent")
		case phase.Countdown:
			return deny("starting soon")
		case phase.Generating:
			return deny("already generated")
		case phase.Judging:
			return deny("being judged")
		default:
			return deny("battle ended")
		}
	}
	if b.Status != phase.StatusActive {
		return deny("battle not active")
	}
	if b.Phase == phase.ChallengerTurn && userID != b.ChallengerID {
		return deny("not your turn")
	}
	if b.Phase == phase.OpponentTurn && (b.OpponentID == nil || userID != *b.OpponentID) {
		return deny("not your turn")
	}
	if hasSubmitted {
		return deny("already submitted")
	}
	return Decision{Allowed: true}
}
