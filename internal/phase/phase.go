package phase

import (
	"fmt"
	"log"
)

// Phase is the fine-grained point within a battle's playable lifecycle.
type Phase string

const (
	Waiting        Phase = "waiting"
	Countdown      Phase = "countdown"
	Active         Phase = "active"
	ChallengerTurn Phase = "challenger_turn"
	OpponentTurn   Phase = "opponent_turn"
	Generating     Phase = "generating"
	Judging        Phase = "judging"
	Reveal         Phase = "reveal"
	Complete       Phase = "complete"
)

// Status is the coarse battle lifecycle, derived from phase unless a
// cancellation or expiry terminates the battle early.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// transitions is the full allowed-transition table. Countdown may roll back
// to waiting when interrupted; the turn phases convert to synchronous play
// (and back) when both participants are present; complete is terminal.
var transitions = map[Phase][]Phase{
	Waiting:        {Countdown, ChallengerTurn, OpponentTurn, Complete},
	Countdown:      {Active, Waiting, Complete},
	Active:         {Generating, ChallengerTurn, OpponentTurn, Complete},
	ChallengerTurn: {OpponentTurn, Active, Generating, Complete},
	OpponentTurn:   {ChallengerTurn, Active, Generating, Complete},
	Generating:     {Judging, Complete},
	Judging:        {Reveal, Complete},
	Reveal:         {Complete},
	Complete:       {},
}

// IsValidTransition reports whether from -> to is an allowed phase
// transition. Unknown "from" phases and self-loops are never valid.
func IsValidTransition(from, to Phase) bool {
	if from == to {
		return false
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// Submittable reports whether a participant entry may be accepted in p.
func Submittable(p Phase) bool {
	return p == Active || p == ChallengerTurn || p == OpponentTurn
}

// Terminal reports whether p has no outgoing transitions.
func Terminal(p Phase) bool {
	return p == Complete
}

// StatusFor derives the coarse status aligned with p.
func StatusFor(p Phase) Status {
	switch p {
	case Waiting:
		return StatusPending
	case Complete:
		return StatusCompleted
	default:
		return StatusActive
	}
}

// Enforcement selects how Validate treats an invalid transition. WarnOnly
// exists so call sites can be migrated to strict checking gradually without
// breaking in-flight battles; its call sites are tracked and it is meant to
// be removed once migration is done.
type Enforcement int

const (
	Strict Enforcement = iota
	WarnOnly
)

// TransitionError is returned in Strict mode for an invalid transition and
// carries both endpoints plus the battle id for diagnosis.
type TransitionError struct {
	BattleID string
	From     Phase
	To       Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s for battle %s", e.From, e.To, e.BattleID)
}

// Validate checks from -> to against the transition table. In Strict mode
// an invalid transition returns a *TransitionError; in WarnOnly mode it is
// logged and (false, nil) is returned so the caller may proceed anyway.
func Validate(battleID string, from, to Phase, mode Enforcement) (bool, error) {
	if IsValidTransition(from, to) {
		return true, nil
	}
	if mode == Strict {
		return false, &TransitionError{BattleID: battleID, From: from, To: to}
	}
	log.Printf("Invalid phase transition %s -> %s for battle %s (warn-only)", from, to, battleID)
	return false, nil
}
