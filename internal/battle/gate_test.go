package battle

import (
	"testing"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

func testBattle(p phase.Phase) *db.Battle {
	opponent := "user-b"
	return &db.Battle{
		ID:           "battle-1",
		ChallengerID: "user-a",
		OpponentID:   &opponent,
		Status:       phase.StatusFor(p),
		Phase:        p,
	}
}

func TestCanSubmitActivePhase(t *testing.T) {
	d := CanSubmit(testBattle(phase.Active), "user-a", false)
	if !d.Allowed {
		t.Fatalf("expected submission allowed, got %q", d.Reason)
	}
}

func TestCanSubmitRejectsNonParticipant(t *testing.T) {
	d := CanSubmit(testBattle(phase.Active), "stranger", false)
	if d.Allowed || d.Reason != "not a participant" {
		t.Fatalf("expected 'not a participant', got %+v", d)
	}
}

func TestCanSubmitRejectsDuplicate(t *testing.T) {
	d := CanSubmit(testBattle(phase.Active), "user-a", true)
	if d.Allowed || d.Reason != "already submitted" {
		t.Fatalf("expected 'already submitted', got %+v", d)
	}
}

func TestCanSubmitPhaseReasons(t *testing.T) {
	cases := []struct {
		phase  phase.Phase
		reason string
	}{
		{phase.Waiting, "waiting for opponent"},
		{phase.Countdown, "starting soon"},
		{phase.Generating, "already generated"},
		{phase.Judging, "being judged"},
		{phase.Reveal, "battle ended"},
	}
	for _, c := range cases {
		d := CanSubmit(testBattle(c.phase), "user-a", false)
		if d.Allowed || d.Reason != c.reason {
			t.Errorf("phase %s: expected %q, got %+v", c.phase, c.reason, d)
		}
	}
}

func TestCanSubmitWaitingReasonOnPendingBattle(t *testing.T) {
	b := testBattle(phase.Waiting)
	if b.Status != phase.StatusPending {
		t.Fatalf("expected waiting battle to be pending, got %s", b.Status)
	}
	d := CanSubmit(b, "user-a", false)
	if d.Allowed || d.Reason != "waiting for opponent" {
		t.Fatalf("expected 'waiting for opponent', got %+v", d)
	}
}

func TestCanSubmitRejectsInactiveBattle(t *testing.T) {
	b := testBattle(phase.Active)
	b.Status = phase.StatusCancelled
	d := CanSubmit(b, "user-a", false)
	if d.Allowed || d.Reason != "battle not active" {
		t.Fatalf("expected 'battle not active', got %+v", d)
	}
}

func TestCanSubmitTurnOrder(t *testing.T) {
	b := testBattle(phase.ChallengerTurn)
	if d := CanSubmit(b, "user-a", false); !d.Allowed {
		t.Fatalf("expected challenger allowed on their turn, got %q", d.Reason)
	}
	if d := CanSubmit(b, "user-b", false); d.Allowed || d.Reason != "not your turn" {
		t.Fatalf("expected 'not your turn' for opponent, got %+v", d)
	}

	b = testBattle(phase.OpponentTurn)
	if d := CanSubmit(b, "user-b", false); !d.Allowed {
		t.Fatalf("expected opponent allowed on their turn, got %q", d.Reason)
	}
	if d := CanSubmit(b, "user-a", false); d.Allowed || d.Reason != "not your turn" {
		t.Fatalf("expected 'not your turn' for challenger, got %+v", d)
	}
}

func TestCanSubmitTurnWithNullOpponent(t *testing.T) {
	b := testBattle(phase.OpponentTurn)
	b.OpponentID = nil
	d := CanSubmit(b, "user-a", false)
	if d.Allowed || d.Reason != "not your turn" {
		t.Fatalf("expected 'not your turn' with unbound opponent, got %+v", d)
	}
}
