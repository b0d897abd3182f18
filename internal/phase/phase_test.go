package phase

import (
	"errors"
	"testing"
)

func TestIsValidTransitionHappyPath(t *testing.T) {
	path := []Phase{Waiting, Countdown, Active, Generating, Judging, Reveal, Complete}
	for i := 0; i < len(path)-1; i++ {
		if !IsValidTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be valid", path[i], path[i+1])
		}
	}
}

func TestIsValidTransitionRejectsSelfLoops(t *testing.T) {
	for from := range transitions {
		if IsValidTransition(from, from) {
			t.Errorf("expected self-loop %s -> %s to be invalid", from, from)
		}
	}
}

func TestIsValidTransitionRejectsUnknownFrom(t *testing.T) {
	if IsValidTransition(Phase("bogus"), Active) {
		t.Fatal("expected unknown from-phase to be invalid")
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	if !Terminal(Complete) {
		t.Fatal("expected complete to be terminal")
	}
	for from := range transitions {
		if from != Complete && Terminal(from) {
			t.Errorf("expected %s not to be terminal", from)
		}
		if IsValidTransition(Complete, from) {
			t.Errorf("expected complete -> %s to be invalid", from)
		}
	}
}

func TestCountdownCanRollBackToWaiting(t *testing.T) {
	if !IsValidTransition(Countdown, Waiting) {
		t.Fatal("expected countdown -> waiting to be valid on disconnect")
	}
}

func TestTurnPhasesAlternate(t *testing.T) {
	if !IsValidTransition(ChallengerTurn, OpponentTurn) {
		t.Fatal("expected challenger_turn -> opponent_turn to be valid")
	}
	if !IsValidTransition(OpponentTurn, ChallengerTurn) {
		t.Fatal("expected opponent_turn -> challenger_turn to be valid")
	}
}

func TestSubmittable(t *testing.T) {
	for _, p := range []Phase{Active, ChallengerTurn, OpponentTurn} {
		if !Submittable(p) {
			t.Errorf("expected %s to accept submissions", p)
		}
	}
	for _, p := range []Phase{Waiting, Countdown, Generating, Judging, Reveal, Complete} {
		if Submittable(p) {
			t.Errorf("expected %s not to accept submissions", p)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		phase Phase
		want  Status
	}{
		{Waiting, StatusPending},
		{Countdown, StatusActive},
		{Active, StatusActive},
		{Generating, StatusActive},
		{Reveal, StatusActive},
		{Complete, StatusCompleted},
	}
	for _, c := range cases {
		if got := StatusFor(c.phase); got != c.want {
			t.Errorf("StatusFor(%s) = %s, want %s", c.phase, got, c.want)
		}
	}
}

func TestValidateStrictReturnsTransitionError(t *testing.T) {
	ok, err := Validate("b1", Reveal, Active, Strict)
	if ok {
		t.Fatal("expected invalid transition")
	}
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if terr.BattleID != "b1" || terr.From != Reveal || terr.To != Active {
		t.Fatalf("unexpected error fields: %+v", terr)
	}
}

func TestValidateWarnOnlyReturnsNoError(t *testing.T) {
	ok, err := Validate("b1", Reveal, Active, WarnOnly)
	if ok {
		t.Fatal("expected invalid transition")
	}
	if err != nil {
		t.Fatalf("expected nil error in warn-only mode, got %v", err)
	}
}

func TestValidateAllowsValidTransition(t *testing.T) {
	ok, err := Validate("b1", Judging, Reveal, Strict)
	if !ok || err != nil {
		t.Fatalf("expected valid transition, got ok=%v err=%v", ok, err)
	}
}
