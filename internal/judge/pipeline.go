package judge

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetBattle(ctx context.Context, id string) (*db.Battle, error)
	ListSubmissions(ctx context.Context, battleID string) ([]db.Submission, error)
	GetCriteriaForBattle(ctx context.Context, battleID string) ([]db.Criterion, error)
	SetSubmissionScores(ctx context.Context, submissionID string, scores map[string]float64, aggregate float64, feedback string) error
	SetWinner(ctx context.Context, battleID, winnerID string) error
	CompareAndSetPhase(ctx context.Context, battleID string, from, to phase.Phase) (bool, error)
}

// Pipeline judges a battle's two submissions and advances it to reveal.
// Run is idempotent: a battle that already has a winner is only re-advanced
// and re-broadcast, never re-scored or double-awarded.
type Pipeline struct {
	store  Store
	client Client
	bus    events.Broadcaster
	// OnReveal schedules the reveal-window completion task; wired to the
	// coordinator in main.
	OnReveal func(battleID string)
	// Intn resolves a full scoring tie; overridable in tests.
	Intn func(n int) int
}

func NewPipeline(store Store, client Client, bus events.Broadcaster) *Pipeline {
	return &Pipeline{
		store:  store,
		client: client,
		bus:    bus,
		Intn:   rand.Intn,
	}
}

func (p *Pipeline) Run(ctx context.Context, battleID string) error {
	b, err := p.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}

	// Rejudge invoked on an already-decided battle (sweeper retry after a
	// lost broadcast): push it forward without rescoring.
	if b.WinnerID != nil {
		if b.Phase == phase.Judging {
			if ok, err := p.store.CompareAndSetPhase(ctx, battleID, phase.Judging, phase.Reveal); err != nil || !ok {
				return err
			}
			p.bus.ToBattle(battleID, events.PhaseChange(string(phase.Reveal)))
		}
		if p.OnReveal != nil {
			p.OnReveal(battleID)
		}
		return nil
	}

	// Sweeper retry path: a battle stuck in generating whose outputs are
	// all present is moved forward here.
	if b.Phase == phase.Generating {
		if ok, err := p.store.CompareAndSetPhase(ctx, battleID, phase.Generating, phase.Judging); err != nil || !ok {
			return err
		}
	} else if b.Phase != phase.Judging {
		return fmt.Errorf("battle %s not judgeable in phase %s", battleID, b.Phase)
	}

	subs, err := p.store.ListSubmissions(ctx, battleID)
	if err != nil {
		return err
	}
	if len(subs) != 2 {
		return fmt.Errorf("battle %s has %d submissions, need 2", battleID, len(subs))
	}
	for _, s := range subs {
		if s.GeneratedURL == "" {
			return fmt.Errorf("submission %s has no generated output", s.ID)
		}
	}

	criteria, err := p.store.GetCriteriaForBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if len(criteria) == 0 {
		criteria = DefaultCriteria()
	}

	entries := make([]ScoredEntry, 2)
	results := make([]events.JudgedResult, 2)
	for i := range subs {
		sub := &subs[i]
		raw, err := p.client.Evaluate(ctx, sub.GeneratedURL, b.ChallengeText, criteria)
		if err != nil {
			return fmt.Errorf("judge call for submission %s: %w", sub.ID, err)
		}
		parsed, err := ParseResponse(raw)
		if err != nil {
			return fmt.Errorf("submission %s: %w", sub.ID, err)
		}
		aggregate := Aggregate(parsed.Scores, criteria)
		if err := p.store.SetSubmissionScores(ctx, sub.ID, parsed.Scores, aggregate, parsed.Feedback); err != nil {
			return err
		}
		entries[i] = ScoredEntry{Aggregate: aggregate, Scores: parsed.Scores}
		// Only primitive fields cross the broadcast boundary.
		results[i] = events.JudgedResult{
			SubmissionID:   sub.ID,
			UserID:         sub.UserID,
			Score:          aggregate,
			CriteriaScores: parsed.Scores,
			Feedback:       parsed.Feedback,
		}
	}

	winner := subs[Winner(entries[0], entries[1], criteria, p.Intn)]
	if err := p.store.SetWinner(ctx, battleID, winner.UserID); err != nil {
		return err
	}
	if ok, err := p.store.CompareAndSetPhase(ctx, battleID, phase.Judging, phase.Reveal); err != nil {
		return err
	} else if ok {
		p.bus.ToBattle(battleID, events.PhaseChange(string(phase.Reveal)))
	}
	p.bus.ToBattle(battleID, events.JudgingComplete(winner.UserID, results))

	if p.OnReveal != nil {
		p.OnReveal(battleID)
	}
	return nil
}
