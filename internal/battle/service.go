package battle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/tasks"
)

var ErrNotParticipant = errors.New("not a participant")

// Generator enqueues output generation for one submission, idempotently
// keyed on (battle, submission).
type Generator interface {
	Enqueue(battleID string, sub db.Submission, challengeText string, expiry time.Time)
}

// JudgeRunner scores a battle's two submissions and advances it to reveal.
// It must tolerate being invoked twice for the same battle.
type JudgeRunner interface {
	Run(ctx context.Context, battleID string) error
}

// Opponent composes the AI side's entry for an AI-sourced battle.
type Opponent interface {
	ComposeEntry(ctx context.Context, challengeText string) (string, error)
}

// ServiceConfig is the slice of runtime config the coordinator uses.
type ServiceConfig struct {
	CountdownSeconds    int
	BattleDuration      time.Duration
	TimeoutBuffer       time.Duration
	RevealWindow        time.Duration
	TurnDuration        time.Duration
	AsyncDeadline       time.Duration
	MaxExtensions       int
	WinnerPoints        int
	ParticipationPoints int
	AIOpponentID        string
	// Transition enforcement at coordinator call sites. WarnOnly during
	// the migration period; flip to Strict once in-flight battles drain.
	Enforcement phase.Enforcement
}

func (c ServiceConfig) snapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		CountdownSeconds:    c.CountdownSeconds,
		RevealWindow:        c.RevealWindow,
		WinnerPoints:        c.WinnerPoints,
		ParticipationPoints: c.ParticipationPoints,
	}
}

// Service is the per-battle coordinator. One instance serves every battle;
// per-battle state lives in the store, and concurrent instances (one per
// connected client, possibly across processes) agree through guarded store
// writes and the broadcast bus only.
type Service struct {
	store Store
	bus   events.Broadcaster
	sched tasks.Scheduler
	gen   Generator
	judge JudgeRunner
	agent Opponent
	cfg   ServiceConfig

	// countdowns tracks the live ticker generation per battle, so a restart
	// supersedes the previous ticker instead of running alongside it.
	mu         sync.Mutex
	countdowns map[string]int
}

func NewService(store Store, bus events.Broadcaster, sched tasks.Scheduler, gen Generator, judge JudgeRunner, agent Opponent, cfg ServiceConfig) *Service {
	return &Service{
		store:      store,
		bus:        bus,
		sched:      sched,
		gen:        gen,
		judge:      judge,
		agent:      agent,
		cfg:        cfg,
		countdowns: make(map[string]int),
	}
}

func (s *Service) claimCountdown(battleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdowns[battleID]++
	return s.countdowns[battleID]
}

func (s *Service) currentCountdown(battleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdowns[battleID]
}

// Admit validates that battleID exists and userID is a declared
// participant. Distinct errors let the transport pick distinct close codes.
func (s *Service) Admit(ctx context.Context, battleID, userID string) (*db.Battle, error) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return b, nil
}

// HandleConnect marks the participant connected, tells the other side, and
// starts the countdown once both sides are present.
func (s *Service) HandleConnect(ctx context.Context, battleID, userID string) error {
	if err := s.store.SetConnected(ctx, battleID, userID, true); err != nil {
		return err
	}
	s.broadcastToOther(ctx, battleID, userID, events.OpponentStatus(userID, events.StatusConnected))
	return s.evaluateStart(ctx, battleID)
}

// HandleDisconnect marks the participant disconnected and rolls an
// interrupted countdown back to waiting.
func (s *Service) HandleDisconnect(ctx context.Context, battleID, userID string) {
	if err := s.store.SetConnected(ctx, battleID, userID, false); err != nil {
		log.Printf("Failed to mark %s disconnected in battle %s: %v", userID, battleID, err)
	}
	s.broadcastToOther(ctx, battleID, userID, events.OpponentStatus(userID, events.StatusDisconnected))

	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return
	}
	if b.Phase == phase.Countdown {
		if ok, _ := s.store.CompareAndSetPhase(ctx, battleID, phase.Countdown, phase.Waiting); ok {
			s.bus.ToBattle(battleID, events.PhaseChange(string(phase.Waiting)))
		}
	}
}

// evaluateStart re-reads the battle and kicks off (or restarts) the
// countdown when both participants are connected. For turn-based battles
// where both sides are simultaneously present it converts to live play.
func (s *Service) evaluateStart(ctx context.Context, battleID string) error {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if !b.ChallengerConnected || !b.OpponentConnected {
		return nil
	}
	switch b.Phase {
	case phase.Waiting:
		ok, err := s.store.CompareAndSetPhase(ctx, battleID, phase.Waiting, phase.Countdown)
		if err != nil || !ok {
			return err
		}
		s.bus.ToBattle(battleID, events.CountdownStart(s.cfg.CountdownSeconds))
		go s.runCountdown(battleID, s.claimCountdown(battleID))
	case phase.Countdown:
		// A reconnect mid-countdown restarts the tick sequence rather
		// than leaving the client without ticks. The new ticker claims the
		// battle's countdown slot, which retires the old goroutine.
		s.bus.ToBattle(battleID, events.CountdownStart(s.cfg.CountdownSeconds))
		go s.runCountdown(battleID, s.claimCountdown(battleID))
	case phase.ChallengerTurn, phase.OpponentTurn:
		if _, err := s.TransitionPhase(ctx, battleID, phase.Active); err != nil {
			return err
		}
		s.PushState(ctx, battleID)
	}
	return nil
}

// runCountdown emits one tick per second, aborting if the phase moves away
// from countdown (disconnect rollback, concurrent completion) or if a newer
// ticker has claimed the battle's countdown slot.
func (s *Service) runCountdown(battleID string, gen int) {
	ctx := context.Background()
	for value := s.cfg.CountdownSeconds; value > 0; value-- {
		if s.currentCountdown(battleID) != gen {
			return
		}
		b, err := s.store.GetBattle(ctx, battleID)
		if err != nil || b.Phase != phase.Countdown {
			return
		}
		s.bus.ToBattle(battleID, events.CountdownTick(value))
		time.Sleep(time.Second)
	}

	if s.currentCountdown(battleID) != gen {
		return
	}
	ok, err := s.store.CompareAndSetPhase(ctx, battleID, phase.Countdown, phase.Active)
	if err != nil || !ok {
		return
	}
	now := time.Now()
	if err := s.store.MarkStarted(ctx, battleID, now, now.Add(s.cfg.BattleDuration)); err != nil {
		log.Printf("Failed to stamp start of battle %s: %v", battleID, err)
	}
	s.bus.ToBattle(battleID, events.PhaseChange(string(phase.Active)))
	s.PushState(ctx, battleID)
	s.scheduleTimeout(battleID)
}

// scheduleTimeout queues the single-battle deadline resolver for the
// battle's duration plus a latency buffer.
func (s *Service) scheduleTimeout(battleID string) {
	delay := s.cfg.BattleDuration + s.cfg.TimeoutBuffer
	key := tasks.Key{Kind: tasks.KindBattleTimeout, BattleID: battleID}
	s.sched.Schedule(key, delay, time.Now().Add(delay+10*time.Minute), func(ctx context.Context) error {
		return s.ResolveTimeout(ctx, battleID)
	})
}

// HandleTyping relays a typing signal to the opposing side. For AI battles
// the human's first typing signal is the trigger that wakes the agent, so
// the agent answers the challenge the human is actually looking at.
func (s *Service) HandleTyping(ctx context.Context, battleID, userID string, isTyping bool) {
	status := events.StatusIdle
	if isTyping {
		status = events.StatusTyping
	}
	s.broadcastToOther(ctx, battleID, userID, events.OpponentStatus(userID, status))

	if !isTyping {
		return
	}
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil || b.Source != db.SourceAI || userID == s.cfg.AIOpponentID {
		return
	}
	key := tasks.Key{Kind: tasks.KindAgentSubmit, BattleID: battleID}
	s.sched.Schedule(key, 0, b.ExpiresAt, func(ctx context.Context) error {
		return s.submitAgentEntry(ctx, battleID)
	})
}

func (s *Service) submitAgentEntry(ctx context.Context, battleID string) error {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	entry, err := s.agent.ComposeEntry(ctx, b.ChallengeText)
	if err != nil {
		return fmt.Errorf("agent entry for battle %s: %w", battleID, err)
	}
	_, err = s.Submit(ctx, battleID, s.cfg.AIOpponentID, entry)
	if errors.Is(err, ErrAlreadySubmitted) {
		return nil
	}
	return err
}

// Submit runs the full submission path: fresh read, gate, sanitation and
// anti-abuse checks, persist (unique per participant at the data layer),
// notify, and immediate generation enqueue. Validation errors come back as
// the sentinel errors from sanitize.go and gate reasons wrapped in
// GateError.
func (s *Service) Submit(ctx context.Context, battleID, userID, rawPrompt string) (*db.Submission, error) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}

	_, getErr := s.store.GetSubmission(ctx, battleID, userID)
	hasSubmitted := getErr == nil

	if d := CanSubmit(b, userID, hasSubmitted); !d.Allowed {
		return nil, &GateError{Reason: d.Reason}
	}

	sanitized := SanitizePrompt(rawPrompt)
	if err := ValidatePrompt(sanitized, b.ChallengeText); err != nil {
		return nil, err
	}

	sub := &db.Submission{
		BattleID:      battleID,
		UserID:        userID,
		PromptText:    rawPrompt,
		SanitizedText: sanitized,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	s.broadcastToOther(ctx, battleID, userID, events.OpponentStatus(userID, events.StatusSubmitted))

	// Generation starts for this submission immediately; nobody waits for
	// the opponent.
	s.gen.Enqueue(battleID, *sub, b.ChallengeText, time.Now().Add(30*time.Minute))

	// Async handoff: a challenger submission during challenger_turn passes
	// the turn.
	if b.Phase == phase.ChallengerTurn && userID == b.ChallengerID && b.OpponentID != nil {
		if _, err := s.TransitionPhase(ctx, battleID, phase.OpponentTurn); err == nil {
			turnExpires := time.Now().Add(s.cfg.TurnDuration)
			if err := s.store.SetCurrentTurn(ctx, battleID, b.OpponentID, &turnExpires); err != nil {
				log.Printf("Failed to set turn for battle %s: %v", battleID, err)
			}
			s.PushState(ctx, battleID)
		}
	}

	if err := s.CheckBothSubmitted(ctx, battleID); err != nil {
		log.Printf("Dual-submission check failed for battle %s: %v", battleID, err)
	}
	return sub, nil
}

// CheckBothSubmitted is the safety-net path: whatever route created a
// submission, once exactly two exist the battle moves to generating and any
// submission still lacking output gets generation enqueued (idempotently).
func (s *Service) CheckBothSubmitted(ctx context.Context, battleID string) error {
	subs, err := s.store.ListSubmissions(ctx, battleID)
	if err != nil {
		return err
	}
	if len(subs) != 2 {
		return nil
	}
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if phase.Submittable(b.Phase) {
		if _, err := s.TransitionPhase(ctx, battleID, phase.Generating); err != nil {
			return err
		}
	}
	for _, sub := range subs {
		if sub.GeneratedURL == "" {
			s.gen.Enqueue(battleID, sub, b.ChallengeText, time.Now().Add(30*time.Minute))
		}
	}
	return nil
}

// HandleGenerated is invoked by the generation worker after an output URL
// is persisted. When both submissions carry output, exactly one caller wins
// the generating -> judging transition and enqueues the judging task.
func (s *Service) HandleGenerated(ctx context.Context, battleID string) error {
	subs, err := s.store.ListSubmissions(ctx, battleID)
	if err != nil {
		return err
	}
	if len(subs) != 2 {
		return nil
	}
	for _, sub := range subs {
		if sub.GeneratedURL == "" {
			return nil
		}
	}
	ok, err := s.store.CompareAndSetPhase(ctx, battleID, phase.Generating, phase.Judging)
	if err != nil {
		return err
	}
	if !ok {
		// The concurrent trigger won; nothing left to do here.
		return nil
	}
	s.bus.ToBattle(battleID, events.PhaseChange(string(phase.Judging)))
	s.EnqueueJudging(battleID)
	return nil
}

// EnqueueJudging queues the judging pipeline for the battle, keyed so
// redundant triggers collapse into one run.
func (s *Service) EnqueueJudging(battleID string) {
	key := tasks.Key{Kind: tasks.KindJudging, BattleID: battleID}
	s.sched.Schedule(key, 0, time.Now().Add(15*time.Minute), func(ctx context.Context) error {
		return s.judge.Run(ctx, battleID)
	})
}

// ScheduleCompletion queues the reveal -> complete advance after the reveal
// window. The judging pipeline calls this once a winner is persisted.
func (s *Service) ScheduleCompletion(battleID string) {
	key := tasks.Key{Kind: tasks.KindComplete, BattleID: battleID}
	s.sched.Schedule(key, s.cfg.RevealWindow, time.Now().Add(s.cfg.RevealWindow+10*time.Minute), func(ctx context.Context) error {
		return s.CompleteBattle(ctx, battleID)
	})
}

// CompleteBattle finalizes a revealed battle: terminal phase, completed
// status, points awarded, completion broadcast.
func (s *Service) CompleteBattle(ctx context.Context, battleID string) error {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if b.Phase == phase.Complete {
		return nil
	}
	ok, err := s.store.CompareAndSetPhase(ctx, battleID, phase.Reveal, phase.Complete)
	if err != nil || !ok {
		return err
	}
	if err := s.store.MarkCompleted(ctx, battleID, phase.StatusCompleted); err != nil {
		return err
	}

	winnerID := ""
	if b.WinnerID != nil {
		winnerID = *b.WinnerID
	}
	if winnerID != "" {
		if err := s.store.AddPoints(ctx, winnerID, s.cfg.WinnerPoints); err != nil {
			log.Printf("Failed to award winner points for battle %s: %v", battleID, err)
		}
		if loser := b.OpponentOf(winnerID); loser != "" {
			if err := s.store.AddPoints(ctx, loser, s.cfg.ParticipationPoints); err != nil {
				log.Printf("Failed to award participation points for battle %s: %v", battleID, err)
			}
		}
	}
	s.bus.ToBattle(battleID, events.BattleComplete(winnerID))
	return nil
}

// ResolveTimeout is the per-battle deadline handler scheduled at countdown
// completion. Resolution depends on how many submissions exist.
func (s *Service) ResolveTimeout(ctx context.Context, battleID string) error {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if phase.Terminal(b.Phase) || b.Phase == phase.Reveal || b.Phase == phase.Judging {
		return nil
	}
	subs, err := s.store.ListSubmissions(ctx, battleID)
	if err != nil {
		return err
	}
	switch len(subs) {
	case 0:
		return s.Cancel(ctx, battleID, "no submissions before the deadline")
	case 1:
		return s.Forfeit(ctx, battleID, subs[0].UserID, "opponent did not submit")
	default:
		return s.CheckBothSubmitted(ctx, battleID)
	}
}

// Forfeit declares winnerID the winner without judging and completes the
// battle, broadcasting a forfeit-specific event so clients render the right
// end state.
func (s *Service) Forfeit(ctx context.Context, battleID, winnerID, reason string) error {
	if err := s.store.SetWinner(ctx, battleID, winnerID); err != nil {
		return err
	}
	if _, err := s.TransitionPhase(ctx, battleID, phase.Complete); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, battleID, phase.StatusCompleted); err != nil {
		return err
	}
	if err := s.store.AddPoints(ctx, winnerID, s.cfg.WinnerPoints); err != nil {
		log.Printf("Failed to award forfeit points for battle %s: %v", battleID, err)
	}
	s.bus.ToBattle(battleID, events.BattleForfeit(winnerID, reason))
	return nil
}

// Cancel terminates the battle without a winner.
func (s *Service) Cancel(ctx context.Context, battleID, reason string) error {
	if _, err := s.TransitionPhase(ctx, battleID, phase.Complete); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, battleID, phase.StatusCancelled); err != nil {
		return err
	}
	s.bus.ToBattle(battleID, events.BattleCancelled(reason))
	return nil
}

// ExpireBattle terminates a battle whose hard deadline passed before play
// finished. A battle that has progressed into generating/judging/reveal is
// left alone: at that point the participants did their part, and the
// pipeline phases have their own stall windows and the reveal task to move
// them forward.
func (s *Service) ExpireBattle(ctx context.Context, battleID string) error {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	switch b.Phase {
	case phase.Generating, phase.Judging, phase.Reveal, phase.Complete:
		return nil
	}
	if _, err := s.TransitionPhase(ctx, battleID, phase.Complete); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, battleID, phase.StatusExpired); err != nil {
		return err
	}
	s.bus.ToBattle(battleID, events.BattleCancelled("battle expired"))
	return nil
}

// ExtendDeadline pushes the async deadline out by the configured window,
// capped at MaxExtensions.
func (s *Service) ExtendDeadline(ctx context.Context, battleID, userID string) (bool, error) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return false, err
	}
	if !b.IsParticipant(userID) {
		return false, ErrNotParticipant
	}
	ok, err := s.store.ExtendAsyncDeadline(ctx, battleID, time.Now().Add(s.cfg.AsyncDeadline), s.cfg.MaxExtensions)
	if err != nil {
		return false, err
	}
	if ok {
		s.PushState(ctx, battleID)
	}
	return ok, nil
}

// TransitionPhase is the shared transition helper: it re-fetches the battle
// fresh from storage, validates the move under the configured enforcement,
// and applies it with a guarded write so concurrent instances can't both
// win. Side-effect timestamps are set exactly once by the store.
func (s *Service) TransitionPhase(ctx context.Context, battleID string, to phase.Phase) (bool, error) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return false, err
	}
	valid, err := phase.Validate(battleID, b.Phase, to, s.cfg.Enforcement)
	if err != nil {
		return false, err
	}
	if !valid && s.cfg.Enforcement == phase.Strict {
		return false, nil
	}
	ok, err := s.store.CompareAndSetPhase(ctx, battleID, b.Phase, to)
	if err != nil || !ok {
		return ok, err
	}
	if to == phase.Active {
		now := time.Now()
		if err := s.store.MarkStarted(ctx, battleID, now, now.Add(s.cfg.BattleDuration)); err != nil {
			log.Printf("Failed to stamp start of battle %s: %v", battleID, err)
		}
	}
	s.bus.ToBattle(battleID, events.PhaseChange(string(to)))
	return true, nil
}

// PushState sends each declared participant their personalized snapshot.
func (s *Service) PushState(ctx context.Context, battleID string) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		log.Printf("Failed to load battle %s for state push: %v", battleID, err)
		return
	}
	subs, err := s.store.ListSubmissions(ctx, battleID)
	if err != nil {
		log.Printf("Failed to load submissions for battle %s: %v", battleID, err)
		return
	}
	inv, err := s.store.GetInvitationByBattle(ctx, battleID)
	if err != nil {
		inv = nil
	}

	viewers := []string{b.ChallengerID}
	if b.OpponentID != nil {
		viewers = append(viewers, *b.OpponentID)
	}
	for _, viewer := range viewers {
		snap := BuildSnapshot(b, subs, inv, viewer, s.cfg.snapshotConfig(), time.Now())
		s.bus.ToBattleUser(battleID, viewer, events.BattleState(snap))
	}
}

// StateFor builds the snapshot for a single viewer on demand.
func (s *Service) StateFor(ctx context.Context, battleID, viewerID string) (*Snapshot, error) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubmissions(ctx, battleID)
	if err != nil {
		return nil, err
	}
	inv, _ := s.store.GetInvitationByBattle(ctx, battleID)
	snap := BuildSnapshot(b, subs, inv, viewerID, s.cfg.snapshotConfig(), time.Now())
	return &snap, nil
}

func (s *Service) broadcastToOther(ctx context.Context, battleID, userID string, payload []byte) {
	b, err := s.store.GetBattle(ctx, battleID)
	if err != nil {
		return
	}
	if other := b.OpponentOf(userID); other != "" {
		s.bus.ToBattleUser(battleID, other, payload)
	}
}

// GateError carries the submission gate's specific denial reason.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string {
	return e.Reason
}
