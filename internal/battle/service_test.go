package battle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/tasks"
)

// memStore is an in-memory Store mirroring the guarded-update semantics of
// the real one.
type memStore struct {
	mu      sync.Mutex
	battles map[string]*db.Battle
	subs    map[string][]db.Submission
	points  map[string]int
	nextID  int
}

func newMemStore() *memStore {
	return &memStore{
		battles: make(map[string]*db.Battle),
		subs:    make(map[string][]db.Submission),
		points:  make(map[string]int),
	}
}

func (m *memStore) GetBattle(ctx context.Context, id string) (*db.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, ErrBattleNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) CreateBattle(ctx context.Context, b *db.Battle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *b
	m.battles[b.ID] = &copied
	return nil
}

func (m *memStore) CompareAndSetPhase(ctx context.Context, battleID string, from, to phase.Phase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[battleID]
	if !ok {
		return false, ErrBattleNotFound
	}
	if b.Status == phase.StatusCancelled || b.Status == phase.StatusExpired {
		return false, nil
	}
	if b.Phase != from {
		return false, nil
	}
	b.Phase = to
	b.Status = phase.StatusFor(to)
	b.PhaseChangedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkStarted(ctx context.Context, battleID string, startedAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[battleID]
	if b.StartedAt == nil {
		b.StartedAt = &startedAt
		b.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memStore) MarkCompleted(ctx context.Context, battleID string, status phase.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[battleID]
	now := time.Now()
	b.CompletedAt = &now
	b.Status = status
	return nil
}

func (m *memStore) SetConnected(ctx context.Context, battleID, userID string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[battleID]
	if !ok {
		return ErrBattleNotFound
	}
	if userID == b.ChallengerID {
		b.ChallengerConnected = connected
	} else if b.OpponentID != nil && userID == *b.OpponentID {
		b.OpponentConnected = connected
	}
	return nil
}

func (m *memStore) SetCurrentTurn(ctx context.Context, battleID string, userID *string, turnExpiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[battleID]
	b.CurrentTurnUserID = userID
	b.TurnExpiresAt = turnExpiresAt
	return nil
}

func (m *memStore) SetWinner(ctx context.Context, battleID, winnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[battleID]
	b.WinnerID = &winnerID
	return nil
}

func (m *memStore) ExtendAsyncDeadline(ctx context.Context, battleID string, deadline time.Time, maxExtensions int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[battleID]
	if b.ExtensionCount >= maxExtensions {
		return false, nil
	}
	b.AsyncDeadline = &deadline
	b.ExtensionCount++
	return true, nil
}

func (m *memStore) CreateSubmission(ctx context.Context, s *db.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs[s.BattleID] {
		if existing.UserID == s.UserID {
			return ErrAlreadySubmitted
		}
	}
	m.nextID++
	s.ID = fmt.Sprintf("sub-%d", m.nextID)
	m.subs[s.BattleID] = append(m.subs[s.BattleID], *s)
	return nil
}

func (m *memStore) GetSubmission(ctx context.Context, battleID, userID string) (*db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs[battleID] {
		if s.UserID == userID {
			copied := s
			return &copied, nil
		}
	}
	return nil, ErrSubmissionNotFound
}

func (m *memStore) ListSubmissions(ctx context.Context, battleID string) ([]db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.Submission(nil), m.subs[battleID]...), nil
}

func (m *memStore) SetGeneratedOutput(ctx context.Context, submissionID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for battleID, subs := range m.subs {
		for i := range subs {
			if subs[i].ID == submissionID {
				m.subs[battleID][i].GeneratedURL = url
				return nil
			}
		}
	}
	return ErrSubmissionNotFound
}

func (m *memStore) AddPoints(ctx context.Context, userID string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[userID] += amount
	return nil
}

func (m *memStore) GetInvitationByBattle(ctx context.Context, battleID string) (*db.Invitation, error) {
	return nil, errors.New("no invitation")
}

// memBus records broadcast payloads per battle.
type memBus struct {
	mu       sync.Mutex
	payloads []string
}

func (b *memBus) ToBattle(battleID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, string(payload))
}

func (b *memBus) ToBattleUser(battleID, userID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, string(payload))
}

func (b *memBus) ToUser(userID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, string(payload))
}

func (b *memBus) sawEvent(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	marker := `"type":"` + eventType + `"`
	for _, p := range b.payloads {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

func (b *memBus) countPayload(marker string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.payloads {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

// recordSched records schedules without running them, deduping on key like
// the real runner.
type recordSched struct {
	mu   sync.Mutex
	keys []tasks.Key
	held map[string]bool
}

func newRecordSched() *recordSched {
	return &recordSched{held: make(map[string]bool)}
}

func (s *recordSched) Schedule(key tasks.Key, delay time.Duration, expiry time.Time, fn func(context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key.String()] {
		return false
	}
	s.held[key.String()] = true
	s.keys = append(s.keys, key)
	return true
}

func (s *recordSched) countKind(kind tasks.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.keys {
		if k.Kind == kind {
			n++
		}
	}
	return n
}

type recordGen struct {
	mu       sync.Mutex
	enqueued []string // submission ids
}

func (g *recordGen) Enqueue(battleID string, sub db.Submission, challengeText string, expiry time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enqueued = append(g.enqueued, sub.ID)
}

func (g *recordGen) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.enqueued)
}

type noopJudge struct{}

func (noopJudge) Run(ctx context.Context, battleID string) error { return nil }

type noopAgent struct{}

func (noopAgent) ComposeEntry(ctx context.Context, challengeText string) (string, error) {
	return "", errors.New("agent not configured")
}

type fixture struct {
	store *memStore
	bus   *memBus
	sched *recordSched
	gen   *recordGen
	svc   *Service
}

func newFixture() *fixture {
	return newFixtureConfig(ServiceConfig{
		CountdownSeconds:    3,
		BattleDuration:      3 * time.Minute,
		TimeoutBuffer:       10 * time.Second,
		RevealWindow:        10 * time.Second,
		TurnDuration:        5 * time.Minute,
		AsyncDeadline:       24 * time.Hour,
		MaxExtensions:       3,
		WinnerPoints:        100,
		ParticipationPoints: 25,
		AIOpponentID:        "ai-opponent",
	})
}

func newFixtureConfig(cfg ServiceConfig) *fixture {
	store := newMemStore()
	bus := &memBus{}
	sched := newRecordSched()
	gen := &recordGen{}
	svc := NewService(store, bus, sched, gen, noopJudge{}, noopAgent{}, cfg)
	return &fixture{store: store, bus: bus, sched: sched, gen: gen, svc: svc}
}

func (f *fixture) seedBattle(p phase.Phase) *db.Battle {
	opponent := "user-b"
	b := &db.Battle{
		ID:            "battle-1",
		ChallengerID:  "user-a",
		OpponentID:    &opponent,
		ChallengeText: "A robot learning to paint",
		Status:        phase.StatusFor(p),
		Phase:         p,
		Source:        db.SourceRandom,
		ExpiresAt:     time.Now().Add(30 * time.Minute),
	}
	f.store.CreateBattle(context.Background(), b)
	return b
}

func TestAdmitRejectsStranger(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Waiting)
	if _, err := f.svc.Admit(context.Background(), "battle-1", "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.svc.Admit(context.Background(), "missing", "user-a"); !errors.Is(err, ErrBattleNotFound) {
		t.Fatalf("expected ErrBattleNotFound, got %v", err)
	}
}

func TestBothConnectedStartsCountdown(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Waiting)
	ctx := context.Background()

	if err := f.svc.HandleConnect(ctx, "battle-1", "user-a"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Waiting {
		t.Fatalf("expected waiting with one side connected, got %s", b.Phase)
	}

	if err := f.svc.HandleConnect(ctx, "battle-1", "user-b"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	b, _ = f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Countdown {
		t.Fatalf("expected countdown with both connected, got %s", b.Phase)
	}
	if !f.bus.sawEvent("countdown_start") {
		t.Fatal("expected countdown_start broadcast")
	}
}

func TestDisconnectDuringCountdownRollsBack(t *testing.T) {
	f := newFixture()
	b := f.seedBattle(phase.Countdown)
	ctx := context.Background()
	f.store.SetConnected(ctx, b.ID, "user-a", true)
	f.store.SetConnected(ctx, b.ID, "user-b", true)

	f.svc.HandleDisconnect(ctx, b.ID, "user-b")

	got, _ := f.store.GetBattle(ctx, b.ID)
	if got.Phase != phase.Waiting {
		t.Fatalf("expected rollback to waiting, got %s", got.Phase)
	}
}

func TestCountdownRestartSupersedesOldTicker(t *testing.T) {
	f := newFixtureConfig(ServiceConfig{
		CountdownSeconds: 2,
		BattleDuration:   3 * time.Minute,
		TimeoutBuffer:    10 * time.Second,
	})
	f.seedBattle(phase.Countdown)
	ctx := context.Background()

	if err := f.svc.HandleConnect(ctx, "battle-1", "user-a"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := f.svc.HandleConnect(ctx, "battle-1", "user-b"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	// A reconnect mid-countdown starts a fresh tick sequence; the earlier
	// ticker must retire rather than run alongside it.
	if err := f.svc.HandleConnect(ctx, "battle-1", "user-b"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	deadline := time.Now().Add(6 * time.Second)
	for {
		b, err := f.store.GetBattle(ctx, "battle-1")
		if err != nil {
			t.Fatalf("get battle: %v", err)
		}
		if b.Phase == phase.Active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("countdown never finished, phase %s", b.Phase)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if n := f.bus.countPayload(`"type":"countdown_tick","value":1`); n != 1 {
		t.Fatalf("final tick broadcast %d times, want 1", n)
	}
	if n := f.bus.countPayload(`"type":"phase_change","phase":"active"`); n != 1 {
		t.Fatalf("active phase_change broadcast %d times, want 1", n)
	}
}

func TestSubmitHappyPath(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting a self-portrait in oils")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("expected submission id assigned")
	}
	if f.gen.count() != 1 {
		t.Fatalf("expected one generation enqueue, got %d", f.gen.count())
	}
	if !f.bus.sawEvent("opponent_status") {
		t.Fatal("expected opponent_status broadcast")
	}

	// One submission is not enough to advance the phase.
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Active {
		t.Fatalf("expected still active, got %s", b.Phase)
	}
}

func TestSubmitDeniedOutsideSubmittablePhase(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Waiting)

	_, err := f.svc.Submit(context.Background(), "battle-1", "user-a", "a perfectly fine prompt")
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected *GateError, got %v", err)
	}
	if gateErr.Reason != "waiting for opponent" {
		t.Fatalf("unexpected reason %q", gateErr.Reason)
	}
}

func TestSubmitRejectsChallengeCopy(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)

	_, err := f.svc.Submit(context.Background(), "battle-1", "user-a", "A robot learning to paint")
	if !errors.Is(err, ErrCopyPaste) {
		t.Fatalf("expected ErrCopyPaste, got %v", err)
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "battle-1", "user-a", "first entry about robots"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.svc.Submit(ctx, "battle-1", "user-a", "second entry about robots")
	var gateErr *GateError
	if !errors.As(err, &gateErr) || gateErr.Reason != "already submitted" {
		t.Fatalf("expected already-submitted gate error, got %v", err)
	}
}

func TestSecondSubmissionMovesToGenerating(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting the sea"); err != nil {
		t.Fatalf("challenger submit: %v", err)
	}
	if _, err := f.svc.Submit(ctx, "battle-1", "user-b", "a robot sketching mountains"); err != nil {
		t.Fatalf("opponent submit: %v", err)
	}

	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Generating {
		t.Fatalf("expected generating after both submit, got %s", b.Phase)
	}
	if !f.bus.sawEvent("phase_change") {
		t.Fatal("expected phase_change broadcast")
	}
}

func TestChallengerTurnHandoff(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.ChallengerTurn)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting the sea"); err != nil {
		t.Fatalf("challenger submit: %v", err)
	}

	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.OpponentTurn {
		t.Fatalf("expected opponent_turn after handoff, got %s", b.Phase)
	}
	if b.CurrentTurnUserID == nil || *b.CurrentTurnUserID != "user-b" {
		t.Fatalf("expected turn to pass to user-b, got %v", b.CurrentTurnUserID)
	}
	if b.TurnExpiresAt == nil {
		t.Fatal("expected turn deadline set")
	}
}

func TestHandleGeneratedDualTriggerAdvancesOnce(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	subA, err := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting the sea")
	if err != nil {
		t.Fatalf("challenger submit: %v", err)
	}
	subB, err := f.svc.Submit(ctx, "battle-1", "user-b", "a robot sketching mountains")
	if err != nil {
		t.Fatalf("opponent submit: %v", err)
	}
	f.store.SetGeneratedOutput(ctx, subA.ID, "https://img.example/a.png")
	f.store.SetGeneratedOutput(ctx, subB.ID, "https://img.example/b.png")

	// Both workers report completion; only one may win the transition.
	if err := f.svc.HandleGenerated(ctx, "battle-1"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := f.svc.HandleGenerated(ctx, "battle-1"); err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Judging {
		t.Fatalf("expected judging, got %s", b.Phase)
	}
	if n := f.sched.countKind(tasks.KindJudging); n != 1 {
		t.Fatalf("expected exactly one judging task, got %d", n)
	}
}

func TestHandleGeneratedWaitsForBothOutputs(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	subA, _ := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting the sea")
	f.svc.Submit(ctx, "battle-1", "user-b", "a robot sketching mountains")
	f.store.SetGeneratedOutput(ctx, subA.ID, "https://img.example/a.png")

	if err := f.svc.HandleGenerated(ctx, "battle-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Generating {
		t.Fatalf("expected still generating with one output, got %s", b.Phase)
	}
}

func TestResolveTimeoutNoSubmissionsCancels(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	if err := f.svc.ResolveTimeout(ctx, "battle-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Complete || b.Status != phase.StatusCancelled {
		t.Fatalf("expected cancelled completion, got phase=%s status=%s", b.Phase, b.Status)
	}
	if !f.bus.sawEvent("battle_cancelled") {
		t.Fatal("expected battle_cancelled broadcast")
	}
}

func TestResolveTimeoutSingleSubmissionForfeits(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, "battle-1", "user-a", "a robot painting the sea"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.ResolveTimeout(ctx, "battle-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Complete || b.Status != phase.StatusCompleted {
		t.Fatalf("expected completed, got phase=%s status=%s", b.Phase, b.Status)
	}
	if b.WinnerID == nil || *b.WinnerID != "user-a" {
		t.Fatalf("expected user-a to win by forfeit, got %v", b.WinnerID)
	}
	if f.store.points["user-a"] != 100 {
		t.Fatalf("expected winner points, got %d", f.store.points["user-a"])
	}
	if !f.bus.sawEvent("battle_forfeit") {
		t.Fatal("expected battle_forfeit broadcast")
	}
}

func TestResolveTimeoutSkipsJudgingPhase(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Judging)
	ctx := context.Background()

	if err := f.svc.ResolveTimeout(ctx, "battle-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Judging {
		t.Fatalf("timeout must not touch a judging battle, got %s", b.Phase)
	}
}

func TestExpireBattleTerminatesStaleBattle(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.Active)
	ctx := context.Background()

	if err := f.svc.ExpireBattle(ctx, "battle-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := f.store.GetBattle(ctx, "battle-1")
	if b.Phase != phase.Complete || b.Status != phase.StatusExpired {
		t.Fatalf("expected expired completion, got phase=%s status=%s", b.Phase, b.Status)
	}
	if !f.bus.sawEvent("battle_cancelled") {
		t.Fatal("expected battle_cancelled broadcast")
	}
}

func TestExpireBattleLeavesPipelinePhasesAlone(t *testing.T) {
	for _, p := range []phase.Phase{phase.Generating, phase.Judging, phase.Reveal} {
		f := newFixture()
		f.seedBattle(p)
		ctx := context.Background()

		if err := f.svc.ExpireBattle(ctx, "battle-1"); err != nil {
			t.Fatalf("phase %s: unexpected error: %v", p, err)
		}
		b, _ := f.store.GetBattle(ctx, "battle-1")
		if b.Phase != p {
			t.Errorf("phase %s: expiry must not touch pipeline battle, got %s", p, b.Phase)
		}
		if f.bus.sawEvent("battle_cancelled") {
			t.Errorf("phase %s: pipeline battle wrongly cancelled", p)
		}
	}
}

func TestExpiredRevealStillPaysWinner(t *testing.T) {
	f := newFixture()
	b := f.seedBattle(phase.Reveal)
	ctx := context.Background()
	f.store.SetWinner(ctx, b.ID, "user-b")

	// The hard deadline passing after judging must not strand the result.
	if err := f.svc.ExpireBattle(ctx, b.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := f.svc.CompleteBattle(ctx, b.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := f.store.GetBattle(ctx, b.ID)
	if got.Status != phase.StatusCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
	if f.store.points["user-b"] != 100 {
		t.Fatalf("winner points = %d, want 100", f.store.points["user-b"])
	}
	if f.store.points["user-a"] != 25 {
		t.Fatalf("participation points = %d, want 25", f.store.points["user-a"])
	}
}

func TestCompleteBattleAwardsPoints(t *testing.T) {
	f := newFixture()
	b := f.seedBattle(phase.Reveal)
	ctx := context.Background()
	f.store.SetWinner(ctx, b.ID, "user-b")

	if err := f.svc.CompleteBattle(ctx, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := f.store.GetBattle(ctx, b.ID)
	if got.Phase != phase.Complete || got.Status != phase.StatusCompleted {
		t.Fatalf("expected completed, got phase=%s status=%s", got.Phase, got.Status)
	}
	if f.store.points["user-b"] != 100 {
		t.Fatalf("winner points = %d, want 100", f.store.points["user-b"])
	}
	if f.store.points["user-a"] != 25 {
		t.Fatalf("participation points = %d, want 25", f.store.points["user-a"])
	}
	if !f.bus.sawEvent("battle_complete") {
		t.Fatal("expected battle_complete broadcast")
	}
}

func TestCompleteBattleIdempotent(t *testing.T) {
	f := newFixture()
	b := f.seedBattle(phase.Reveal)
	ctx := context.Background()
	f.store.SetWinner(ctx, b.ID, "user-b")

	if err := f.svc.CompleteBattle(ctx, b.ID); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := f.svc.CompleteBattle(ctx, b.ID); err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if f.store.points["user-b"] != 100 {
		t.Fatalf("points double-awarded: %d", f.store.points["user-b"])
	}
}

func TestExtendDeadlineCapped(t *testing.T) {
	f := newFixture()
	f.seedBattle(phase.ChallengerTurn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := f.svc.ExtendDeadline(ctx, "battle-1", "user-a")
		if err != nil || !ok {
			t.Fatalf("extension %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := f.svc.ExtendDeadline(ctx, "battle-1", "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected fourth extension to be refused")
	}

	if _, err := f.svc.ExtendDeadline(ctx, "battle-1", "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}
