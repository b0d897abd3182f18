// Package matchmaking pairs users into battles: random queue pairing under
// a skip-locked claim, instant AI matches, and targeted active-user
// invitations.
package matchmaking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/phase"
	"github.com/promptclash/promptclash-backend/internal/store"
)

// Expected, non-exceptional outcomes. Callers translate these into "keep
// waiting" responses, not failures.
var (
	ErrNoOpponent   = errors.New("no eligible opponent")
	ErrNoChallenge  = errors.New("no active prompt available")
	ErrNoCandidates = errors.New("no recently active users available")
)

type Config struct {
	QueueEntryTTL    time.Duration
	BattleExpiry     time.Duration
	InvitationTTL    time.Duration
	AIOpponentID     string
	ActiveUserWindow time.Duration
	ActiveUserTopN   int
}

type Service struct {
	db    *sql.DB
	store *store.Postgres
	bus   events.Broadcaster
	cfg   Config
	// intn picks among the top-N active-user candidates; overridable in
	// tests.
	intn func(n int) int
}

func NewService(sqlDB *sql.DB, st *store.Postgres, bus events.Broadcaster, cfg Config) *Service {
	return &Service{
		db:    sqlDB,
		store: st,
		bus:   bus,
		cfg:   cfg,
		intn:  rand.Intn,
	}
}

// MatchResult is the pairing outcome of a successful random match.
type MatchResult struct {
	BattleID     string
	ChallengerID string
	OpponentID   string
}

// JoinQueue upserts the caller's single queue entry with a fresh expiry
// window; re-joining replaces the prior entry.
func (s *Service) JoinQueue(ctx context.Context, userID string, matchType db.MatchSource) (*db.QueueEntry, error) {
	entry := &db.QueueEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		MatchType: matchType,
		QueuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(s.cfg.QueueEntryTTL),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matchmaking_queue (id, user_id, match_type, queued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET match_type = EXCLUDED.match_type,
		    queued_at = EXCLUDED.queued_at,
		    expires_at = EXCLUDED.expires_at`,
		entry.ID, entry.UserID, entry.MatchType, entry.QueuedAt, entry.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to join queue: %w", err)
	}
	return entry, nil
}

func (s *Service) LeaveQueue(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM matchmaking_queue WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to leave queue: %w", err)
	}
	return nil
}

// QueueStatus reports whether userID is queued, their position (1-based
// among unexpired entries), and the entry's expiry.
func (s *Service) QueueStatus(ctx context.Context, userID string) (bool, int, *time.Time, error) {
	var queuedAt, expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT queued_at, expires_at FROM matchmaking_queue WHERE user_id = $1 AND expires_at > now()",
		userID,
	).Scan(&queuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil, nil
	}
	if err != nil {
		return false, 0, nil, err
	}
	var ahead int
	err = s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM matchmaking_queue WHERE expires_at > now() AND queued_at < $1",
		queuedAt,
	).Scan(&ahead)
	if err != nil {
		return false, 0, nil, err
	}
	return true, ahead + 1, &expiresAt, nil
}

// FindRandomMatch attempts to pair the caller with the oldest unexpired
// queued user. The whole pairing is one transaction: the waiting entry is
// claimed with FOR UPDATE SKIP LOCKED (so two simultaneous matchers can
// never claim the same entry), deleted before the battle insert, and the
// chosen challenge's usage counter is bumped. ErrNoOpponent means the
// caller should be enqueued instead; ErrNoChallenge means no active prompt
// exists.
func (s *Service) FindRandomMatch(ctx context.Context, userID string) (*MatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pairing transaction: %w", err)
	}
	defer tx.Rollback()

	var entryID, opponentID string
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id FROM matchmaking_queue
		WHERE user_id <> $1 AND expires_at > now()
		ORDER BY queued_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		userID,
	).Scan(&entryID, &opponentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpponent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}

	challengeID, challengeText, err := randomActiveChallenge(ctx, tx)
	if err != nil {
		return nil, err
	}

	// Delete the claimed entry before creating the battle: if the insert
	// fails the transaction rolls back and the opponent stays queued.
	if _, err := tx.ExecContext(ctx, "DELETE FROM matchmaking_queue WHERE id = $1", entryID); err != nil {
		return nil, fmt.Errorf("failed to remove claimed entry: %w", err)
	}

	battleID := uuid.NewString()
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO battles (id, challenger_id, opponent_id, challenge_id, challenge_text,
			status, phase, source, created_at, phase_changed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		battleID, userID, opponentID, challengeID, challengeText,
		phase.StatusPending, phase.Waiting, db.SourceRandom, now, now, now.Add(s.cfg.BattleExpiry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create battle: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE challenges SET usage_count = usage_count + 1 WHERE id = $1", challengeID); err != nil {
		return nil, fmt.Errorf("failed to bump challenge usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pairing: %w", err)
	}

	result := &MatchResult{BattleID: battleID, ChallengerID: userID, OpponentID: opponentID}
	// The waiting party learns about the match over their matchmaking
	// channel.
	s.bus.ToUser(opponentID, events.MatchFound(battleID, userID))
	return result, nil
}

// InstantAIMatch synchronously books a battle against the AI opponent; no
// queue interaction.
func (s *Service) InstantAIMatch(ctx context.Context, userID string) (*db.Battle, error) {
	challengeID, challengeText, err := randomActiveChallenge(ctx, s.db)
	if err != nil {
		return nil, err
	}
	aiID := s.cfg.AIOpponentID
	b := &db.Battle{
		ChallengerID:  userID,
		OpponentID:    &aiID,
		ChallengeID:   &challengeID,
		ChallengeText: challengeText,
		Status:        phase.StatusPending,
		Phase:         phase.Waiting,
		Source:        db.SourceAI,
		ExpiresAt:     time.Now().Add(s.cfg.BattleExpiry),
	}
	if err := s.store.CreateBattle(ctx, b); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE challenges SET usage_count = usage_count + 1 WHERE id = $1", challengeID); err != nil {
		log.Printf("Failed to bump challenge usage for battle %s: %v", b.ID, err)
	}
	// The AI side is always "present"; marking it connected means the
	// battle starts as soon as the human connects.
	if err := s.store.SetConnected(ctx, b.ID, aiID, true); err != nil {
		log.Printf("Failed to mark AI opponent connected for battle %s: %v", b.ID, err)
	}
	return b, nil
}

// ActiveUserMatch creates a battle with a null opponent and a targeted
// invitation for a recently active, available user who is not already in a
// battle. The candidate is picked uniformly at random among the top-N most
// recently active, and notified out-of-band.
func (s *Service) ActiveUserMatch(ctx context.Context, userID string) (*db.Battle, *db.Invitation, error) {
	candidates, err := s.activeCandidates(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, ErrNoCandidates
	}
	candidate := candidates[s.intn(len(candidates))]

	challengeID, challengeText, err := randomActiveChallenge(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}

	b := &db.Battle{
		ChallengerID:  userID,
		ChallengeID:   &challengeID,
		ChallengeText: challengeText,
		Status:        phase.StatusPending,
		Phase:         phase.Waiting,
		Source:        db.SourceDirect,
		ExpiresAt:     time.Now().Add(s.cfg.BattleExpiry),
	}
	if err := s.store.CreateBattle(ctx, b); err != nil {
		return nil, nil, err
	}

	inv := &db.Invitation{
		BattleID:    b.ID,
		SenderID:    userID,
		RecipientID: &candidate,
		Status:      db.InvitePending,
		ExpiresAt:   time.Now().Add(s.cfg.InvitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, nil, err
	}

	// Push rather than poll: the candidate gets a battle-invitation event
	// on their matchmaking channel.
	s.bus.ToUser(candidate, events.BattleInvitation(b.ID, userID))
	return b, inv, nil
}

// CreateLinkBattle books a battle with a null opponent and an open (link)
// invitation the challenger can share before anyone has joined.
func (s *Service) CreateLinkBattle(ctx context.Context, userID, opponentName string) (*db.Battle, *db.Invitation, error) {
	challengeID, challengeText, err := randomActiveChallenge(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}
	b := &db.Battle{
		ChallengerID:  userID,
		ChallengeID:   &challengeID,
		ChallengeText: challengeText,
		Status:        phase.StatusPending,
		Phase:         phase.Waiting,
		Source:        db.SourceInvitation,
		ExpiresAt:     time.Now().Add(s.cfg.BattleExpiry),
	}
	if err := s.store.CreateBattle(ctx, b); err != nil {
		return nil, nil, err
	}
	inv := &db.Invitation{
		BattleID:     b.ID,
		SenderID:     userID,
		OpponentName: opponentName,
		Status:       db.InvitePending,
		ExpiresAt:    time.Now().Add(s.cfg.InvitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, nil, err
	}
	return b, inv, nil
}

// activeCandidates returns the top-N most recently seen users who opted
// into availability and are not already in a pending/active battle.
func (s *Service) activeCandidates(ctx context.Context, excludeUserID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id FROM users u
		WHERE u.id <> $1
		  AND u.available_for_battle
		  AND u.last_seen_at > now() - interval '1 second' * $2
		  AND NOT EXISTS (
			SELECT 1 FROM battles b
			WHERE b.status IN ('pending', 'active')
			  AND (b.challenger_id = u.id OR b.opponent_id = u.id)
		  )
		ORDER BY u.last_seen_at DESC
		LIMIT $3`,
		excludeUserID, int(s.cfg.ActiveUserWindow.Seconds()), s.cfg.ActiveUserTopN,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func randomActiveChallenge(ctx context.Context, q querier) (string, string, error) {
	var id, text string
	err := q.QueryRowContext(ctx,
		"SELECT id, text FROM challenges WHERE active ORDER BY random() LIMIT 1",
	).Scan(&id, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNoChallenge
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to pick challenge: %w", err)
	}
	return id, text, nil
}
