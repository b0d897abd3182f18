// Package store is the Postgres persistence layer. Everything that guards
// against concurrent coordinator instances lives here: compare-and-set
// phase updates, partial-field connection updates, and the unique
// submission constraint.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/battle"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

type Postgres struct {
	DB *sql.DB
}

func NewPostgres(sqlDB *sql.DB) *Postgres {
	return &Postgres{DB: sqlDB}
}

const battleColumns = `id, challenger_id, opponent_id, challenge_id, challenge_text,
	status, phase, source, challenger_connected, opponent_connected,
	current_turn_user_id, winner_id, created_at, started_at, phase_changed_at,
	expires_at, completed_at, turn_expires_at, async_deadline, extension_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBattle(row rowScanner) (*db.Battle, error) {
	var b db.Battle
	var opponentID, challengeID, turnUserID, winnerID sql.NullString
	var startedAt, completedAt, turnExpiresAt, asyncDeadline sql.NullTime
	err := row.Scan(
		&b.ID, &b.ChallengerID, &opponentID, &challengeID, &b.ChallengeText,
		&b.Status, &b.Phase, &b.Source, &b.ChallengerConnected, &b.OpponentConnected,
		&turnUserID, &winnerID, &b.CreatedAt, &startedAt, &b.PhaseChangedAt,
		&b.ExpiresAt, &completedAt, &turnExpiresAt, &asyncDeadline, &b.ExtensionCount,
	)
	if err != nil {
		return nil, err
	}
	if opponentID.Valid {
		b.OpponentID = &opponentID.String
	}
	if challengeID.Valid {
		b.ChallengeID = &challengeID.String
	}
	if turnUserID.Valid {
		b.CurrentTurnUserID = &turnUserID.String
	}
	if winnerID.Valid {
		b.WinnerID = &winnerID.String
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	if turnExpiresAt.Valid {
		b.TurnExpiresAt = &turnExpiresAt.Time
	}
	if asyncDeadline.Valid {
		b.AsyncDeadline = &asyncDeadline.Time
	}
	return &b, nil
}

func (p *Postgres) GetBattle(ctx context.Context, id string) (*db.Battle, error) {
	row := p.DB.QueryRowContext(ctx, "SELECT "+battleColumns+" FROM battles WHERE id = $1", id)
	b, err := scanBattle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, battle.ErrBattleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load battle %s: %w", id, err)
	}
	return b, nil
}

func (p *Postgres) CreateBattle(ctx context.Context, b *db.Battle) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now()
	b.CreatedAt = now
	b.PhaseChangedAt = now
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO battles (id, challenger_id, opponent_id, challenge_id, challenge_text,
			status, phase, source, current_turn_user_id, created_at, phase_changed_at,
			expires_at, turn_expires_at, async_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		b.ID, b.ChallengerID, b.OpponentID, b.ChallengeID, b.ChallengeText,
		b.Status, b.Phase, b.Source, b.CurrentTurnUserID, b.CreatedAt, b.PhaseChangedAt,
		b.ExpiresAt, b.TurnExpiresAt, b.AsyncDeadline,
	)
	if err != nil {
		return fmt.Errorf("failed to create battle: %w", err)
	}
	return nil
}

func (p *Postgres) CompareAndSetPhase(ctx context.Context, battleID string, from, to phase.Phase) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE battles
		SET phase = $3, status = $4, phase_changed_at = now()
		WHERE id = $1 AND phase = $2 AND status NOT IN ('cancelled', 'expired')`,
		battleID, from, to, phase.StatusFor(to),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition battle %s: %w", battleID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *Postgres) MarkStarted(ctx context.Context, battleID string, startedAt, expiresAt time.Time) error {
	// Both CASE expressions read the pre-update row, so an already-started
	// battle keeps its original timestamps.
	_, err := p.DB.ExecContext(ctx, `
		UPDATE battles
		SET expires_at = CASE WHEN started_at IS NULL THEN $3 ELSE expires_at END,
		    started_at = COALESCE(started_at, $2)
		WHERE id = $1`,
		battleID, startedAt, expiresAt,
	)
	return err
}

func (p *Postgres) MarkCompleted(ctx context.Context, battleID string, status phase.Status) error {
	_, err := p.DB.ExecContext(ctx, `
		UPDATE battles
		SET status = $2, completed_at = COALESCE(completed_at, now())
		WHERE id = $1`,
		battleID, status,
	)
	return err
}

func (p *Postgres) SetConnected(ctx context.Context, battleID, userID string, connected bool) error {
	// Atomic per-participant field update; never a full-row rewrite, so two
	// concurrent connects cannot clobber each other's flag.
	_, err := p.DB.ExecContext(ctx, `
		UPDATE battles
		SET challenger_connected = CASE WHEN challenger_id = $2 THEN $3 ELSE challenger_connected END,
		    opponent_connected   = CASE WHEN opponent_id   = $2 THEN $3 ELSE opponent_connected END
		WHERE id = $1`,
		battleID, userID, connected,
	)
	return err
}

func (p *Postgres) SetCurrentTurn(ctx context.Context, battleID string, userID *string, turnExpiresAt *time.Time) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE battles SET current_turn_user_id = $2, turn_expires_at = $3 WHERE id = $1",
		battleID, userID, turnExpiresAt,
	)
	return err
}

func (p *Postgres) SetWinner(ctx context.Context, battleID, winnerID string) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE battles SET winner_id = $2 WHERE id = $1", battleID, winnerID)
	return err
}

func (p *Postgres) ExtendAsyncDeadline(ctx context.Context, battleID string, deadline time.Time, maxExtensions int) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE battles
		SET async_deadline = $2, extension_count = extension_count + 1
		WHERE id = $1 AND extension_count < $3`,
		battleID, deadline, maxExtensions,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *Postgres) CreateSubmission(ctx context.Context, s *db.Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO submissions (id, battle_id, user_id, prompt_text, sanitized_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.BattleID, s.UserID, s.PromptText, s.SanitizedText, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return battle.ErrAlreadySubmitted
		}
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

const submissionColumns = `id, battle_id, user_id, prompt_text, sanitized_text,
	generated_url, scores, aggregate_score, feedback, created_at, updated_at`

func scanSubmission(row rowScanner) (*db.Submission, error) {
	var s db.Submission
	var scoresJSON []byte
	var aggregate sql.NullFloat64
	err := row.Scan(
		&s.ID, &s.BattleID, &s.UserID, &s.PromptText, &s.SanitizedText,
		&s.GeneratedURL, &scoresJSON, &aggregate, &s.Feedback, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &s.Scores); err != nil {
			return nil, fmt.Errorf("failed to decode scores for submission %s: %w", s.ID, err)
		}
	}
	if aggregate.Valid {
		s.AggregateScore = &aggregate.Float64
	}
	return &s, nil
}

func (p *Postgres) GetSubmission(ctx context.Context, battleID, userID string) (*db.Submission, error) {
	row := p.DB.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE battle_id = $1 AND user_id = $2",
		battleID, userID,
	)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, battle.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Postgres) ListSubmissions(ctx context.Context, battleID string) ([]db.Submission, error) {
	rows, err := p.DB.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE battle_id = $1 ORDER BY created_at",
		battleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []db.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (p *Postgres) SetGeneratedOutput(ctx context.Context, submissionID, url string) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE submissions SET generated_url = $2, updated_at = now() WHERE id = $1",
		submissionID, url,
	)
	return err
}

func (p *Postgres) SetSubmissionScores(ctx context.Context, submissionID string, scores map[string]float64, aggregate float64, feedback string) error {
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	_, err = p.DB.ExecContext(ctx, `
		UPDATE submissions
		SET scores = $2, aggregate_score = $3, feedback = $4, updated_at = now()
		WHERE id = $1`,
		submissionID, scoresJSON, aggregate, feedback,
	)
	return err
}

func (p *Postgres) AddPoints(ctx context.Context, userID string, amount int) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE users SET points = points + $2 WHERE id = $1", userID, amount)
	return err
}

// Invitations

func (p *Postgres) CreateInvitation(ctx context.Context, inv *db.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = time.Now()
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO invitations (id, battle_id, sender_id, recipient_id, opponent_name, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.BattleID, inv.SenderID, inv.RecipientID, inv.OpponentName, inv.Status, inv.CreatedAt, inv.ExpiresAt,
	)
	return err
}

const invitationColumns = "id, battle_id, sender_id, recipient_id, opponent_name, status, created_at, expires_at"

func scanInvitation(row rowScanner) (*db.Invitation, error) {
	var inv db.Invitation
	var recipient sql.NullString
	err := row.Scan(&inv.ID, &inv.BattleID, &inv.SenderID, &recipient,
		&inv.OpponentName, &inv.Status, &inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if recipient.Valid {
		inv.RecipientID = &recipient.String
	}
	return &inv, nil
}

func (p *Postgres) GetInvitation(ctx context.Context, id string) (*db.Invitation, error) {
	row := p.DB.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE id = $1", id)
	return scanInvitation(row)
}

func (p *Postgres) GetInvitationByBattle(ctx context.Context, battleID string) (*db.Invitation, error) {
	row := p.DB.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE battle_id = $1 ORDER BY created_at DESC LIMIT 1",
		battleID,
	)
	return scanInvitation(row)
}

// ClaimInvitation binds the accepting identity while the invitation is
// still pending and unexpired. Returns false when another identity already
// holds it.
func (p *Postgres) ClaimInvitation(ctx context.Context, invitationID, userID string) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE invitations
		SET status = 'accepted', recipient_id = $2
		WHERE id = $1 AND status = 'pending' AND expires_at > now()
		  AND (recipient_id IS NULL OR recipient_id = $2)`,
		invitationID, userID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *Postgres) SetInvitationStatus(ctx context.Context, id string, status db.InvitationStatus) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE invitations SET status = $2 WHERE id = $1", id, status)
	return err
}

// BindOpponent fills the null opponent slot exactly once.
func (p *Postgres) BindOpponent(ctx context.Context, battleID, userID string) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE battles SET opponent_id = $2
		WHERE id = $1 AND opponent_id IS NULL AND challenger_id <> $2`,
		battleID, userID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Sweeper queries

func (p *Postgres) DeleteExpiredQueueEntries(ctx context.Context) (int64, error) {
	res, err := p.DB.ExecContext(ctx,
		"DELETE FROM matchmaking_queue WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiredBattles returns ids of battles past their hard expiry that are
// still waiting on participants. Battles already in the generation/judging
// pipeline are excluded: those phases are governed by the stall windows and
// the reveal task, not the submission deadline.
func (p *Postgres) ListExpiredBattles(ctx context.Context) ([]string, error) {
	return p.listBattleIDs(ctx, `
		SELECT id FROM battles
		WHERE status IN ('pending', 'active')
		  AND phase NOT IN ('generating', 'judging', 'reveal', 'complete')
		  AND expires_at <= now()`)
}

// ListStalledBattles returns ids of active battles that have sat in the
// given phase for longer than the stall window.
func (p *Postgres) ListStalledBattles(ctx context.Context, ph phase.Phase, stalledFor time.Duration) ([]string, error) {
	return p.listBattleIDs(ctx, `
		SELECT id FROM battles
		WHERE phase = $1 AND status = 'active'
		  AND phase_changed_at <= now() - interval '1 second' * $2`,
		string(ph), int(stalledFor.Seconds()))
}

func (p *Postgres) listBattleIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
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

// GetCriteriaForBattle resolves the weighted criteria of the battle's
// challenge type. Returns nil when the battle has no challenge type, in
// which case callers fall back to the default criteria set.
func (p *Postgres) GetCriteriaForBattle(ctx context.Context, battleID string) ([]db.Criterion, error) {
	var criteriaJSON []byte
	err := p.DB.QueryRowContext(ctx, `
		SELECT ct.criteria
		FROM battles b
		JOIN challenges c ON c.id = b.challenge_id
		JOIN challenge_types ct ON ct.id = c.challenge_type_id
		WHERE b.id = $1`,
		battleID,
	).Scan(&criteriaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var criteria []db.Criterion
	if err := json.Unmarshal(criteriaJSON, &criteria); err != nil {
		return nil, fmt.Errorf("failed to decode criteria for battle %s: %w", battleID, err)
	}
	return criteria, nil
}

// TouchUser refreshes last-seen for active-user matchmaking eligibility.
func (p *Postgres) TouchUser(ctx context.Context, userID string) error {
	_, err := p.DB.ExecContext(ctx,
		"UPDATE users SET last_seen_at = now() WHERE id = $1", userID)
	return err
}
