package battle

import (
	"context"
	"errors"
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/phase"
)

var (
	ErrBattleNotFound     = errors.New("battle not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadySubmitted   = errors.New("already submitted")
)

// Store is the persistence surface the coordinator needs. Coordinator
// instances on different processes agree only through these operations and
// the broadcast bus; there is no shared in-memory battle state.
type Store interface {
	GetBattle(ctx context.Context, id string) (*db.Battle, error)
	CreateBattle(ctx context.Context, b *db.Battle) error

	// CompareAndSetPhase moves the battle from -> to in a single guarded
	// update (phase must still equal from, and the battle must not have
	// been cancelled or expired). It also refreshes phase_changed_at and
	// derives status from the new phase. Returns false when another
	// coordinator instance won the transition.
	CompareAndSetPhase(ctx context.Context, battleID string, from, to phase.Phase) (bool, error)

	// MarkStarted sets started_at and expires_at only if not already set.
	MarkStarted(ctx context.Context, battleID string, startedAt, expiresAt time.Time) error
	// MarkCompleted stamps completed_at and the terminal status.
	MarkCompleted(ctx context.Context, battleID string, status phase.Status) error

	SetConnected(ctx context.Context, battleID, userID string, connected bool) error
	SetCurrentTurn(ctx context.Context, battleID string, userID *string, turnExpiresAt *time.Time) error
	SetWinner(ctx context.Context, battleID, winnerID string) error
	// ExtendAsyncDeadline pushes the async deadline out, capped at
	// maxExtensions; reports whether an extension was applied.
	ExtendAsyncDeadline(ctx context.Context, battleID string, deadline time.Time, maxExtensions int) (bool, error)

	CreateSubmission(ctx context.Context, s *db.Submission) error
	GetSubmission(ctx context.Context, battleID, userID string) (*db.Submission, error)
	ListSubmissions(ctx context.Context, battleID string) ([]db.Submission, error)
	SetGeneratedOutput(ctx context.Context, submissionID, url string) error

	AddPoints(ctx context.Context, userID string, amount int) error

	GetInvitationByBattle(ctx context.Context, battleID string) (*db.Invitation, error)
}
