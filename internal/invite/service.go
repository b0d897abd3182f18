// Package invite handles battle invitations: direct links, SMS shares, and
// targeted active-user pings. Accepting is the only way a null opponent
// becomes bound.
package invite

import (
	"context"
	"errors"
	"time"

	"github.com/promptclash/promptclash-backend/db"
)

var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrAlreadyAccepted    = errors.New("invitation already accepted")
	ErrOwnInvitation      = errors.New("cannot accept your own invitation")
)

// Store is the persistence surface invitations need.
type Store interface {
	GetBattle(ctx context.Context, id string) (*db.Battle, error)
	GetInvitation(ctx context.Context, id string) (*db.Invitation, error)
	CreateInvitation(ctx context.Context, inv *db.Invitation) error
	ClaimInvitation(ctx context.Context, invitationID, userID string) (bool, error)
	SetInvitationStatus(ctx context.Context, id string, status db.InvitationStatus) error
	BindOpponent(ctx context.Context, battleID, userID string) (bool, error)
}

type Service struct {
	store Store
	ttl   time.Duration
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// CreateForBattle issues an open (link) invitation for a battle the sender
// created, optionally carrying a friendly display name for the expected
// opponent.
func (s *Service) CreateForBattle(ctx context.Context, battleID, senderID, opponentName string) (*db.Invitation, error) {
	inv := &db.Invitation{
		BattleID:     battleID,
		SenderID:     senderID,
		OpponentName: opponentName,
		Status:       db.InvitePending,
		ExpiresAt:    time.Now().Add(s.ttl),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Accept binds userID as the battle's opponent. Reopening the same link
// with the same identity returns the same battle unchanged; a different
// identity after someone has joined is rejected.
func (s *Service) Accept(ctx context.Context, invitationID, userID string) (*db.Battle, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, ErrInvitationNotFound
	}
	if inv.SenderID == userID {
		return nil, ErrOwnInvitation
	}

	switch inv.Status {
	case db.InviteAccepted:
		if inv.RecipientID != nil && *inv.RecipientID == userID {
			// Idempotent re-accept.
			return s.store.GetBattle(ctx, inv.BattleID)
		}
		return nil, ErrAlreadyAccepted
	case db.InviteDeclined, db.InviteExpired:
		return nil, ErrInvitationExpired
	}

	if time.Now().After(inv.ExpiresAt) {
		if err := s.store.SetInvitationStatus(ctx, inv.ID, db.InviteExpired); err == nil {
			return nil, ErrInvitationExpired
		}
		return nil, ErrInvitationExpired
	}

	claimed, err := s.store.ClaimInvitation(ctx, inv.ID, userID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the claim race; re-read to distinguish "same identity
		// already accepted" from "someone else got here first".
		fresh, err := s.store.GetInvitation(ctx, inv.ID)
		if err != nil {
			return nil, ErrInvitationNotFound
		}
		if fresh.Status == db.InviteAccepted && fresh.RecipientID != nil && *fresh.RecipientID == userID {
			return s.store.GetBattle(ctx, inv.BattleID)
		}
		return nil, ErrAlreadyAccepted
	}

	bound, err := s.store.BindOpponent(ctx, inv.BattleID, userID)
	if err != nil {
		return nil, err
	}
	if !bound {
		b, err := s.store.GetBattle(ctx, inv.BattleID)
		if err != nil {
			return nil, err
		}
		if b.OpponentID == nil || *b.OpponentID != userID {
			return nil, ErrAlreadyAccepted
		}
		return b, nil
	}
	return s.store.GetBattle(ctx, inv.BattleID)
}

// Decline marks a targeted invitation declined.
func (s *Service) Decline(ctx context.Context, invitationID, userID string) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return ErrInvitationNotFound
	}
	if inv.RecipientID != nil && *inv.RecipientID != userID {
		return ErrInvitationNotFound
	}
	if inv.Status != db.InvitePending {
		return nil
	}
	return s.store.SetInvitationStatus(ctx, inv.ID, db.InviteDeclined)
}
