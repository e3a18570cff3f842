package invites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
)

type Service interface {
	Issue(ctx context.Context, groupID, userID string) (string, error)
	HandleJoin(ctx context.Context, groupID, userID string) error
	// Revoke kills the user's outstanding invite for the group, if any.
	Revoke(ctx context.Context, groupID, userID string) error
}

type inviteStore interface {
	Put(ctx context.Context, inv *domain.InviteRecord) error
	Get(ctx context.Context, groupID, userID string) (*domain.InviteRecord, error)
	Claim(ctx context.Context, groupID, userID string) error
	UpdateStatus(ctx context.Context, groupID, userID string, status domain.InviteStatus) error
}

type userStore interface {
	Get(ctx context.Context, groupID, userID string) (*domain.UserRecord, error)
}

type linkStore interface {
	GetByGroup(ctx context.Context, groupID string) (*domain.VerificationLink, error)
}

type gateway interface {
	CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time) (string, error)
	RevokeInviteLink(ctx context.Context, chatID, link string) error
	KickMember(ctx context.Context, chatID, userID string) error
	SendMessage(ctx context.Context, chatID, text string) error
}

type service struct {
	invites     inviteStore
	users       userStore
	links       linkStore
	gw          gateway
	ttl         time.Duration
	ownerUserID string
	botUsername string
	log         *zap.Logger
}

type ServiceDeps struct {
	InviteRepo  inviteStore
	UserRepo    userStore
	LinkRepo    linkStore
	Gateway     gateway
	InviteTTL   time.Duration
	OwnerUserID string
	BotUsername string
	Logger      *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		invites:     deps.InviteRepo,
		users:       deps.UserRepo,
		links:       deps.LinkRepo,
		gw:          deps.Gateway,
		ttl:         deps.InviteTTL,
		ownerUserID: deps.OwnerUserID,
		botUsername: deps.BotUsername,
		log:         deps.Logger,
	}
}

// Issue mints a fresh single-use invite for one verification event. Any
// outstanding invite for the same (group, user) pair is revoked first so at
// most one consumable invite exists per pair.
func (s *service) Issue(ctx context.Context, groupID, userID string) (string, error) {
	now := time.Now().UTC()
	if prev, err := s.invites.Get(ctx, groupID, userID); err == nil && prev.Outstanding(now) {
		if err := s.gw.RevokeInviteLink(ctx, groupID, prev.InviteLink); err != nil {
			s.log.Warn("could not revoke superseded invite",
				zap.String("group_id", groupID), zap.String("user_id", userID), zap.Error(err))
		}
	}

	expireAt := now.Add(s.ttl)
	link, err := s.gw.CreateInviteLink(ctx, groupID, expireAt)
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}

	inv := &domain.InviteRecord{
		GroupID:    groupID,
		UserID:     userID,
		InviteLink: link,
		Status:     domain.InvitePending,
		CreatedAt:  now,
		ExpiresAt:  expireAt.Unix(),
	}
	if err := s.invites.Put(ctx, inv); err != nil {
		return "", err
	}
	return link, nil
}

// HandleJoin reacts to a member joining a gated group. A joiner holding an
// outstanding invite claims it and the link is revoked; a verified member
// rejoining is let through; anyone else is removed and pointed at the
// verification flow. The owner is never touched.
func (s *service) HandleJoin(ctx context.Context, groupID, userID string) error {
	if userID == s.ownerUserID {
		return nil
	}

	now := time.Now().UTC()
	inv, err := s.invites.Get(ctx, groupID, userID)
	switch {
	case err == nil && inv.Outstanding(now):
		claimErr := s.invites.Claim(ctx, groupID, userID)
		if claimErr == nil {
			if err := s.gw.RevokeInviteLink(ctx, groupID, inv.InviteLink); err != nil {
				s.log.Warn("could not revoke consumed invite",
					zap.String("group_id", groupID), zap.String("user_id", userID), zap.Error(err))
			}
			return nil
		}
		if !errors.Is(claimErr, domain.ErrConflict) {
			return claimErr
		}
		// Lost the claim race; fall through to the verified check.
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}

	rec, err := s.users.Get(ctx, groupID, userID)
	if err == nil && rec.Verified {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := s.gw.KickMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("remove uninvited joiner: %w", err)
	}
	s.log.Info("removed uninvited joiner",
		zap.String("group_id", groupID), zap.String("user_id", userID))

	text := "This group requires token verification before joining."
	if link, err := s.links.GetByGroup(ctx, groupID); err == nil {
		text += fmt.Sprintf("\nStart here: https://t.me/%s?start=%s", s.botUsername, link.Token)
	}
	if err := s.gw.SendMessage(ctx, userID, text); err != nil {
		s.log.Debug("could not message removed joiner",
			zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// Revoke is the eviction path: an evicted member must not re-enter on an
// invite minted while they still qualified.
func (s *service) Revoke(ctx context.Context, groupID, userID string) error {
	inv, err := s.invites.Get(ctx, groupID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !inv.Outstanding(time.Now().UTC()) {
		return nil
	}

	if err := s.gw.RevokeInviteLink(ctx, groupID, inv.InviteLink); err != nil {
		s.log.Warn("could not revoke invite link",
			zap.String("group_id", groupID), zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.invites.UpdateStatus(ctx, groupID, userID, domain.InviteRevoked); err != nil {
		return err
	}
	s.log.Info("invite revoked",
		zap.String("group_id", groupID), zap.String("user_id", userID))
	return nil
}
