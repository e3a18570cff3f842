package status

import (
	"context"
	"errors"
	"time"

	"github.com/tokengate/internal/domain"
)

// GroupStatus is the operator's view of one configured group.
type GroupStatus struct {
	Group         *domain.GroupConfig `json:"group"`
	VerifiedCount int                 `json:"verified_count"`
	Whitelisted   bool                `json:"whitelisted"`
	HasLink       bool                `json:"has_link"`
}

// MemberStatus is the operator's view of one user in one group: the durable
// verification outcome plus the live session state, if any.
type MemberStatus struct {
	GroupID        string     `json:"group_id"`
	UserID         string     `json:"user_id"`
	Verified       bool       `json:"verified"`
	Address        string     `json:"address,omitempty"`
	TxHash         string     `json:"tx_hash,omitempty"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	SessionState   string     `json:"session_state,omitempty"`
}

type groupStore interface {
	Get(ctx context.Context, groupID string) (*domain.GroupConfig, error)
}

type userStore interface {
	Get(ctx context.Context, groupID, userID string) (*domain.UserRecord, error)
	ListVerifiedByGroup(ctx context.Context, groupID string) ([]domain.UserRecord, error)
}

type whitelistStore interface {
	Get(ctx context.Context, groupID string) (*domain.WhitelistEntry, error)
}

type linkStore interface {
	GetByGroup(ctx context.Context, groupID string) (*domain.VerificationLink, error)
}

type sessionPeeker interface {
	PeekState(userID, groupID string) (domain.SessionState, bool)
}

type Service interface {
	Get(ctx context.Context, groupID string) (*GroupStatus, error)
	// Member reports one user's standing in one group. ErrNotFound means the
	// pair has neither a record nor a live session.
	Member(ctx context.Context, groupID, userID string) (*MemberStatus, error)
}

type service struct {
	groups    groupStore
	users     userStore
	whitelist whitelistStore
	links     linkStore
	sessions  sessionPeeker
}

type ServiceDeps struct {
	GroupRepo     groupStore
	UserRepo      userStore
	WhitelistRepo whitelistStore
	LinkRepo      linkStore
	Sessions      sessionPeeker
}

func NewService(deps ServiceDeps) Service {
	return &service{
		groups:    deps.GroupRepo,
		users:     deps.UserRepo,
		whitelist: deps.WhitelistRepo,
		links:     deps.LinkRepo,
		sessions:  deps.Sessions,
	}
}

func (s *service) Get(ctx context.Context, groupID string) (*GroupStatus, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members, err := s.users.ListVerifiedByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	st := &GroupStatus{Group: group, VerifiedCount: len(members)}

	wl, err := s.whitelist.Get(ctx, groupID)
	if err == nil {
		st.Whitelisted = wl.Whitelisted
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if _, err := s.links.GetByGroup(ctx, groupID); err == nil {
		st.HasLink = true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	return st, nil
}

func (s *service) Member(ctx context.Context, groupID, userID string) (*MemberStatus, error) {
	st := &MemberStatus{GroupID: groupID, UserID: userID}

	rec, err := s.users.Get(ctx, groupID, userID)
	switch {
	case err == nil:
		st.Verified = rec.Verified
		st.Address = rec.Address
		st.TxHash = rec.TxHash
		at := rec.LastVerifiedAt
		st.LastVerifiedAt = &at
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if s.sessions != nil {
		if state, ok := s.sessions.PeekState(userID, groupID); ok {
			st.SessionState = string(state)
		}
	}

	if rec == nil && st.SessionState == "" {
		return nil, domain.ErrNotFound
	}
	return st, nil
}
