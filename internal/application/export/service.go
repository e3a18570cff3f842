package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/pkg/id"
)

// urlTTL bounds how long an export download link stays valid.
const urlTTL = time.Hour

// Snapshot is the exported membership document: the group's rule plus
// every verified member at export time.
type Snapshot struct {
	Group      *domain.GroupConfig `json:"group"`
	Members    []domain.UserRecord `json:"members"`
	ExportedAt time.Time           `json:"exported_at"`
}

// FullSnapshot is the whole-deployment dump: every group with its members,
// plus the onboarding ledgers. Verification link tokens are credentials and
// stay out of it.
type FullSnapshot struct {
	Groups     []domain.GroupConfig             `json:"groups"`
	Members    map[string][]domain.UserRecord   `json:"members"`
	Whitelist  []domain.WhitelistEntry          `json:"whitelist"`
	Pending    []domain.PendingWhitelistRequest `json:"pending_requests"`
	Rejected   []domain.RejectedGroup           `json:"rejected_groups"`
	ExportedAt time.Time                        `json:"exported_at"`
}

type groupStore interface {
	Get(ctx context.Context, groupID string) (*domain.GroupConfig, error)
	Scan(ctx context.Context) ([]domain.GroupConfig, error)
}

type userStore interface {
	ListVerifiedByGroup(ctx context.Context, groupID string) ([]domain.UserRecord, error)
}

type whitelistStore interface {
	Scan(ctx context.Context) ([]domain.WhitelistEntry, error)
}

type pendingStore interface {
	Scan(ctx context.Context) ([]domain.PendingWhitelistRequest, error)
}

type rejectedStore interface {
	Scan(ctx context.Context) ([]domain.RejectedGroup, error)
}

type objectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Service interface {
	// Export snapshots a group's verified membership to object storage and
	// returns a time-limited download URL.
	Export(ctx context.Context, groupID string) (string, error)
	// SnapshotAll dumps the whole deployment state to object storage and
	// returns a time-limited download URL.
	SnapshotAll(ctx context.Context) (string, error)
}

type service struct {
	groups    groupStore
	users     userStore
	whitelist whitelistStore
	pending   pendingStore
	rejected  rejectedStore
	store     objectStore
	log       *zap.Logger
}

type ServiceDeps struct {
	GroupRepo     groupStore
	UserRepo      userStore
	WhitelistRepo whitelistStore
	PendingRepo   pendingStore
	RejectedRepo  rejectedStore
	ObjectStore   objectStore
	Logger        *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		groups:    deps.GroupRepo,
		users:     deps.UserRepo,
		whitelist: deps.WhitelistRepo,
		pending:   deps.PendingRepo,
		rejected:  deps.RejectedRepo,
		store:     deps.ObjectStore,
		log:       deps.Logger,
	}
}

func (s *service) Export(ctx context.Context, groupID string) (string, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return "", err
	}
	members, err := s.users.ListVerifiedByGroup(ctx, groupID)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		Group:      group,
		Members:    members,
		ExportedAt: time.Now().UTC(),
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	// ULID keys keep the S3 listing in creation order per group.
	key := fmt.Sprintf("exports/%s/%s.json", groupID, id.New())
	if _, err := s.store.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	url, err := s.store.PresignedURL(ctx, key, urlTTL)
	if err != nil {
		return "", err
	}

	s.log.Info("membership export created",
		zap.String("group_id", groupID),
		zap.String("key", key),
		zap.Int("members", len(members)))
	return url, nil
}

func (s *service) SnapshotAll(ctx context.Context) (string, error) {
	groups, err := s.groups.Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}

	snap := FullSnapshot{
		Groups:     groups,
		Members:    make(map[string][]domain.UserRecord, len(groups)),
		ExportedAt: time.Now().UTC(),
	}
	total := 0
	for _, g := range groups {
		members, err := s.users.ListVerifiedByGroup(ctx, g.GroupID)
		if err != nil {
			return "", fmt.Errorf("list members of %s: %w", g.GroupID, err)
		}
		snap.Members[g.GroupID] = members
		total += len(members)
	}
	if snap.Whitelist, err = s.whitelist.Scan(ctx); err != nil {
		return "", fmt.Errorf("list whitelist: %w", err)
	}
	if snap.Pending, err = s.pending.Scan(ctx); err != nil {
		return "", fmt.Errorf("list pending requests: %w", err)
	}
	if snap.Rejected, err = s.rejected.Scan(ctx); err != nil {
		return "", fmt.Errorf("list rejected groups: %w", err)
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s-%s.json", snap.ExportedAt.Format("20060102T150405Z"), id.New())
	if _, err := s.store.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	url, err := s.store.PresignedURL(ctx, key, urlTTL)
	if err != nil {
		return "", err
	}

	s.log.Info("full export created",
		zap.String("key", key),
		zap.Int("groups", len(groups)),
		zap.Int("members", total))
	return url, nil
}
