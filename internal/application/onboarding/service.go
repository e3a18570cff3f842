package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/pkg/chainaddr"
	"github.com/tokengate/internal/pkg/token"
	"github.com/tokengate/internal/pkg/validate"
)

const (
	msgGroupBlocked  = "This group has been permanently blocked from using verification."
	msgRequestQueued = "Setup request sent to the bot owner. The requesting admin will get a DM once it is decided."
	msgOwnerRequest  = "Group %q (%s) requests verification setup, asked by admin %s.\nApprove with /approve %s or reject with /reject %s."
	msgCannotDM      = "I could not message the admin privately. Open a chat with me, press Start, then run /setup here again."

	msgDialogToken      = "Setting up verification for %q.\nStep 1 of 3: send the token contract address (0x...)."
	msgDialogBadAddress = "That does not look like a valid address. Send a 0x address (40 hex characters)."
	msgDialogMinBal     = "Step 2 of 3: send the minimum balance required to join (a positive number, e.g. 100 or 0.5)."
	msgDialogBadBalance = "That is not a positive number. Send the minimum balance, e.g. 100 or 0.5."
	msgDialogVerifier   = "Step 3 of 3: send the verifier wallet address members will transfer 1 token to."
	msgDialogStoreFail  = "Could not save the configuration. Send the verifier address again to retry."
	msgDialogDone       = "Setup complete for %q. Share this verification link with members:\n%s"
	msgDialogExpired    = "Setup dialog expired from inactivity. Run /setup in the group to start again."

	msgApprovedAdmin = "Your setup request for %q was approved."
	msgRejectedAdmin = "Your setup request for %q was rejected by the owner. %d attempt(s) remain before the group is blocked for good."
	msgBlockedAdmin  = "Your setup request for %q was rejected. The group is now permanently blocked."
)

// Service runs the group onboarding workflow: the /setup gate with its
// whitelist and strike bookkeeping, and the three-step configuration
// dialog held with an admin over DM.
type Service interface {
	// RequestSetup handles /setup issued inside a group.
	RequestSetup(ctx context.Context, groupID, groupName, adminID string) error
	// HandleDialogMessage routes a DM into the admin's setup dialog.
	// Returns false when the admin has no dialog open.
	HandleDialogMessage(ctx context.Context, adminID, text string) (bool, error)
	// Approve whitelists a pending group and opens the setup dialog with
	// the admin who asked. Returns a summary for the owner's reply.
	Approve(ctx context.Context, groupID string) (string, error)
	// Reject records a strike against a pending group, blocking it for
	// good on the third. Returns a summary for the owner's reply.
	Reject(ctx context.Context, groupID string) (string, error)
	// ExpireIdleDialogs discards setup dialogs idle past the timeout.
	ExpireIdleDialogs(ctx context.Context) int

	PendingRequests(ctx context.Context) ([]domain.PendingWhitelistRequest, error)
	WhitelistedGroups(ctx context.Context) ([]domain.WhitelistEntry, error)
	// BlockedGroups lists only permanently blocked groups; Rejections lists
	// every group with at least one strike.
	BlockedGroups(ctx context.Context) ([]domain.RejectedGroup, error)
	Rejections(ctx context.Context) ([]domain.RejectedGroup, error)
	Groups(ctx context.Context) ([]domain.GroupConfig, error)
}

type groupStore interface {
	Get(ctx context.Context, groupID string) (*domain.GroupConfig, error)
	Put(ctx context.Context, g *domain.GroupConfig) error
	Scan(ctx context.Context) ([]domain.GroupConfig, error)
}

type linkStore interface {
	Put(ctx context.Context, l *domain.VerificationLink) error
}

type whitelistStore interface {
	Get(ctx context.Context, groupID string) (*domain.WhitelistEntry, error)
	Put(ctx context.Context, w *domain.WhitelistEntry) error
	Scan(ctx context.Context) ([]domain.WhitelistEntry, error)
}

type pendingStore interface {
	Get(ctx context.Context, groupID string) (*domain.PendingWhitelistRequest, error)
	Put(ctx context.Context, p *domain.PendingWhitelistRequest) error
	Scan(ctx context.Context) ([]domain.PendingWhitelistRequest, error)
	HardDelete(ctx context.Context, groupID string) error
}

type rejectedStore interface {
	Get(ctx context.Context, groupID string) (*domain.RejectedGroup, error)
	Scan(ctx context.Context) ([]domain.RejectedGroup, error)
	RecordRejection(ctx context.Context, groupID, groupName, adminID string, now time.Time) (*domain.RejectedGroup, error)
	MarkBlocked(ctx context.Context, groupID string) error
}

type messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type alerter interface {
	OwnerAlert(ctx context.Context, subject, message string)
}

type dialogStep int

const (
	stepTokenAddress dialogStep = iota
	stepMinBalance
	stepVerifierAddress
)

// setupDialog is the in-memory state of one admin walking through setup.
// Keyed by admin ID: an admin configures one group at a time, and running
// /setup elsewhere replaces the open dialog.
type setupDialog struct {
	GroupID        string
	GroupName      string
	Step           dialogStep
	TokenAddress   string
	MinBalance     string
	StartedAt      time.Time
	LastActivityAt time.Time
}

type service struct {
	groups    groupStore
	links     linkStore
	whitelist whitelistStore
	pending   pendingStore
	rejected  rejectedStore
	gw        messenger
	alerts    alerter

	mu      sync.Mutex
	dialogs map[string]*setupDialog

	ownerUserID string
	botUsername string
	chainID     string
	idleTimeout time.Duration
	log         *zap.Logger
}

type ServiceDeps struct {
	GroupRepo     groupStore
	LinkRepo      linkStore
	WhitelistRepo whitelistStore
	PendingRepo   pendingStore
	RejectedRepo  rejectedStore
	Gateway       messenger
	Alerts        alerter
	OwnerUserID   string
	BotUsername   string
	ChainID       string
	IdleTimeout   time.Duration
	Logger        *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		groups:      deps.GroupRepo,
		links:       deps.LinkRepo,
		whitelist:   deps.WhitelistRepo,
		pending:     deps.PendingRepo,
		rejected:    deps.RejectedRepo,
		gw:          deps.Gateway,
		alerts:      deps.Alerts,
		dialogs:     make(map[string]*setupDialog),
		ownerUserID: deps.OwnerUserID,
		botUsername: deps.BotUsername,
		chainID:     deps.ChainID,
		idleTimeout: deps.IdleTimeout,
		log:         deps.Logger,
	}
}

func (s *service) RequestSetup(ctx context.Context, groupID, groupName, adminID string) error {
	rej, err := s.rejected.Get(ctx, groupID)
	if err == nil && rej.Blocked {
		s.log.Info("setup refused for blocked group", zap.String("group_id", groupID))
		return s.gw.SendMessage(ctx, groupID, msgGroupBlocked)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	// The owner's own groups skip the whitelist entirely.
	if adminID == s.ownerUserID {
		return s.startDialog(ctx, groupID, groupName, adminID)
	}

	wl, err := s.whitelist.Get(ctx, groupID)
	if err == nil && wl.Whitelisted {
		return s.startDialog(ctx, groupID, groupName, adminID)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	req := &domain.PendingWhitelistRequest{
		GroupID:           groupID,
		GroupName:         groupName,
		RequestingAdminID: adminID,
		RequestedAt:       time.Now().UTC(),
	}
	if err := s.pending.Put(ctx, req); err != nil {
		return err
	}
	s.log.Info("whitelist request queued",
		zap.String("group_id", groupID), zap.String("admin_id", adminID))

	ownerNote := fmt.Sprintf(msgOwnerRequest, groupName, groupID, adminID, groupID, groupID)
	s.alerts.OwnerAlert(ctx, "New whitelist request", ownerNote)
	return s.gw.SendMessage(ctx, groupID, msgRequestQueued)
}

func (s *service) Approve(ctx context.Context, groupID string) (string, error) {
	req, err := s.pending.Get(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("pending request for group %s: %w", groupID, err)
	}

	entry := &domain.WhitelistEntry{
		GroupID:     groupID,
		Whitelisted: true,
		GroupName:   req.GroupName,
		ApprovedAt:  time.Now().UTC(),
	}
	if err := s.whitelist.Put(ctx, entry); err != nil {
		return "", err
	}
	// The whitelist entry is the source of truth; a stuck pending row is
	// only cosmetic.
	if err := s.pending.HardDelete(ctx, groupID); err != nil {
		s.log.Warn("could not clear pending request", zap.String("group_id", groupID), zap.Error(err))
	}
	s.log.Info("group whitelisted",
		zap.String("group_id", groupID), zap.String("admin_id", req.RequestingAdminID))

	if err := s.gw.SendMessage(ctx, req.RequestingAdminID, fmt.Sprintf(msgApprovedAdmin, req.GroupName)); err != nil {
		s.log.Warn("could not notify approved admin", zap.String("admin_id", req.RequestingAdminID), zap.Error(err))
	}
	if err := s.startDialog(ctx, groupID, req.GroupName, req.RequestingAdminID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Whitelisted %q and opened the setup dialog with admin %s.",
		req.GroupName, req.RequestingAdminID), nil
}

func (s *service) Reject(ctx context.Context, groupID string) (string, error) {
	req, err := s.pending.Get(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("pending request for group %s: %w", groupID, err)
	}
	if err := s.pending.HardDelete(ctx, groupID); err != nil {
		return "", err
	}

	rej, err := s.rejected.RecordRejection(ctx, groupID, req.GroupName, req.RequestingAdminID, time.Now().UTC())
	if err != nil {
		return "", err
	}

	if rej.RejectionCount >= domain.RejectionStrikeLimit {
		if !rej.Blocked {
			if err := s.rejected.MarkBlocked(ctx, groupID); err != nil {
				return "", err
			}
		}
		s.log.Info("group permanently blocked",
			zap.String("group_id", groupID), zap.Int("rejections", rej.RejectionCount))
		if err := s.gw.SendMessage(ctx, req.RequestingAdminID, fmt.Sprintf(msgBlockedAdmin, req.GroupName)); err != nil {
			s.log.Warn("could not notify rejected admin", zap.String("admin_id", req.RequestingAdminID), zap.Error(err))
		}
		return fmt.Sprintf("Rejected %q (strike %d of %d). The group is now permanently blocked.",
			req.GroupName, rej.RejectionCount, domain.RejectionStrikeLimit), nil
	}

	s.log.Info("whitelist request rejected",
		zap.String("group_id", groupID), zap.Int("rejections", rej.RejectionCount))
	if err := s.gw.SendMessage(ctx, req.RequestingAdminID, fmt.Sprintf(msgRejectedAdmin, req.GroupName, rej.StrikesLeft())); err != nil {
		s.log.Warn("could not notify rejected admin", zap.String("admin_id", req.RequestingAdminID), zap.Error(err))
	}
	return fmt.Sprintf("Rejected %q (strike %d of %d).",
		req.GroupName, rej.RejectionCount, domain.RejectionStrikeLimit), nil
}

// startDialog opens the DM configuration dialog. A failed opening DM tears
// the dialog down again and points the admin at the bot, since the rest of
// the flow is dead without a private channel.
func (s *service) startDialog(ctx context.Context, groupID, groupName, adminID string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	s.dialogs[adminID] = &setupDialog{
		GroupID:        groupID,
		GroupName:      groupName,
		Step:           stepTokenAddress,
		StartedAt:      now,
		LastActivityAt: now,
	}
	s.mu.Unlock()

	if err := s.gw.SendMessage(ctx, adminID, fmt.Sprintf(msgDialogToken, groupName)); err != nil {
		s.drop(adminID)
		s.log.Warn("could not open setup dialog",
			zap.String("group_id", groupID), zap.String("admin_id", adminID), zap.Error(err))
		return s.gw.SendMessage(ctx, groupID, msgCannotDM)
	}
	s.log.Info("setup dialog started",
		zap.String("group_id", groupID), zap.String("admin_id", adminID))
	return nil
}

func (s *service) HandleDialogMessage(ctx context.Context, adminID, text string) (bool, error) {
	s.mu.Lock()
	d, ok := s.dialogs[adminID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}

	now := time.Now().UTC()
	if now.Sub(d.LastActivityAt) > s.idleTimeout {
		delete(s.dialogs, adminID)
		s.mu.Unlock()
		return true, s.gw.SendMessage(ctx, adminID, msgDialogExpired)
	}
	d.LastActivityAt = now
	input := strings.TrimSpace(text)

	switch d.Step {
	case stepTokenAddress:
		if !chainaddr.Valid(input) {
			s.mu.Unlock()
			return true, s.gw.SendMessage(ctx, adminID, msgDialogBadAddress)
		}
		d.TokenAddress = chainaddr.Normalize(input)
		d.Step = stepMinBalance
		s.mu.Unlock()
		return true, s.gw.SendMessage(ctx, adminID, msgDialogMinBal)

	case stepMinBalance:
		amt, err := decimal.NewFromString(input)
		if err != nil || !amt.IsPositive() {
			s.mu.Unlock()
			return true, s.gw.SendMessage(ctx, adminID, msgDialogBadBalance)
		}
		d.MinBalance = amt.String()
		d.Step = stepVerifierAddress
		s.mu.Unlock()
		return true, s.gw.SendMessage(ctx, adminID, msgDialogVerifier)

	default: // stepVerifierAddress
		if !chainaddr.Valid(input) {
			s.mu.Unlock()
			return true, s.gw.SendMessage(ctx, adminID, msgDialogBadAddress)
		}
		snapshot := *d
		s.mu.Unlock()
		return true, s.finishSetup(ctx, adminID, &snapshot, chainaddr.Normalize(input))
	}
}

// finishSetup commits the configuration and mints the verification link.
// On a store failure the dialog stays at the verifier step so the admin can
// retry by resending the address.
func (s *service) finishSetup(ctx context.Context, adminID string, d *setupDialog, verifierAddr string) error {
	now := time.Now().UTC()
	cfg := &domain.GroupConfig{
		GroupID:         d.GroupID,
		ChainID:         s.chainID,
		TokenAddress:    d.TokenAddress,
		MinBalance:      d.MinBalance,
		VerifierAddress: verifierAddr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// Re-running setup replaces the rule but keeps the original timestamp.
	if prev, err := s.groups.Get(ctx, d.GroupID); err == nil {
		cfg.CreatedAt = prev.CreatedAt
	}
	if err := validate.Struct(cfg); err != nil {
		s.drop(adminID)
		s.gw.SendMessage(ctx, adminID, msgDialogStoreFail)
		return fmt.Errorf("group %s config invalid: %v: %w", d.GroupID, err, domain.ErrBadRequest)
	}

	if err := s.groups.Put(ctx, cfg); err != nil {
		s.gw.SendMessage(ctx, adminID, msgDialogStoreFail)
		return err
	}

	tok, err := token.NewLinkToken()
	if err != nil {
		s.gw.SendMessage(ctx, adminID, msgDialogStoreFail)
		return err
	}
	link := &domain.VerificationLink{Token: tok, GroupID: d.GroupID, CreatedAt: now}
	if err := s.links.Put(ctx, link); err != nil {
		s.gw.SendMessage(ctx, adminID, msgDialogStoreFail)
		return err
	}

	s.drop(adminID)
	s.log.Info("group configured",
		zap.String("group_id", d.GroupID),
		zap.String("token_address", cfg.TokenAddress),
		zap.String("min_balance", cfg.MinBalance))

	deepLink := fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, tok)
	return s.gw.SendMessage(ctx, adminID, fmt.Sprintf(msgDialogDone, d.GroupName, deepLink))
}

func (s *service) ExpireIdleDialogs(ctx context.Context) int {
	now := time.Now().UTC()
	var stale []string
	s.mu.Lock()
	for adminID, d := range s.dialogs {
		if now.Sub(d.LastActivityAt) > s.idleTimeout {
			delete(s.dialogs, adminID)
			stale = append(stale, adminID)
		}
	}
	s.mu.Unlock()

	for _, adminID := range stale {
		if err := s.gw.SendMessage(ctx, adminID, msgDialogExpired); err != nil {
			s.log.Debug("could not notify expired dialog", zap.String("admin_id", adminID), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		s.log.Info("expired setup dialogs", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (s *service) PendingRequests(ctx context.Context) ([]domain.PendingWhitelistRequest, error) {
	return s.pending.Scan(ctx)
}

func (s *service) WhitelistedGroups(ctx context.Context) ([]domain.WhitelistEntry, error) {
	all, err := s.whitelist.Scan(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]domain.WhitelistEntry, 0, len(all))
	for _, w := range all {
		if w.Whitelisted {
			active = append(active, w)
		}
	}
	return active, nil
}

func (s *service) Rejections(ctx context.Context) ([]domain.RejectedGroup, error) {
	return s.rejected.Scan(ctx)
}

func (s *service) BlockedGroups(ctx context.Context) ([]domain.RejectedGroup, error) {
	all, err := s.rejected.Scan(ctx)
	if err != nil {
		return nil, err
	}
	blocked := make([]domain.RejectedGroup, 0, len(all))
	for _, r := range all {
		if r.Blocked {
			blocked = append(blocked, r)
		}
	}
	return blocked, nil
}

func (s *service) Groups(ctx context.Context) ([]domain.GroupConfig, error) {
	return s.groups.Scan(ctx)
}

func (s *service) drop(adminID string) {
	s.mu.Lock()
	delete(s.dialogs, adminID)
	s.mu.Unlock()
}
