package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
	"github.com/tokengate/internal/infrastructure/moralis"
	"github.com/tokengate/internal/pkg/chainaddr"
	"github.com/tokengate/internal/pkg/id"
	"github.com/tokengate/internal/pkg/keymutex"
)

// User-facing replies. Kept together so the whole dialog reads in one place.
const (
	msgUnknownLink    = "That verification link is not valid. Ask a group admin for a current link."
	msgGroupNotSetUp  = "This group is not set up for verification yet. Ask a group admin to run setup."
	msgAskAddress     = "Welcome! Send the wallet address you want to verify (0x...)."
	msgBadAddress     = "That does not look like a valid address. Send a 0x address (40 hex characters, checksum respected)."
	msgAddressTaken   = "That address already belongs to another member of this group. Verification cancelled."
	msgInsufficient   = "Balance check failed: the wallet holds %s but this group requires at least %s. Open the link again once you top up."
	msgSendProof      = "Balance confirmed. To prove you control the wallet, send exactly 1 token to `%s`, then type /done."
	msgSayDone        = "Type /done once you have sent the ownership-proof transfer."
	msgCooldown       = "Please wait %d seconds before the next confirmation attempt."
	msgNotSeen        = "Transfer not seen yet (attempt %d of %d). Give the chain a minute, then type /done again."
	msgOutOfAttempts  = "Could not confirm your transfer within the allowed attempts. Verification failed; open the link to start over."
	msgTryLater       = "The chain data provider is unavailable right now. Try again in a few minutes."
	msgInProgress     = "Still working on your previous step, hold on."
	msgSessionExpired = "Your verification session expired from inactivity. Open the verification link to start again."
	msgChainRejected  = "The chain data provider rejected this address or token. Verification failed."
	msgVerified       = "Verification complete. Join here (single use, expires soon):\n%s"
	msgNoInvite       = "Verification complete, but the invite link could not be created. Contact the group admin."
	msgOwnerInvite    = "Welcome, owner. Your invite:\n%s"
	msgAlreadyDone    = "You are already verified for this group. Fresh invite:\n%s"
)

type Service interface {
	// StartSession opens or resumes the verification dialog behind a link token.
	StartSession(ctx context.Context, userID, linkToken string) error
	// HandleMessage routes a direct message into the user's active session.
	// Returns false when the user has no session and the message is not ours.
	HandleMessage(ctx context.Context, userID, text string) (bool, error)
	// ExpireIdleSessions discards sessions idle past the timeout.
	ExpireIdleSessions(ctx context.Context) int
	// ActiveSessions reports how many sessions are currently live.
	ActiveSessions() int
	// PeekState reports the state of the user's live session, if it belongs
	// to the given group.
	PeekState(userID, groupID string) (domain.SessionState, bool)
}

type linkStore interface {
	GetByToken(ctx context.Context, token string) (*domain.VerificationLink, error)
}

type groupStore interface {
	Get(ctx context.Context, groupID string) (*domain.GroupConfig, error)
}

type userStore interface {
	Get(ctx context.Context, groupID, userID string) (*domain.UserRecord, error)
	GetByAddress(ctx context.Context, address string) ([]domain.UserRecord, error)
	Put(ctx context.Context, u *domain.UserRecord) error
}

type chainClient interface {
	GetBalance(ctx context.Context, tokenAddress, wallet string) (decimal.Decimal, error)
	FindTransfer(ctx context.Context, tokenAddress, from, to string) (*moralis.Transfer, error)
}

type messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

type inviteIssuer interface {
	Issue(ctx context.Context, groupID, userID string) (string, error)
}

type service struct {
	links   linkStore
	groups  groupStore
	users   userStore
	chain   chainClient
	gw      messenger
	inviter inviteIssuer
	locks   *keymutex.KeyMutex
	reg     *registry

	ownerUserID string
	idleTimeout time.Duration
	maxAttempts int
	cooldown    time.Duration
	log         *zap.Logger
}

type ServiceDeps struct {
	LinkRepo    linkStore
	GroupRepo   groupStore
	UserRepo    userStore
	Chain       chainClient
	Gateway     messenger
	Inviter     inviteIssuer
	Locks       *keymutex.KeyMutex
	OwnerUserID string
	IdleTimeout time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	Logger      *zap.Logger
}

func NewService(deps ServiceDeps) Service {
	return &service{
		links:       deps.LinkRepo,
		groups:      deps.GroupRepo,
		users:       deps.UserRepo,
		chain:       deps.Chain,
		gw:          deps.Gateway,
		inviter:     deps.Inviter,
		locks:       deps.Locks,
		reg:         newRegistry(),
		ownerUserID: deps.OwnerUserID,
		idleTimeout: deps.IdleTimeout,
		maxAttempts: deps.MaxAttempts,
		cooldown:    deps.Cooldown,
		log:         deps.Logger,
	}
}

// sessionKey serializes all state-machine transitions for one user.
func sessionKey(userID string) string { return "session#" + userID }

// recordKey serializes UserRecord writes between the engine and the
// re-verification sweep. The sweep uses the same key.
func RecordKey(groupID, userID string) string { return "record#" + groupID + "#" + userID }

func (s *service) StartSession(ctx context.Context, userID, linkToken string) error {
	link, err := s.links.GetByToken(ctx, linkToken)
	if errors.Is(err, domain.ErrNotFound) {
		return s.send(ctx, userID, msgUnknownLink)
	}
	if err != nil {
		return err
	}

	group, err := s.groups.Get(ctx, link.GroupID)
	if errors.Is(err, domain.ErrNotFound) {
		s.send(ctx, userID, msgGroupNotSetUp)
		return fmt.Errorf("link %s points at unconfigured group %s: %w", link.Token, link.GroupID, domain.ErrNotConfigured)
	}
	if err != nil {
		return err
	}

	// The owner never verifies: straight to an invite.
	if userID == s.ownerUserID {
		inviteLink, err := s.inviter.Issue(ctx, group.GroupID, userID)
		if err != nil {
			s.send(ctx, userID, msgNoInvite)
			return err
		}
		return s.send(ctx, userID, fmt.Sprintf(msgOwnerInvite, inviteLink))
	}

	key := sessionKey(userID)
	s.locks.Lock(key)
	now := time.Now().UTC()
	if cur := s.reg.active(userID); cur != nil {
		switch {
		case cur.IdleExpired(now, s.idleTimeout):
			s.reg.remove(cur.UserID, cur.SessionID)
		case cur.GroupID == group.GroupID:
			// One active session per (group, user): resume, don't fork.
			cur.LastActivityAt = now
			prompt := s.resumePrompt(cur)
			s.locks.Unlock(key)
			return s.send(ctx, userID, prompt)
		default:
			// Starting for another group abandons the previous dialog.
			s.reg.remove(cur.UserID, cur.SessionID)
		}
	}
	s.locks.Unlock(key)

	// A member who verified earlier and left just needs a fresh invite.
	if rec, err := s.users.Get(ctx, group.GroupID, userID); err == nil && rec.Verified {
		inviteLink, err := s.inviter.Issue(ctx, group.GroupID, userID)
		if err != nil {
			s.send(ctx, userID, msgNoInvite)
			return err
		}
		return s.send(ctx, userID, fmt.Sprintf(msgAlreadyDone, inviteLink))
	}

	sess := &domain.VerificationSession{
		SessionID:      id.New(),
		GroupID:        group.GroupID,
		UserID:         userID,
		State:          domain.StateAwaitingAddress,
		StartedAt:      now,
		LastActivityAt: now,
	}
	s.locks.Lock(key)
	s.reg.put(sess)
	s.locks.Unlock(key)

	s.log.Info("verification session started",
		zap.String("session_id", sess.SessionID),
		zap.String("group_id", group.GroupID),
		zap.String("user_id", userID))
	return s.send(ctx, userID, msgAskAddress)
}

func (s *service) HandleMessage(ctx context.Context, userID, text string) (bool, error) {
	key := sessionKey(userID)
	s.locks.Lock(key)
	sess := s.reg.active(userID)
	if sess == nil {
		s.locks.Unlock(key)
		return false, nil
	}

	now := time.Now().UTC()
	if sess.IdleExpired(now, s.idleTimeout) {
		s.reg.remove(sess.UserID, sess.SessionID)
		s.locks.Unlock(key)
		return true, s.send(ctx, userID, msgSessionExpired)
	}
	sess.LastActivityAt = now

	sessionID, groupID := sess.SessionID, sess.GroupID
	input := strings.TrimSpace(text)

	switch sess.State {
	case domain.StateAwaitingAddress:
		if !chainaddr.Valid(input) {
			s.locks.Unlock(key)
			return true, s.send(ctx, userID, msgBadAddress)
		}
		sess.Address = chainaddr.Normalize(input)
		sess.State = domain.StateCheckingBalance
		addr := sess.Address
		s.locks.Unlock(key)
		return true, s.checkBalance(ctx, sessionID, groupID, userID, addr)

	case domain.StateAwaitingTransfer:
		if !isDone(input) {
			s.locks.Unlock(key)
			return true, s.send(ctx, userID, msgSayDone)
		}
		if wait := sess.CooldownRemaining(now, s.cooldown); wait > 0 {
			s.locks.Unlock(key)
			return true, s.send(ctx, userID, fmt.Sprintf(msgCooldown, int(wait.Seconds())))
		}
		sess.State = domain.StateConfirmingTransfer
		addr := sess.Address
		s.locks.Unlock(key)
		return true, s.confirmTransfer(ctx, sessionID, groupID, userID, addr)

	default:
		// A chain call for this session is still in flight.
		s.locks.Unlock(key)
		return true, s.send(ctx, userID, msgInProgress)
	}
}

// checkBalance runs the CheckingBalance step. Called without the session
// lock held; the outcome is committed through mutate, which drops it
// silently if the session vanished meanwhile.
func (s *service) checkBalance(ctx context.Context, sessionID, groupID, userID, addr string) error {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingAddress
		})
		s.send(ctx, userID, msgGroupNotSetUp)
		return fmt.Errorf("load group %s: %w", groupID, err)
	}
	minBalance, err := group.MinBalanceDecimal()
	if err != nil {
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingAddress
		})
		s.send(ctx, userID, msgGroupNotSetUp)
		return fmt.Errorf("group %s has corrupt min_balance: %w", groupID, domain.ErrNotConfigured)
	}

	// One wallet backs at most one member per group.
	if owners, err := s.users.GetByAddress(ctx, addr); err == nil {
		for _, rec := range owners {
			if rec.GroupID == groupID && rec.UserID != userID && rec.Verified {
				s.fail(userID, sessionID)
				return s.send(ctx, userID, msgAddressTaken)
			}
		}
	} else {
		s.log.Warn("address reuse check failed", zap.String("address", addr), zap.Error(err))
	}

	balance, err := s.chain.GetBalance(ctx, group.TokenAddress, addr)
	switch {
	case domain.Transient(err):
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingAddress
		})
		return s.send(ctx, userID, msgTryLater)
	case errors.Is(err, domain.ErrBadRequest):
		s.fail(userID, sessionID)
		return s.send(ctx, userID, msgChainRejected)
	case err != nil:
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingAddress
		})
		return err
	}

	if balance.LessThan(minBalance) {
		s.fail(userID, sessionID)
		s.log.Info("balance below threshold",
			zap.String("group_id", groupID),
			zap.String("user_id", userID),
			zap.String("balance", balance.String()),
			zap.String("min_balance", group.MinBalance))
		return s.send(ctx, userID, fmt.Sprintf(msgInsufficient, balance.String(), group.MinBalance))
	}

	s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
		sess.State = domain.StateAwaitingTransfer
	})
	return s.send(ctx, userID, fmt.Sprintf(msgSendProof, group.VerifierAddress))
}

// confirmTransfer runs the ConfirmingTransfer step. A transient provider
// failure returns the session to AwaitingTransfer without consuming an
// attempt; only a definite no-match consumes one.
func (s *service) confirmTransfer(ctx context.Context, sessionID, groupID, userID, addr string) error {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingTransfer
		})
		s.send(ctx, userID, msgGroupNotSetUp)
		return fmt.Errorf("load group %s: %w", groupID, err)
	}

	transfer, err := s.chain.FindTransfer(ctx, group.TokenAddress, addr, group.VerifierAddress)
	switch {
	case err == nil:
		return s.completeVerification(ctx, group, sessionID, userID, addr, transfer.Hash)

	case errors.Is(err, domain.ErrNotFound):
		var failed bool
		var attempts int
		ok := s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.Attempts++
			sess.LastAttemptAt = time.Now().UTC()
			attempts = sess.Attempts
			if sess.Attempts >= s.maxAttempts {
				sess.State = domain.StateFailed
				failed = true
			} else {
				sess.State = domain.StateAwaitingTransfer
			}
		})
		if !ok {
			return nil
		}
		if failed {
			s.log.Info("verification failed after max attempts",
				zap.String("group_id", groupID), zap.String("user_id", userID))
			return s.send(ctx, userID, msgOutOfAttempts)
		}
		return s.send(ctx, userID, fmt.Sprintf(msgNotSeen, attempts, s.maxAttempts))

	case domain.Transient(err):
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingTransfer
		})
		return s.send(ctx, userID, msgTryLater)

	default:
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingTransfer
		})
		return err
	}
}

// completeVerification commits the durable record under the per-record key
// and hands out the single-use invite.
func (s *service) completeVerification(ctx context.Context, group *domain.GroupConfig, sessionID, userID, addr, txHash string) error {
	now := time.Now().UTC()

	rkey := RecordKey(group.GroupID, userID)
	s.locks.Lock(rkey)
	createdAt := now
	if prev, err := s.users.Get(ctx, group.GroupID, userID); err == nil {
		createdAt = prev.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.locks.Unlock(rkey)
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingTransfer
		})
		return err
	}
	err := s.users.Put(ctx, &domain.UserRecord{
		GroupID:           group.GroupID,
		UserID:            userID,
		Address:           addr,
		Verified:          true,
		LastVerifiedAt:    now,
		TransferConfirmed: true,
		TxHash:            txHash,
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	})
	s.locks.Unlock(rkey)
	if err != nil {
		s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
			sess.State = domain.StateAwaitingTransfer
		})
		return err
	}

	s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
		sess.State = domain.StateVerified
	})
	s.log.Info("user verified",
		zap.String("group_id", group.GroupID),
		zap.String("user_id", userID),
		zap.String("tx_hash", txHash))

	inviteLink, err := s.inviter.Issue(ctx, group.GroupID, userID)
	if err != nil {
		s.log.Error("verified but invite issuance failed",
			zap.String("group_id", group.GroupID), zap.String("user_id", userID), zap.Error(err))
		return s.send(ctx, userID, msgNoInvite)
	}
	return s.send(ctx, userID, fmt.Sprintf(msgVerified, inviteLink))
}

func (s *service) ExpireIdleSessions(ctx context.Context) int {
	now := time.Now().UTC()
	expired := 0
	for _, sess := range s.reg.snapshot() {
		if !sess.IdleExpired(now, s.idleTimeout) {
			continue
		}
		uid, sid := sess.UserID, sess.SessionID
		var dropped bool
		s.mutate(uid, sid, func(cur *domain.VerificationSession) {
			// Re-checked under the lock: the user may have just spoken up.
			if cur.IdleExpired(now, s.idleTimeout) {
				cur.State = domain.StateExpired
				dropped = true
			}
		})
		if dropped {
			expired++
			if err := s.send(ctx, uid, msgSessionExpired); err != nil {
				s.log.Debug("could not notify expired session", zap.String("user_id", uid), zap.Error(err))
			}
		}
	}
	if expired > 0 {
		s.log.Info("expired idle sessions", zap.Int("count", expired))
	}
	return expired
}

func (s *service) ActiveSessions() int { return s.reg.size() }

func (s *service) PeekState(userID, groupID string) (domain.SessionState, bool) {
	// Read under the session lock: transitions happen there.
	key := sessionKey(userID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	sess := s.reg.active(userID)
	if sess == nil || sess.GroupID != groupID {
		return "", false
	}
	return sess.State, true
}

// mutate applies fn to the user's session under the session lock, provided
// the session still exists and is the same one the caller saw. Terminal
// transitions drop the session from the registry. Returns false when the
// session is gone, which callers treat as "discard the result".
func (s *service) mutate(userID, sessionID string, fn func(*domain.VerificationSession)) bool {
	key := sessionKey(userID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	sess := s.reg.active(userID)
	if sess == nil || sess.SessionID != sessionID {
		return false
	}
	fn(sess)
	if sess.State.Terminal() {
		s.reg.remove(userID, sessionID)
	}
	return true
}

func (s *service) fail(userID, sessionID string) {
	s.mutate(userID, sessionID, func(sess *domain.VerificationSession) {
		sess.State = domain.StateFailed
	})
}

func (s *service) send(ctx context.Context, userID, text string) error {
	if err := s.gw.SendMessage(ctx, userID, text); err != nil {
		return fmt.Errorf("send to %s: %w", userID, err)
	}
	return nil
}

func (s *service) resumePrompt(sess *domain.VerificationSession) string {
	switch sess.State {
	case domain.StateAwaitingAddress:
		return msgAskAddress
	case domain.StateAwaitingTransfer:
		return msgSayDone
	default:
		return msgInProgress
	}
}

func isDone(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "done" || t == "/done"
}
