package domain

import "time"

// SessionState is the verification state machine position for one
// (group, user) pair.
type SessionState string

const (
	StateAwaitingAddress    SessionState = "awaiting_address"
	StateCheckingBalance    SessionState = "checking_balance"
	StateAwaitingTransfer   SessionState = "awaiting_transfer"
	StateConfirmingTransfer SessionState = "confirming_transfer"
	StateVerified           SessionState = "verified"
	StateFailed             SessionState = "failed"
	StateExpired            SessionState = "expired"
)

// Terminal reports whether the state machine is finished. Terminal sessions
// are discarded; only Verified leaves a durable UserRecord behind.
func (s SessionState) Terminal() bool {
	return s == StateVerified || s == StateFailed || s == StateExpired
}

// VerificationSession is the in-memory state of one user verifying for one
// group. Sessions are transient: they live in the engine's registry and are
// never persisted. At most one non-terminal session exists per
// (GroupID, UserID) pair.
type VerificationSession struct {
	SessionID      string
	GroupID        string
	UserID         string
	State          SessionState
	Address        string // lowercased, set once validated
	Attempts       int    // transfer-confirmation attempts consumed
	StartedAt      time.Time
	LastActivityAt time.Time
	LastAttemptAt  time.Time // last transfer-confirmation attempt, for the retry cooldown
}

// IdleExpired reports whether the session has been inactive past timeout.
func (s *VerificationSession) IdleExpired(now time.Time, timeout time.Duration) bool {
	return !s.State.Terminal() && now.Sub(s.LastActivityAt) > timeout
}

// CooldownRemaining returns how long the user must still wait before the
// next transfer-confirmation attempt, zero when none applies.
func (s *VerificationSession) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if s.LastAttemptAt.IsZero() {
		return 0
	}
	remaining := cooldown - now.Sub(s.LastAttemptAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
