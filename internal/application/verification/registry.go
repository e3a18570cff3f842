package verification

import (
	"sync"

	"github.com/tokengate/internal/domain"
)

// registry holds the live verification sessions, one per user. Sessions are
// deliberately not persisted: a process restart simply asks users to start
// over from their link. The map lock guards membership only; session fields
// are mutated under the engine's per-user key lock.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*domain.VerificationSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*domain.VerificationSession)}
}

// active returns the user's current session, nil when none exists.
func (r *registry) active(userID string) *domain.VerificationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

func (r *registry) put(s *domain.VerificationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UserID] = s
}

// remove drops the user's session if it is still the given one. The session
// identity check keeps a stale janitor pass from discarding a session that
// was already replaced.
func (r *registry) remove(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[userID]; ok && cur.SessionID == sessionID {
		delete(r.sessions, userID)
	}
}

// snapshot copies the current session set for iteration without holding the
// map lock.
func (r *registry) snapshot() []*domain.VerificationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.VerificationSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
