package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so callers can map outcomes (HTTP status codes, user
// replies, retry decisions) with errors.Is without leaking infrastructure details.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnavailable   = errors.New("temporarily unavailable")
	ErrNotConfigured = errors.New("not configured")
)

// Transient reports whether err is worth retrying against the same
// external dependency. Permanent provider rejections are not transient.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
