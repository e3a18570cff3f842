package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewLinkToken generates the opaque 64-character hex token behind a
// verification link. 32 random bytes keeps the link space unguessable.
func NewLinkToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
