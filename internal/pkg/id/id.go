package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a ULID string. Session IDs and export object keys use
// ULIDs so logs and S3 listings stay in creation order.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
