package domain

import "time"

// InviteStatus is the lifecycle position of a one-time invite.
type InviteStatus string

const (
	InvitePending InviteStatus = "pending"
	InviteClaimed InviteStatus = "claimed"
	InviteRevoked InviteStatus = "revoked"
)

// InviteRecord tracks the single-use invite issued for one verification
// event, keyed by (group_id, user_id). One row per key: a later
// re-verification replaces it. ExpiresAt doubles as the DynamoDB TTL, so
// unused invites disappear on their own.
type InviteRecord struct {
	GroupID    string       `json:"group_id" dynamodbav:"group_id"`
	UserID     string       `json:"user_id" dynamodbav:"user_id"`
	InviteLink string       `json:"invite_link" dynamodbav:"invite_link"`
	Status     InviteStatus `json:"status" dynamodbav:"status"`
	CreatedAt  time.Time    `json:"created" dynamodbav:"created_at"`
	ExpiresAt  int64        `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix seconds)
}

// Outstanding reports whether the invite is still consumable: pending and
// not past its expiry.
func (i *InviteRecord) Outstanding(now time.Time) bool {
	return i.Status == InvitePending && now.Unix() < i.ExpiresAt
}
