package domain

import "time"

// VerificationLink maps an unguessable token to the group it verifies for.
// Minted on setup completion, consumed read-only whenever a user opens a
// verification DM; never deleted, so old links keep resolving while the
// group's current config applies.
type VerificationLink struct {
	Token     string    `json:"token" dynamodbav:"token"`
	GroupID   string    `json:"group_id" dynamodbav:"group_id"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}
