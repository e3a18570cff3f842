package domain

import "time"

// WhitelistEntry grants a group permission to complete setup without
// further owner approval.
type WhitelistEntry struct {
	GroupID     string    `json:"group_id" dynamodbav:"group_id"`
	Whitelisted bool      `json:"whitelisted" dynamodbav:"whitelisted"`
	GroupName   string    `json:"group_name" dynamodbav:"group_name"`
	ApprovedAt  time.Time `json:"approved_at" dynamodbav:"approved_at"`
}

// PendingWhitelistRequest is a group awaiting the owner's approve/reject
// decision. At most one per group; a repeat setup request replaces it, and
// it is removed on either decision.
type PendingWhitelistRequest struct {
	GroupID           string    `json:"group_id" dynamodbav:"group_id"`
	GroupName         string    `json:"group_name" dynamodbav:"group_name"`
	RequestingAdminID string    `json:"requesting_admin_id" dynamodbav:"requesting_admin_id"`
	RequestedAt       time.Time `json:"requested_at" dynamodbav:"requested_at"`
}
