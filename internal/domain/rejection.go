package domain

import "time"

// RejectionStrikeLimit is the number of owner rejections after which a
// group is blocked for good. There is no unblock path.
const RejectionStrikeLimit = 3

// RejectedGroup tracks owner rejections of a group's whitelist requests.
// RejectionCount moves up by exactly one per owner rejection; Blocked
// becomes true when the count reaches RejectionStrikeLimit and never
// reverts.
type RejectedGroup struct {
	GroupID         string    `json:"group_id" dynamodbav:"group_id"`
	RejectionCount  int       `json:"rejection_count" dynamodbav:"rejection_count"`
	GroupName       string    `json:"group_name" dynamodbav:"group_name"`
	LastAdminID     string    `json:"last_admin_id" dynamodbav:"last_admin_id"`
	FirstRejectedAt time.Time `json:"first_rejected_at" dynamodbav:"first_rejected_at"`
	LastRejectedAt  time.Time `json:"last_rejected_at" dynamodbav:"last_rejected_at"`
	Blocked         bool      `json:"blocked" dynamodbav:"blocked"`
}

// StrikesLeft returns how many rejections remain before the block.
func (r *RejectedGroup) StrikesLeft() int {
	left := RejectionStrikeLimit - r.RejectionCount
	if left < 0 {
		return 0
	}
	return left
}
