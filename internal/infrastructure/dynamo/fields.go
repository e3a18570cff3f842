package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldStatus          = "status"
	fieldBlocked         = "blocked"
	fieldGroupName       = "group_name"
	fieldLastAdminID     = "last_admin_id"
	fieldFirstRejectedAt = "first_rejected_at"
	fieldLastRejectedAt  = "last_rejected_at"
	fieldRejectionCount  = "rejection_count"
)
