package domain

import "time"

// UserRecord is the durable outcome of a verified session, keyed by
// (group_id, user_id). Created exactly when a session reaches Verified;
// deleted when the re-verification sweep evicts the user. Writes are
// serialized per key between the engine and the scheduler.
type UserRecord struct {
	GroupID           string    `json:"group_id" dynamodbav:"group_id"`
	UserID            string    `json:"user_id" dynamodbav:"user_id"`
	Address           string    `json:"address" dynamodbav:"address"` // always lowercase
	Verified          bool      `json:"verified" dynamodbav:"verified"`
	LastVerifiedAt    time.Time `json:"last_verified_at" dynamodbav:"last_verified_at"`
	TransferConfirmed bool      `json:"transfer_confirmed" dynamodbav:"transfer_confirmed"`
	TxHash            string    `json:"tx_hash,omitempty" dynamodbav:"tx_hash"`
	CreatedAt         time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt         time.Time `json:"updated" dynamodbav:"updated_at"`
}
