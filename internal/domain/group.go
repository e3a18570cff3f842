package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupConfig is the token-gating rule for one group chat. Created by the
// onboarding workflow when setup completes; replaced in place when an admin
// re-runs setup. Balance thresholds are stored as decimal strings because
// DynamoDB numbers and float64 both lose precision on token amounts.
type GroupConfig struct {
	GroupID         string    `json:"group_id" dynamodbav:"group_id" validate:"required"`
	ChainID         string    `json:"chain_id" dynamodbav:"chain_id" validate:"required"`
	TokenAddress    string    `json:"token_address" dynamodbav:"token_address" validate:"required,evmaddr"`
	MinBalance      string    `json:"min_balance" dynamodbav:"min_balance" validate:"required"`
	VerifierAddress string    `json:"verifier_address" dynamodbav:"verifier_address" validate:"required,evmaddr"`
	CreatedAt       time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt       time.Time `json:"updated" dynamodbav:"updated_at"`
}

// MinBalanceDecimal parses the stored threshold. A config that fails here is
// corrupt; callers treat it as ErrNotConfigured.
func (g *GroupConfig) MinBalanceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(g.MinBalance)
}
