package domain

import "math/big"

// WorkflowState tracks a two-phase workflow instance across its suspension
// point. A completion may only be applied to an intent in StateRequested;
// applying it transitions the intent to StateApplied or StateRejected, so a
// completion can never be applied twice.
type WorkflowState string

const (
	StateRequested WorkflowState = "requested"
	StateApplied   WorkflowState = "applied"
	StateRejected  WorkflowState = "rejected"
)

// DepositIntent captures the parameters of a deposit notification while the
// supply query is outstanding. No treasury state is written until the query
// answers.
type DepositIntent struct {
	ID           string
	PaymentAsset string
	Depositor    string
	Amount       *big.Int
	RequestedAt  uint64
}

// RedeemIntent captures a redeem request while the mint call is outstanding.
// CurrentTime is the timestamp the pending payout was computed at; the
// completion half replays it so the vesting window stays consistent across
// the suspension.
type RedeemIntent struct {
	ID           string
	PaymentAsset string
	Account      string
	MintAmount   *big.Int
	CurrentTime  uint64
}
