package domain

import (
	"context"
	"math/big"
)

// TokenService is the external fungible-token ledger the treasury depends on.
// Both calls are remote and may fail or take arbitrarily long; the registry
// treats any error as a workflow rejection and never mutates state on the
// strength of an unanswered call.
type TokenService interface {
	// TotalSupply returns the current total supply of asset.
	TotalSupply(ctx context.Context, asset string) (*big.Int, error)
	// Mint mints amount of asset to account.
	Mint(ctx context.Context, asset, account string, amount *big.Int) error
}
