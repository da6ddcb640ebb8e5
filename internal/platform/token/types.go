package token

import (
	"fmt"
	"math/big"
)

// supplyResponse is the token service's answer to a total-supply query.
// Amounts travel as decimal strings because they exceed 64 bits.
type supplyResponse struct {
	Asset       string `json:"asset"`
	TotalSupply string `json:"total_supply"`
}

// mintRequest asks the token service to mint amount to account.
type mintRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// mintResponse acknowledges a mint.
type mintResponse struct {
	TxID   string `json:"tx_id"`
	Status string `json:"status"`
}

// errorResponse is the service's error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// parseAmount converts a decimal string into a non-negative big integer.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return n, nil
}
