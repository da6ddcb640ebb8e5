package domain

import "math/big"

// BondHolder is one depositor's vesting ledger entry for one bond.
//
// ValueRemaining and PayoutRemaining only grow through Merge and only shrink
// through redemption settlement; a fully redeemed entry stays on record with
// zeroed amounts.
type BondHolder struct {
	ValueRemaining  *big.Int
	PayoutRemaining *big.Int
	VestingPeriod   uint64
	LastTime        uint64
	PricePaid       *big.Int
}

// NewBondHolder creates the entry written on a depositor's first deposit into
// a bond.
func NewBondHolder(value, payout *big.Int, vestingPeriod, now uint64, price *big.Int) BondHolder {
	return BondHolder{
		ValueRemaining:  new(big.Int).Set(value),
		PayoutRemaining: new(big.Int).Set(payout),
		VestingPeriod:   vestingPeriod,
		LastTime:        now,
		PricePaid:       new(big.Int).Set(price),
	}
}

// Merge folds a new deposit into the entry: principal and payout accumulate,
// while the vesting period, clock and price are overwritten with the newest
// deposit's values. A later deposit therefore restarts vesting for the entire
// accumulated position, not just the new tranche.
func (h *BondHolder) Merge(value, payout *big.Int, vestingPeriod, now uint64, price *big.Int) {
	h.ValueRemaining = new(big.Int).Add(h.ValueRemaining, value)
	h.PayoutRemaining = new(big.Int).Add(h.PayoutRemaining, payout)
	h.VestingPeriod = vestingPeriod
	h.LastTime = now
	h.PricePaid = new(big.Int).Set(price)
}

// PercentVested returns the vested fraction at now in basis points
// (VestedFull = 100.00%). It is deliberately uncapped: once the vesting
// period has fully elapsed the result exceeds VestedFull, and callers clamp
// when using it as a fraction.
func (h *BondHolder) PercentVested(now uint64) uint64 {
	if h.VestingPeriod == 0 || now <= h.LastTime {
		return 0
	}
	return (now - h.LastTime) * VestedFull / h.VestingPeriod
}

// PendingPayout returns the payout claimable at now: the full remainder once
// fully vested, otherwise the vested fraction of it.
func (h *BondHolder) PendingPayout(now uint64) *big.Int {
	percent := h.PercentVested(now)
	if percent >= VestedFull {
		return new(big.Int).Set(h.PayoutRemaining)
	}
	pending := new(big.Int).Mul(h.PayoutRemaining, new(big.Int).SetUint64(percent))
	return pending.Div(pending, big.NewInt(VestedFull))
}
