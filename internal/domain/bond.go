// Package domain defines the bond treasury's value objects, the pricing and
// vesting arithmetic, and the store/cache/collaborator interfaces that the
// rest of the system implements.
package domain

import "math/big"

// Decimal is the implicit fixed-point scale of the payment asset's base unit.
// Every price and payout computation divides through this constant with
// truncating integer division; the truncation order is part of the contract
// and must not be reordered.
var Decimal = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// MaxU128 is the permissive upper bound used for unset caps and adjustment
// targets at bond registration.
var MaxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

const (
	// VestedFull is the basis-point value representing 100.00% vested.
	VestedFull = 10000

	// MinVestingTerm is the minimum vesting term in seconds (120 hours)
	// accepted by the validated terms setter.
	MinVestingTerm = 432000

	// MinPayoutCap is the minimum max_payout accepted by the validated
	// terms setter.
	MinPayoutCap = 1000

	// MinFee is the fee bound enforced by the validated terms setter. The
	// comparison direction is kept exactly as shipped even though it reads
	// inverted against its error message; see ErrFeeTooSmall.
	MinFee = 10000
)

// Terms holds the curve parameters of one bond.
type Terms struct {
	ControlVariable *big.Int
	VestingTerm     uint64
	MinimumPrice    *big.Int
	MaxPayout       *big.Int
	Fee             *big.Int
}

// Set replaces all terms after validating them. It returns ErrVestingTooShort,
// ErrPayoutCapTooSmall or ErrFeeTooSmall without touching the receiver when a
// bound is violated.
func (t *Terms) Set(controlVariable *big.Int, vestingTerm uint64, minimumPrice, maxPayout, fee *big.Int) error {
	if vestingTerm < MinVestingTerm {
		return ErrVestingTooShort
	}
	if maxPayout.Cmp(big.NewInt(MinPayoutCap)) < 0 {
		return ErrPayoutCapTooSmall
	}
	if fee.Cmp(big.NewInt(MinFee)) < 0 {
		return ErrFeeTooSmall
	}
	t.ControlVariable = new(big.Int).Set(controlVariable)
	t.VestingTerm = vestingTerm
	t.MinimumPrice = new(big.Int).Set(minimumPrice)
	t.MaxPayout = new(big.Int).Set(maxPayout)
	t.Fee = new(big.Int).Set(fee)
	return nil
}

// Adjust describes a pending control-variable adjustment: direction, step
// rate, and the terminal value. It is stored and validated but only ever
// applied by an operator action.
type Adjust struct {
	Add    bool
	Rate   *big.Int
	Target *big.Int
}

// BondData is the state of one bond instrument, keyed by its payment asset.
type BondData struct {
	// TokenPure is the payout asset minted to depositors.
	TokenPure string
	// Treasury is the account that received the deposited payment asset.
	// Informational; transfers happen before a deposit notification arrives.
	Treasury string

	BondBalance *big.Int
	Terms       Terms
	Adjust      Adjust

	TotalDebt *big.Int
	LastDecay uint64

	BondSold     *big.Int
	TotalDeposit *big.Int
}

// SetAdjust validates and replaces the pending adjustment. The rate must be at
// least vesting_term*30/1000.
func (b *BondData) SetAdjust(add bool, rate, target *big.Int) error {
	min := new(big.Int).Div(
		new(big.Int).Mul(new(big.Int).SetUint64(b.Terms.VestingTerm), big.NewInt(30)),
		big.NewInt(1000),
	)
	if rate.Cmp(min) < 0 {
		return ErrRateTooLow
	}
	b.Adjust = Adjust{
		Add:    add,
		Rate:   new(big.Int).Set(rate),
		Target: new(big.Int).Set(target),
	}
	return nil
}

// DebtDecay returns the portion of TotalDebt that has decayed since LastDecay,
// clamped to TotalDebt. A zero vesting term decays nothing.
func (b *BondData) DebtDecay(now uint64) *big.Int {
	if b.Terms.VestingTerm == 0 || now <= b.LastDecay {
		return big.NewInt(0)
	}
	elapsed := new(big.Int).SetUint64(now - b.LastDecay)
	decay := new(big.Int).Mul(b.TotalDebt, elapsed)
	decay.Div(decay, new(big.Int).SetUint64(b.Terms.VestingTerm))
	if decay.Cmp(b.TotalDebt) > 0 {
		decay.Set(b.TotalDebt)
	}
	return decay
}

// CurrentDebt returns TotalDebt minus the decay accrued up to now.
func (b *BondData) CurrentDebt(now uint64) *big.Int {
	return new(big.Int).Sub(b.TotalDebt, b.DebtDecay(now))
}

// BondPrice computes the bond price for the given payout-asset total supply:
//
//	debt_ratio = current_debt * Decimal / supply
//	price      = debt_ratio > 0 ? (control_variable*debt_ratio + Decimal) * 100 / Decimal : 0
//
// floored at MinimumPrice. It returns ErrZeroSupply when supply is zero.
func (b *BondData) BondPrice(tokenPureSupply *big.Int, now uint64) (*big.Int, error) {
	if tokenPureSupply == nil || tokenPureSupply.Sign() == 0 {
		return nil, ErrZeroSupply
	}

	debtRatio := new(big.Int).Mul(b.CurrentDebt(now), Decimal)
	debtRatio.Div(debtRatio, tokenPureSupply)

	price := big.NewInt(0)
	if debtRatio.Sign() > 0 {
		price.Mul(b.Terms.ControlVariable, debtRatio)
		price.Add(price, Decimal)
		price.Mul(price, big.NewInt(100))
		price.Div(price, Decimal)
	}

	if price.Cmp(b.Terms.MinimumPrice) < 0 {
		price.Set(b.Terms.MinimumPrice)
	}
	return price, nil
}
