package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// Terms and adjustment validation errors. The ledger gateway matches on
	// these messages, so the wording is load-bearing.
	ErrVestingTooShort   = errors.New("vesting must be longer than 120 hours")
	ErrPayoutCapTooSmall = errors.New("payout cannot be above 1 percent")
	// ErrFeeTooSmall pairs a >= 10000 lower bound with the "too big"
	// message the gateway expects; see Terms.Set.
	ErrFeeTooSmall = errors.New("the fee is too big")
	ErrRateTooLow  = errors.New("rate too large")

	// Domain errors.
	ErrUnknownBond     = errors.New("unknown payment token")
	ErrHolderNotFound  = errors.New("bond holder not found")
	ErrBondTooLarge    = errors.New("bond too large")
	ErrZeroSupply      = errors.New("payout token supply is zero")
	ErrZeroPrice       = errors.New("bond price is zero")
	ErrPayoutUnderflow = errors.New("mint amount exceeds payout remaining")
)
