package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// Bond returns the on-record bond for a payment asset.
func (r *Registry) Bond(ctx context.Context, paymentAsset string) (domain.BondData, error) {
	bond, err := r.bonds.Get(ctx, paymentAsset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BondData{}, domain.ErrUnknownBond
		}
		return domain.BondData{}, fmt.Errorf("registry: load bond %s: %w", paymentAsset, err)
	}
	return bond, nil
}

// BondPrice prices a bond against a caller-supplied payout-asset supply. Pure
// computation over current state; no external call is made.
func (r *Registry) BondPrice(ctx context.Context, paymentAsset string, tokenPureSupply *big.Int) (*big.Int, error) {
	bond, err := r.Bond(ctx, paymentAsset)
	if err != nil {
		return nil, err
	}
	return bond.BondPrice(tokenPureSupply, r.clock.Now())
}

// Assets returns every registered payment asset.
func (r *Registry) Assets(ctx context.Context) ([]string, error) {
	assets, err := r.bonds.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list assets: %w", err)
	}
	return assets, nil
}

// Holder returns a depositor's vesting entry.
func (r *Registry) Holder(ctx context.Context, paymentAsset, account string) (domain.BondHolder, error) {
	holder, err := r.holders.Get(ctx, paymentAsset, account)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BondHolder{}, domain.ErrHolderNotFound
		}
		return domain.BondHolder{}, fmt.Errorf("registry: load holder %s/%s: %w", paymentAsset, account, err)
	}
	return holder, nil
}

// TotalDeposit returns the cumulative principal received for a bond.
func (r *Registry) TotalDeposit(ctx context.Context, paymentAsset string) (*big.Int, error) {
	bond, err := r.Bond(ctx, paymentAsset)
	if err != nil {
		return nil, err
	}
	return bond.TotalDeposit, nil
}

// BondBalance returns the payout-asset capacity still for sale.
func (r *Registry) BondBalance(ctx context.Context, paymentAsset string) (*big.Int, error) {
	bond, err := r.Bond(ctx, paymentAsset)
	if err != nil {
		return nil, err
	}
	return bond.BondBalance, nil
}

// PercentVested returns a holder's vested basis points at the given time, or
// at the current time when at is zero.
func (r *Registry) PercentVested(ctx context.Context, paymentAsset, account string, at uint64) (uint64, error) {
	holder, err := r.Holder(ctx, paymentAsset, account)
	if err != nil {
		return 0, err
	}
	if at == 0 {
		at = r.clock.Now()
	}
	return holder.PercentVested(at), nil
}

// PendingPayout returns the payout a holder could claim at the given time, or
// at the current time when at is zero.
func (r *Registry) PendingPayout(ctx context.Context, paymentAsset, account string, at uint64) (*big.Int, error) {
	holder, err := r.Holder(ctx, paymentAsset, account)
	if err != nil {
		return nil, err
	}
	if at == 0 {
		at = r.clock.Now()
	}
	return holder.PendingPayout(at), nil
}
