package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// BondParams are the owner-supplied parameters for registering a new bond.
type BondParams struct {
	PaymentAsset    string
	TokenPure       string
	Treasury        string
	BondBalance     *big.Int
	ControlVariable *big.Int
	VestingTerm     uint64
	MinimumPrice    *big.Int
}

// RegisterBond creates a new bond instrument for a payment asset. Owner-only.
// MaxPayout and Fee start at permissive defaults and the adjustment at a
// neutral one; the validated setters apply only to later changes.
func (r *Registry) RegisterBond(ctx context.Context, caller string, p BondParams) error {
	if caller != r.cfg.OwnerID {
		return domain.ErrUnauthorized
	}
	if p.PaymentAsset == "" || p.TokenPure == "" {
		return fmt.Errorf("registry: payment and payout assets are required")
	}

	bond := domain.BondData{
		TokenPure:   p.TokenPure,
		Treasury:    p.Treasury,
		BondBalance: new(big.Int).Set(p.BondBalance),
		Terms: domain.Terms{
			ControlVariable: new(big.Int).Set(p.ControlVariable),
			VestingTerm:     p.VestingTerm,
			MinimumPrice:    new(big.Int).Set(p.MinimumPrice),
			MaxPayout:       new(big.Int).Set(domain.MaxU128),
			Fee:             big.NewInt(0),
		},
		Adjust: domain.Adjust{
			Add:    true,
			Rate:   big.NewInt(0),
			Target: new(big.Int).Set(domain.MaxU128),
		},
		TotalDebt:    big.NewInt(0),
		LastDecay:    r.clock.Now(),
		BondSold:     big.NewInt(0),
		TotalDeposit: big.NewInt(0),
	}

	if err := r.bonds.Create(ctx, p.PaymentAsset, bond); err != nil {
		return fmt.Errorf("registry: register bond %s: %w", p.PaymentAsset, err)
	}

	r.logger.InfoContext(ctx, "add new bond",
		slog.String("payment_asset", p.PaymentAsset),
		slog.String("token_pure", p.TokenPure),
		slog.String("bond_balance", p.BondBalance.String()),
	)

	r.logAudit(ctx, domain.AuditEntry{
		Kind:         "bond_registered",
		PaymentAsset: p.PaymentAsset,
		Detail: map[string]any{
			"token_pure":   p.TokenPure,
			"treasury":     p.Treasury,
			"bond_balance": p.BondBalance.String(),
			"vesting_term": p.VestingTerm,
		},
	})
	r.publish(ctx, ChannelBondRegistered, map[string]any{
		"payment_asset": p.PaymentAsset,
		"token_pure":    p.TokenPure,
	})
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, ChannelBondRegistered,
			"Bond registered",
			fmt.Sprintf("bond for %s paying %s", p.PaymentAsset, p.TokenPure),
		)
	}
	return nil
}

// SetVestingTerm overrides a bond's vesting term. Owner-only.
func (r *Registry) SetVestingTerm(ctx context.Context, caller, paymentAsset string, vestingTerm uint64) error {
	if caller != r.cfg.OwnerID {
		return domain.ErrUnauthorized
	}
	bond, err := r.bonds.Get(ctx, paymentAsset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnknownBond
		}
		return fmt.Errorf("registry: load bond %s: %w", paymentAsset, err)
	}

	bond.Terms.VestingTerm = vestingTerm
	if err := r.bonds.Update(ctx, paymentAsset, bond); err != nil {
		return fmt.Errorf("registry: update bond %s: %w", paymentAsset, err)
	}

	r.logAudit(ctx, domain.AuditEntry{
		Kind:         "vesting_term_set",
		PaymentAsset: paymentAsset,
		Detail:       map[string]any{"vesting_term": vestingTerm},
	})
	return nil
}

// SetAdjustment replaces a bond's pending curve adjustment. Owner-only; the
// rate bound is enforced by BondData.SetAdjust.
func (r *Registry) SetAdjustment(ctx context.Context, caller, paymentAsset string, add bool, rate, target *big.Int) error {
	if caller != r.cfg.OwnerID {
		return domain.ErrUnauthorized
	}
	bond, err := r.bonds.Get(ctx, paymentAsset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnknownBond
		}
		return fmt.Errorf("registry: load bond %s: %w", paymentAsset, err)
	}

	if err := bond.SetAdjust(add, rate, target); err != nil {
		return err
	}
	if err := r.bonds.Update(ctx, paymentAsset, bond); err != nil {
		return fmt.Errorf("registry: update bond %s: %w", paymentAsset, err)
	}

	r.logAudit(ctx, domain.AuditEntry{
		Kind:         "adjustment_set",
		PaymentAsset: paymentAsset,
		Detail: map[string]any{
			"add":    add,
			"rate":   rate.String(),
			"target": target.String(),
		},
	})
	return nil
}
