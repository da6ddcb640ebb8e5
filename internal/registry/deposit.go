package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// NotifyDeposit is the entry half of the deposit workflow. The ledger calls
// it after the payment-asset transfer to the treasury has finalized. It
// verifies the bond exists, captures the call into an intent, issues the
// asynchronous total-supply query, and returns the workflow id. No treasury
// state is written here.
func (r *Registry) NotifyDeposit(ctx context.Context, paymentAsset, depositor string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("registry: deposit amount must be positive")
	}

	bond, err := r.bonds.Get(ctx, paymentAsset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUnknownBond
		}
		return "", fmt.Errorf("registry: load bond %s: %w", paymentAsset, err)
	}

	intent := &domain.DepositIntent{
		ID:           uuid.New().String(),
		PaymentAsset: paymentAsset,
		Depositor:    depositor,
		Amount:       new(big.Int).Set(amount),
		RequestedAt:  r.clock.Now(),
	}
	r.track(intent.ID)

	r.logger.InfoContext(ctx, "deposit received, querying supply",
		slog.String("workflow_id", intent.ID),
		slog.String("payment_asset", paymentAsset),
		slog.String("depositor", depositor),
		slog.String("amount", amount.String()),
	)

	go r.querySupply(intent, bond.TokenPure)

	return intent.ID, nil
}

// querySupply performs the outstanding external call for a deposit intent and
// delivers its single result to the settlement loop. It runs detached from
// the caller's context: the workflow outlives the triggering request.
func (r *Registry) querySupply(intent *domain.DepositIntent, pureAsset string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()

	supply, err := r.token.TotalSupply(ctx, pureAsset)
	r.completions <- completion{deposit: intent, supply: supply, err: err}
}

// settleDeposit is the completion half. It re-fetches the on-record bond and
// holder, prices the deposit against the reported supply, and applies every
// mutation in one store transaction, or rejects and applies nothing.
func (r *Registry) settleDeposit(ctx context.Context, c completion) {
	intent := c.deposit
	if !r.beginSettle(ctx, intent.ID) {
		return
	}
	if c.err != nil {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, c.err)
		return
	}

	bond, err := r.bonds.Get(ctx, intent.PaymentAsset)
	if err != nil {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, err)
		return
	}

	now := r.clock.Now()
	price, err := bond.BondPrice(c.supply, now)
	if err != nil {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, err)
		return
	}
	if price.Sign() == 0 {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, domain.ErrZeroPrice)
		return
	}

	payout := new(big.Int).Mul(intent.Amount, domain.Decimal)
	payout.Div(payout, price)

	if payout.Cmp(bond.BondBalance) > 0 {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, domain.ErrBondTooLarge)
		return
	}

	bond.TotalDebt = new(big.Int).Add(bond.TotalDebt, intent.Amount)

	holder, err := r.holders.Get(ctx, intent.PaymentAsset, intent.Depositor)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		holder = domain.NewBondHolder(intent.Amount, payout, bond.Terms.VestingTerm, now, price)
	case err != nil:
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, err)
		return
	default:
		holder.Merge(intent.Amount, payout, bond.Terms.VestingTerm, now, price)
	}

	bond.BondBalance = new(big.Int).Sub(bond.BondBalance, payout)
	bond.TotalDeposit = new(big.Int).Add(bond.TotalDeposit, intent.Amount)
	bond.BondSold = new(big.Int).Add(bond.BondSold, payout)
	bond.LastDecay = now

	if err := r.bonds.ApplyDeposit(ctx, intent.PaymentAsset, intent.Depositor, bond, holder); err != nil {
		r.reject(ctx, "deposit", intent.ID, intent.PaymentAsset, intent.Depositor, err)
		return
	}

	if r.prices != nil {
		if err := r.prices.SetPrice(ctx, intent.PaymentAsset, price, time.Now().UTC()); err != nil {
			r.logger.WarnContext(ctx, "price cache update failed",
				slog.String("payment_asset", intent.PaymentAsset),
				slog.String("error", err.Error()),
			)
		}
	}

	r.logger.InfoContext(ctx, "deposit applied",
		slog.String("workflow_id", intent.ID),
		slog.String("payment_asset", intent.PaymentAsset),
		slog.String("depositor", intent.Depositor),
		slog.String("bond_price", price.String()),
		slog.String("payout", payout.String()),
	)

	detail := map[string]any{
		"amount":     intent.Amount.String(),
		"payout":     payout.String(),
		"bond_price": price.String(),
	}
	if sig := r.attest(ctx, intent.ID, "deposit_applied", intent.PaymentAsset, intent.Depositor, intent.Amount.String(), now); sig != "" {
		detail["attestation"] = sig
	}
	r.logAudit(ctx, domain.AuditEntry{
		WorkflowID:   intent.ID,
		Kind:         "deposit_applied",
		PaymentAsset: intent.PaymentAsset,
		Account:      intent.Depositor,
		Detail:       detail,
	})
	r.publish(ctx, ChannelDepositSettled, map[string]any{
		"workflow_id":   intent.ID,
		"payment_asset": intent.PaymentAsset,
		"depositor":     intent.Depositor,
		"amount":        intent.Amount.String(),
		"payout":        payout.String(),
		"bond_price":    price.String(),
	})
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, ChannelDepositSettled,
			"Deposit settled",
			fmt.Sprintf("%s deposited %s into %s (payout %s at price %s)",
				intent.Depositor, intent.Amount, intent.PaymentAsset, payout, price),
		)
	}
}
