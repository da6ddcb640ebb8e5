package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// Redeem is the entry half of the redeem workflow. It computes the pending
// payout at the current time, captures that time into the intent, issues the
// asynchronous mint, and returns the workflow id. The holder's ledger entry
// is untouched until the mint answers.
func (r *Registry) Redeem(ctx context.Context, paymentAsset, account string) (string, error) {
	bond, err := r.bonds.Get(ctx, paymentAsset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUnknownBond
		}
		return "", fmt.Errorf("registry: load bond %s: %w", paymentAsset, err)
	}

	holder, err := r.holders.Get(ctx, paymentAsset, account)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrHolderNotFound
		}
		return "", fmt.Errorf("registry: load holder %s/%s: %w", paymentAsset, account, err)
	}

	currentTime := r.clock.Now()
	intent := &domain.RedeemIntent{
		ID:           uuid.New().String(),
		PaymentAsset: paymentAsset,
		Account:      account,
		MintAmount:   holder.PendingPayout(currentTime),
		CurrentTime:  currentTime,
	}
	r.track(intent.ID)

	r.logger.InfoContext(ctx, "redeem received, requesting mint",
		slog.String("workflow_id", intent.ID),
		slog.String("payment_asset", paymentAsset),
		slog.String("account", account),
		slog.String("mint_amount", intent.MintAmount.String()),
	)

	go r.requestMint(intent, bond.TokenPure)

	return intent.ID, nil
}

// requestMint performs the outstanding mint call and delivers its single
// result to the settlement loop.
func (r *Registry) requestMint(intent *domain.RedeemIntent, pureAsset string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()

	err := r.token.Mint(ctx, pureAsset, intent.Account, intent.MintAmount)
	r.completions <- completion{redeem: intent, err: err}
}

// settleRedeem is the completion half. The vesting percent is recomputed at
// the captured request time, not a fresh now: the minted amount was priced at
// that instant and the principal reduction must use the same window.
func (r *Registry) settleRedeem(ctx context.Context, c completion) {
	intent := c.redeem
	if !r.beginSettle(ctx, intent.ID) {
		return
	}
	if c.err != nil {
		r.reject(ctx, "redeem", intent.ID, intent.PaymentAsset, intent.Account, c.err)
		return
	}

	bond, err := r.bonds.Get(ctx, intent.PaymentAsset)
	if err != nil {
		r.reject(ctx, "redeem", intent.ID, intent.PaymentAsset, intent.Account, err)
		return
	}
	holder, err := r.holders.Get(ctx, intent.PaymentAsset, intent.Account)
	if err != nil {
		r.reject(ctx, "redeem", intent.ID, intent.PaymentAsset, intent.Account, err)
		return
	}

	percent := holder.PercentVested(intent.CurrentTime)
	value := new(big.Int).Set(holder.ValueRemaining)
	if percent < domain.VestedFull {
		value.Mul(value, new(big.Int).SetUint64(percent))
		value.Div(value, big.NewInt(domain.VestedFull))
	}

	// The mint has already happened; a mint amount above the remaining
	// payout means the books and the token ledger have diverged.
	if holder.PayoutRemaining.Cmp(intent.MintAmount) < 0 {
		r.logger.ErrorContext(ctx, "invariant violation: "+domain.ErrPayoutUnderflow.Error(),
			slog.String("workflow_id", intent.ID),
			slog.String("payment_asset", intent.PaymentAsset),
			slog.String("account", intent.Account),
			slog.String("mint_amount", intent.MintAmount.String()),
			slog.String("payout_remaining", holder.PayoutRemaining.String()),
		)
		r.logAudit(ctx, domain.AuditEntry{
			WorkflowID:   intent.ID,
			Kind:         "redeem_invariant_violation",
			PaymentAsset: intent.PaymentAsset,
			Account:      intent.Account,
			Detail: map[string]any{
				"error":            domain.ErrPayoutUnderflow.Error(),
				"mint_amount":      intent.MintAmount.String(),
				"payout_remaining": holder.PayoutRemaining.String(),
			},
		})
		return
	}

	holder.ValueRemaining = new(big.Int).Sub(holder.ValueRemaining, value)
	holder.PayoutRemaining = new(big.Int).Sub(holder.PayoutRemaining, intent.MintAmount)
	holder.VestingPeriod = bond.Terms.VestingTerm
	holder.LastTime = intent.CurrentTime

	bond.LastDecay = r.clock.Now()
	bond.TotalDebt = new(big.Int).Sub(bond.TotalDebt, value)
	if bond.TotalDebt.Sign() < 0 {
		bond.TotalDebt.SetInt64(0)
	}

	if err := r.bonds.ApplyRedeem(ctx, intent.PaymentAsset, intent.Account, bond, holder); err != nil {
		r.reject(ctx, "redeem", intent.ID, intent.PaymentAsset, intent.Account, err)
		return
	}

	r.logger.InfoContext(ctx, "redeem applied",
		slog.String("workflow_id", intent.ID),
		slog.String("payment_asset", intent.PaymentAsset),
		slog.String("account", intent.Account),
		slog.String("minted", intent.MintAmount.String()),
		slog.String("value_released", value.String()),
	)

	detail := map[string]any{
		"minted":         intent.MintAmount.String(),
		"value_released": value.String(),
	}
	if sig := r.attest(ctx, intent.ID, "redeem_applied", intent.PaymentAsset, intent.Account, intent.MintAmount.String(), intent.CurrentTime); sig != "" {
		detail["attestation"] = sig
	}
	r.logAudit(ctx, domain.AuditEntry{
		WorkflowID:   intent.ID,
		Kind:         "redeem_applied",
		PaymentAsset: intent.PaymentAsset,
		Account:      intent.Account,
		Detail:       detail,
	})
	r.publish(ctx, ChannelRedeemSettled, map[string]any{
		"workflow_id":   intent.ID,
		"payment_asset": intent.PaymentAsset,
		"account":       intent.Account,
		"minted":        intent.MintAmount.String(),
	})
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, ChannelRedeemSettled,
			"Redeem settled",
			fmt.Sprintf("%s redeemed %s from %s", intent.Account, intent.MintAmount, intent.PaymentAsset),
		)
	}
}
