package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// WorkflowService defines the treasury workflow methods the deposit handler
// requires.
type WorkflowService interface {
	NotifyDeposit(ctx context.Context, paymentAsset, depositor string, amount *big.Int) (string, error)
	Redeem(ctx context.Context, paymentAsset, account string) (string, error)
	Holder(ctx context.Context, paymentAsset, account string) (domain.BondHolder, error)
	PercentVested(ctx context.Context, paymentAsset, account string, at uint64) (uint64, error)
	PendingPayout(ctx context.Context, paymentAsset, account string, at uint64) (*big.Int, error)
}

// DepositHandler serves the deposit and redeem workflow endpoints plus the
// holder views.
type DepositHandler struct {
	treasury WorkflowService
	logger   *slog.Logger
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(treasury WorkflowService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{treasury: treasury, logger: logger}
}

// NotifyDeposit starts a deposit workflow. The ledger gateway calls it after
// the payment-asset transfer has finalized; the response carries the workflow
// id, not the settlement outcome, which arrives asynchronously on the bus.
// POST /api/deposits
func (h *DepositHandler) NotifyDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentAsset string `json:"payment_asset"`
		Depositor    string `json:"depositor"`
		Amount       string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Depositor == "" {
		writeError(w, http.StatusBadRequest, "depositor is required")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok || amount.Sign() == 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal string")
		return
	}

	id, err := h.treasury.NotifyDeposit(r.Context(), req.PaymentAsset, req.Depositor, amount)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownBond) {
			writeError(w, http.StatusNotFound, domain.ErrUnknownBond.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("payment_asset", req.PaymentAsset),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start deposit")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": id,
		"status":      "requested",
	})
}

// Redeem starts a redeem workflow for the caller's vested payout.
// POST /api/bonds/{asset}/redeem
func (h *DepositHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")

	var req struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	id, err := h.treasury.Redeem(r.Context(), asset, req.Account)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownBond):
			writeError(w, http.StatusNotFound, domain.ErrUnknownBond.Error())
		case errors.Is(err, domain.ErrHolderNotFound):
			writeError(w, http.StatusNotFound, domain.ErrHolderNotFound.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: redeem failed",
				slog.String("payment_asset", asset),
				slog.String("account", req.Account),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to start redeem")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": id,
		"status":      "requested",
	})
}

// GetPending returns only the vesting-derived numbers for a holder. An
// optional ?at=UNIX query evaluates the vesting window at a different time.
// GET /api/bonds/{asset}/holders/{account}/pending
func (h *DepositHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	account := r.PathValue("account")

	var at uint64
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be a Unix timestamp")
			return
		}
		at = parsed
	}

	percent, err := h.treasury.PercentVested(r.Context(), asset, account, at)
	if err != nil {
		if errors.Is(err, domain.ErrHolderNotFound) || errors.Is(err, domain.ErrUnknownBond) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pending failed",
			slog.String("payment_asset", asset),
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute vested percent")
		return
	}
	pending, err := h.treasury.PendingPayout(r.Context(), asset, account, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute pending payout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_asset":  asset,
		"account":        account,
		"percent_vested": percent,
		"pending_payout": pending.String(),
	})
}

// GetHolder returns a depositor's vesting entry with its derived vested
// percent and claimable payout. An optional ?at=UNIX query evaluates the
// vesting window at a different time.
// GET /api/bonds/{asset}/holders/{account}
func (h *DepositHandler) GetHolder(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	account := r.PathValue("account")

	var at uint64
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be a Unix timestamp")
			return
		}
		at = parsed
	}

	holder, err := h.treasury.Holder(r.Context(), asset, account)
	if err != nil {
		if errors.Is(err, domain.ErrHolderNotFound) || errors.Is(err, domain.ErrUnknownBond) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get holder failed",
			slog.String("payment_asset", asset),
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get holder")
		return
	}

	percent, err := h.treasury.PercentVested(r.Context(), asset, account, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute vested percent")
		return
	}
	pending, err := h.treasury.PendingPayout(r.Context(), asset, account, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute pending payout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_asset":    asset,
		"account":          account,
		"value_remaining":  holder.ValueRemaining.String(),
		"payout_remaining": holder.PayoutRemaining.String(),
		"vesting_period":   holder.VestingPeriod,
		"last_time":        holder.LastTime,
		"price_paid":       holder.PricePaid.String(),
		"percent_vested":   percent,
		"pending_payout":   pending.String(),
	})
}
