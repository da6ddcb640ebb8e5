package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/phoenixfi/bondtreasury/internal/domain"
	"github.com/phoenixfi/bondtreasury/internal/registry"
)

// BondService defines the treasury methods the bond handler requires.
type BondService interface {
	Assets(ctx context.Context) ([]string, error)
	Bond(ctx context.Context, paymentAsset string) (domain.BondData, error)
	BondPrice(ctx context.Context, paymentAsset string, tokenPureSupply *big.Int) (*big.Int, error)
	RegisterBond(ctx context.Context, caller string, p registry.BondParams) error
	SetVestingTerm(ctx context.Context, caller, paymentAsset string, vestingTerm uint64) error
	SetAdjustment(ctx context.Context, caller, paymentAsset string, add bool, rate, target *big.Int) error
}

// PriceReader reads cached settled prices for the list view.
type PriceReader interface {
	GetPrices(ctx context.Context, paymentAssets []string) (map[string]*big.Int, error)
}

// BondHandler serves bond instrument endpoints.
type BondHandler struct {
	treasury BondService
	prices   PriceReader
	logger   *slog.Logger
}

// NewBondHandler creates a BondHandler. prices may be nil; the list view then
// omits cached prices.
func NewBondHandler(treasury BondService, prices PriceReader, logger *slog.Logger) *BondHandler {
	return &BondHandler{treasury: treasury, prices: prices, logger: logger}
}

// bondView is the JSON rendering of a bond. Amounts are decimal strings.
type bondView struct {
	PaymentAsset    string `json:"payment_asset"`
	TokenPure       string `json:"token_pure"`
	Treasury        string `json:"treasury"`
	BondBalance     string `json:"bond_balance"`
	ControlVariable string `json:"control_variable"`
	VestingTerm     uint64 `json:"vesting_term"`
	MinimumPrice    string `json:"minimum_price"`
	MaxPayout       string `json:"max_payout"`
	Fee             string `json:"fee"`
	TotalDebt       string `json:"total_debt"`
	LastDecay       uint64 `json:"last_decay"`
	BondSold        string `json:"bond_sold"`
	TotalDeposit    string `json:"total_deposit"`
}

func toBondView(paymentAsset string, b domain.BondData) bondView {
	return bondView{
		PaymentAsset:    paymentAsset,
		TokenPure:       b.TokenPure,
		Treasury:        b.Treasury,
		BondBalance:     b.BondBalance.String(),
		ControlVariable: b.Terms.ControlVariable.String(),
		VestingTerm:     b.Terms.VestingTerm,
		MinimumPrice:    b.Terms.MinimumPrice.String(),
		MaxPayout:       b.Terms.MaxPayout.String(),
		Fee:             b.Terms.Fee.String(),
		TotalDebt:       b.TotalDebt.String(),
		LastDecay:       b.LastDecay,
		BondSold:        b.BondSold.String(),
		TotalDeposit:    b.TotalDeposit.String(),
	}
}

// ListBonds returns every registered payment asset with its last settled
// price when one is cached.
// GET /api/bonds
func (h *BondHandler) ListBonds(w http.ResponseWriter, r *http.Request) {
	assets, err := h.treasury.Assets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bonds failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bonds")
		return
	}
	if assets == nil {
		assets = []string{}
	}

	prices := map[string]string{}
	if h.prices != nil {
		cached, err := h.prices.GetPrices(r.Context(), assets)
		if err == nil {
			for asset, price := range cached {
				prices[asset] = price.String()
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assets":      assets,
		"count":       len(assets),
		"last_prices": prices,
	})
}

// GetBond returns a single bond keyed by its payment asset.
// GET /api/bonds/{asset}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "missing payment asset")
		return
	}

	bond, err := h.treasury.Bond(r.Context(), asset)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownBond) {
			writeError(w, http.StatusNotFound, domain.ErrUnknownBond.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get bond failed",
			slog.String("payment_asset", asset),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get bond")
		return
	}

	writeJSON(w, http.StatusOK, toBondView(asset, bond))
}

// GetPrice prices a bond against a caller-supplied payout-asset supply.
// GET /api/bonds/{asset}/price?supply=N
func (h *BondHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	supply, ok := parseAmount(r.URL.Query().Get("supply"))
	if !ok {
		writeError(w, http.StatusBadRequest, "supply must be a non-negative decimal string")
		return
	}

	price, err := h.treasury.BondPrice(r.Context(), asset, supply)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownBond):
			writeError(w, http.StatusNotFound, domain.ErrUnknownBond.Error())
		case errors.Is(err, domain.ErrZeroSupply):
			writeError(w, http.StatusBadRequest, domain.ErrZeroSupply.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: bond price failed",
				slog.String("payment_asset", asset),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to price bond")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"payment_asset": asset,
		"price":         price.String(),
	})
}

// registerBondRequest is the POST /api/bonds payload.
type registerBondRequest struct {
	PaymentAsset    string `json:"payment_asset"`
	TokenPure       string `json:"token_pure"`
	Treasury        string `json:"treasury"`
	BondBalance     string `json:"bond_balance"`
	ControlVariable string `json:"control_variable"`
	VestingTerm     uint64 `json:"vesting_term"`
	MinimumPrice    string `json:"minimum_price"`
}

// RegisterBond creates a new bond instrument. Owner-only.
// POST /api/bonds
func (h *BondHandler) RegisterBond(w http.ResponseWriter, r *http.Request) {
	var req registerBondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	balance, ok := parseAmount(req.BondBalance)
	if !ok {
		writeError(w, http.StatusBadRequest, "bond_balance must be a non-negative decimal string")
		return
	}
	cv, ok := parseAmount(req.ControlVariable)
	if !ok {
		writeError(w, http.StatusBadRequest, "control_variable must be a non-negative decimal string")
		return
	}
	minPrice, ok := parseAmount(req.MinimumPrice)
	if !ok {
		writeError(w, http.StatusBadRequest, "minimum_price must be a non-negative decimal string")
		return
	}

	err := h.treasury.RegisterBond(r.Context(), callerID(r), registry.BondParams{
		PaymentAsset:    req.PaymentAsset,
		TokenPure:       req.TokenPure,
		Treasury:        req.Treasury,
		BondBalance:     balance,
		ControlVariable: cv,
		VestingTerm:     req.VestingTerm,
		MinimumPrice:    minPrice,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, domain.ErrUnauthorized.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: register bond failed",
			slog.String("payment_asset", req.PaymentAsset),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"payment_asset": req.PaymentAsset,
		"status":        "registered",
	})
}

// SetVesting overrides a bond's vesting term. Owner-only.
// PUT /api/bonds/{asset}/vesting
func (h *BondHandler) SetVesting(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")

	var req struct {
		VestingTerm uint64 `json:"vesting_term"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.treasury.SetVestingTerm(r.Context(), callerID(r), asset, req.VestingTerm); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_asset": asset,
		"vesting_term":  req.VestingTerm,
	})
}

// SetAdjustment replaces a bond's pending curve adjustment. Owner-only.
// PUT /api/bonds/{asset}/adjustment
func (h *BondHandler) SetAdjustment(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")

	var req struct {
		Add    bool   `json:"add"`
		Rate   string `json:"rate"`
		Target string `json:"target"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rate, ok := parseAmount(req.Rate)
	if !ok {
		writeError(w, http.StatusBadRequest, "rate must be a non-negative decimal string")
		return
	}
	target, ok := parseAmount(req.Target)
	if !ok {
		writeError(w, http.StatusBadRequest, "target must be a non-negative decimal string")
		return
	}

	if err := h.treasury.SetAdjustment(r.Context(), callerID(r), asset, req.Add, rate, target); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_asset": asset,
		"add":           req.Add,
		"rate":          rate.String(),
		"target":        target.String(),
	})
}

// writeAdminError maps admin operation errors to HTTP statuses.
func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, domain.ErrUnauthorized.Error())
	case errors.Is(err, domain.ErrUnknownBond):
		writeError(w, http.StatusNotFound, domain.ErrUnknownBond.Error())
	case errors.Is(err, domain.ErrRateTooLow),
		errors.Is(err, domain.ErrVestingTooShort),
		errors.Is(err, domain.ErrPayoutCapTooSmall),
		errors.Is(err, domain.ErrFeeTooSmall):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
