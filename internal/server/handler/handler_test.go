package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixfi/bondtreasury/internal/domain"
	"github.com/phoenixfi/bondtreasury/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWorkflow struct {
	depositID  string
	depositErr error
	redeemID   string
	redeemErr  error
	holder     domain.BondHolder
	holderErr  error
	percent    uint64
	pending    *big.Int

	gotAsset   string
	gotAccount string
	gotAmount  *big.Int
	gotAt      uint64
}

func (f *fakeWorkflow) NotifyDeposit(_ context.Context, asset, depositor string, amount *big.Int) (string, error) {
	f.gotAsset, f.gotAccount, f.gotAmount = asset, depositor, amount
	return f.depositID, f.depositErr
}

func (f *fakeWorkflow) Redeem(_ context.Context, asset, account string) (string, error) {
	f.gotAsset, f.gotAccount = asset, account
	return f.redeemID, f.redeemErr
}

func (f *fakeWorkflow) Holder(_ context.Context, asset, account string) (domain.BondHolder, error) {
	return f.holder, f.holderErr
}

func (f *fakeWorkflow) PercentVested(_ context.Context, asset, account string, at uint64) (uint64, error) {
	f.gotAt = at
	if f.holderErr != nil {
		return 0, f.holderErr
	}
	return f.percent, nil
}

func (f *fakeWorkflow) PendingPayout(_ context.Context, asset, account string, at uint64) (*big.Int, error) {
	if f.holderErr != nil {
		return nil, f.holderErr
	}
	return f.pending, nil
}

type fakeBonds struct {
	bond     domain.BondData
	bondErr  error
	price    *big.Int
	priceErr error
	adminErr error

	gotCaller string
	gotParams registry.BondParams
}

func (f *fakeBonds) Assets(context.Context) ([]string, error) {
	return []string{"payment.token"}, nil
}

func (f *fakeBonds) Bond(context.Context, string) (domain.BondData, error) {
	return f.bond, f.bondErr
}

func (f *fakeBonds) BondPrice(context.Context, string, *big.Int) (*big.Int, error) {
	return f.price, f.priceErr
}

func (f *fakeBonds) RegisterBond(_ context.Context, caller string, p registry.BondParams) error {
	f.gotCaller, f.gotParams = caller, p
	return f.adminErr
}

func (f *fakeBonds) SetVestingTerm(_ context.Context, caller, asset string, term uint64) error {
	f.gotCaller = caller
	return f.adminErr
}

func (f *fakeBonds) SetAdjustment(_ context.Context, caller, asset string, add bool, rate, target *big.Int) error {
	f.gotCaller = caller
	return f.adminErr
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNotifyDeposit(t *testing.T) {
	wf := &fakeWorkflow{depositID: "wf-1"}
	h := NewDepositHandler(wf, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/deposits",
		strings.NewReader(`{"payment_asset":"payment.token","depositor":"alice.phoenix","amount":"1000"}`))
	rec := httptest.NewRecorder()
	h.NotifyDeposit(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "wf-1", body["workflow_id"])
	assert.Equal(t, "requested", body["status"])
	assert.Equal(t, "payment.token", wf.gotAsset)
	assert.Equal(t, "1000", wf.gotAmount.String())

	t.Run("rejects zero amount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/deposits",
			strings.NewReader(`{"payment_asset":"payment.token","depositor":"alice.phoenix","amount":"0"}`))
		rec := httptest.NewRecorder()
		h.NotifyDeposit(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown bond", func(t *testing.T) {
		h := NewDepositHandler(&fakeWorkflow{depositErr: domain.ErrUnknownBond}, discardLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/deposits",
			strings.NewReader(`{"payment_asset":"nope.token","depositor":"alice.phoenix","amount":"1"}`))
		rec := httptest.NewRecorder()
		h.NotifyDeposit(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRedeem(t *testing.T) {
	wf := &fakeWorkflow{redeemID: "wf-2"}
	h := NewDepositHandler(wf, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/bonds/payment.token/redeem",
		strings.NewReader(`{"account":"alice.phoenix"}`))
	req.SetPathValue("asset", "payment.token")
	rec := httptest.NewRecorder()
	h.Redeem(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "wf-2", decodeBody(t, rec)["workflow_id"])

	t.Run("no holder", func(t *testing.T) {
		h := NewDepositHandler(&fakeWorkflow{redeemErr: domain.ErrHolderNotFound}, discardLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/bonds/payment.token/redeem",
			strings.NewReader(`{"account":"bob.phoenix"}`))
		req.SetPathValue("asset", "payment.token")
		rec := httptest.NewRecorder()
		h.Redeem(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetHolder(t *testing.T) {
	wf := &fakeWorkflow{
		holder: domain.BondHolder{
			ValueRemaining:  big.NewInt(1000),
			PayoutRemaining: big.NewInt(500),
			VestingPeriod:   432000,
			LastTime:        1_000_000,
			PricePaid:       big.NewInt(200),
		},
		percent: 5000,
		pending: big.NewInt(250),
	}
	h := NewDepositHandler(wf, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/holders/alice.phoenix?at=1216000", nil)
	req.SetPathValue("asset", "payment.token")
	req.SetPathValue("account", "alice.phoenix")
	rec := httptest.NewRecorder()
	h.GetHolder(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "500", body["payout_remaining"])
	assert.Equal(t, float64(5000), body["percent_vested"])
	assert.Equal(t, "250", body["pending_payout"])
	assert.Equal(t, uint64(1_216_000), wf.gotAt)
}

func TestGetPending(t *testing.T) {
	wf := &fakeWorkflow{percent: 10000, pending: big.NewInt(500)}
	h := NewDepositHandler(wf, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/holders/alice.phoenix/pending", nil)
	req.SetPathValue("asset", "payment.token")
	req.SetPathValue("account", "alice.phoenix")
	rec := httptest.NewRecorder()
	h.GetPending(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(10000), body["percent_vested"])
	assert.Equal(t, "500", body["pending_payout"])

	t.Run("holder missing", func(t *testing.T) {
		h := NewDepositHandler(&fakeWorkflow{holderErr: domain.ErrHolderNotFound}, discardLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/holders/bob.phoenix/pending", nil)
		req.SetPathValue("asset", "payment.token")
		req.SetPathValue("account", "bob.phoenix")
		rec := httptest.NewRecorder()
		h.GetPending(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetPrice(t *testing.T) {
	fb := &fakeBonds{price: big.NewInt(220)}
	h := NewBondHandler(fb, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/price?supply=2000000", nil)
	req.SetPathValue("asset", "payment.token")
	rec := httptest.NewRecorder()
	h.GetPrice(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "220", decodeBody(t, rec)["price"])

	t.Run("zero supply", func(t *testing.T) {
		h := NewBondHandler(&fakeBonds{priceErr: domain.ErrZeroSupply}, nil, discardLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/price?supply=0", nil)
		req.SetPathValue("asset", "payment.token")
		rec := httptest.NewRecorder()
		h.GetPrice(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing supply param", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/bonds/payment.token/price", nil)
		req.SetPathValue("asset", "payment.token")
		rec := httptest.NewRecorder()
		h.GetPrice(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRegisterBond(t *testing.T) {
	fb := &fakeBonds{}
	h := NewBondHandler(fb, nil, discardLogger())

	payload := `{"payment_asset":"payment.token","token_pure":"pure.token","treasury":"treasury.phoenix",` +
		`"bond_balance":"1000000","control_variable":"2","vesting_term":432000,"minimum_price":"0"}`
	req := httptest.NewRequest(http.MethodPost, "/api/bonds", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "owner.phoenix")
	rec := httptest.NewRecorder()
	h.RegisterBond(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "owner.phoenix", fb.gotCaller)
	assert.Equal(t, "pure.token", fb.gotParams.TokenPure)
	assert.Equal(t, "1000000", fb.gotParams.BondBalance.String())

	t.Run("non-owner forbidden", func(t *testing.T) {
		h := NewBondHandler(&fakeBonds{adminErr: domain.ErrUnauthorized}, nil, discardLogger())
		req := httptest.NewRequest(http.MethodPost, "/api/bonds", strings.NewReader(payload))
		req.Header.Set("X-Account-ID", "mallory.phoenix")
		rec := httptest.NewRecorder()
		h.RegisterBond(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestSetAdjustmentValidation(t *testing.T) {
	h := NewBondHandler(&fakeBonds{adminErr: domain.ErrRateTooLow}, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPut, "/api/bonds/payment.token/adjustment",
		strings.NewReader(`{"add":true,"rate":"1","target":"100"}`))
	req.SetPathValue("asset", "payment.token")
	req.Header.Set("X-Account-ID", "owner.phoenix")
	rec := httptest.NewRecorder()
	h.SetAdjustment(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
