package registry

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

const (
	testOwner = "owner.phoenix"
	testAsset = "payment.token"
	testPure  = "pure.token"
)

// --- fakes -----------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *fakeClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type fakeStore struct {
	mu      sync.Mutex
	bonds   map[string]domain.BondData
	holders map[string]domain.BondHolder
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bonds:   make(map[string]domain.BondData),
		holders: make(map[string]domain.BondHolder),
	}
}

func holderKey(asset, account string) string { return asset + "/" + account }

func (s *fakeStore) Create(_ context.Context, asset string, bond domain.BondData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[asset] = bond
	return nil
}

func (s *fakeStore) Get(_ context.Context, asset string) (domain.BondData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bond, ok := s.bonds[asset]
	if !ok {
		return domain.BondData{}, domain.ErrNotFound
	}
	return bond, nil
}

func (s *fakeStore) Update(_ context.Context, asset string, bond domain.BondData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[asset] = bond
	return nil
}

func (s *fakeStore) ListAssets(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assets := make([]string, 0, len(s.bonds))
	for a := range s.bonds {
		assets = append(assets, a)
	}
	return assets, nil
}

func (s *fakeStore) ApplyDeposit(_ context.Context, asset, account string, bond domain.BondData, holder domain.BondHolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[asset] = bond
	s.holders[holderKey(asset, account)] = holder
	return nil
}

func (s *fakeStore) ApplyRedeem(_ context.Context, asset, account string, bond domain.BondData, holder domain.BondHolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[asset] = bond
	s.holders[holderKey(asset, account)] = holder
	return nil
}

func (s *fakeStore) GetHolder(_ context.Context, asset, account string) (domain.BondHolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, ok := s.holders[holderKey(asset, account)]
	if !ok {
		return domain.BondHolder{}, domain.ErrNotFound
	}
	return holder, nil
}

func (s *fakeStore) putHolder(asset, account string, h domain.BondHolder) {
	s.mu.Lock()
	s.holders[holderKey(asset, account)] = h
	s.mu.Unlock()
}

// holderView adapts fakeStore to domain.HolderStore.
type holderView struct{ s *fakeStore }

func (v holderView) Get(ctx context.Context, asset, account string) (domain.BondHolder, error) {
	return v.s.GetHolder(ctx, asset, account)
}

type fakeToken struct {
	mu        sync.Mutex
	supply    *big.Int
	supplyErr error
	mintErr   error
	minted    []*big.Int
}

func (f *fakeToken) TotalSupply(_ context.Context, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return new(big.Int).Set(f.supply), nil
}

func (f *fakeToken) Mint(_ context.Context, _, _ string, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return f.mintErr
	}
	f.minted = append(f.minted, new(big.Int).Set(amount))
	return nil
}

// fakeAudit records audit rows in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (a *fakeAudit) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Kind)
	}
	return out
}

// fakeBus records published events and lets tests wait for them.
type fakeBus struct {
	events chan struct {
		channel string
		payload []byte
	}
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan struct {
		channel string
		payload []byte
	}, 64)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.events <- struct {
		channel string
		payload []byte
	}{channel, payload}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) wait(t *testing.T, channel string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-b.events:
			if ev.channel == channel {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", channel)
		}
	}
}

// --- harness ---------------------------------------------------------------

type harness struct {
	reg   *Registry
	store *fakeStore
	token *fakeToken
	bus   *fakeBus
	audit *fakeAudit
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newFakeStore()
	token := &fakeToken{supply: big.NewInt(2_000_000)}
	bus := newFakeBus()
	audit := &fakeAudit{}
	clock := &fakeClock{now: 1_000_000}

	reg := New(
		Config{OwnerID: testOwner, CallTimeout: time.Second},
		Deps{
			Bonds:   store,
			Holders: holderView{store},
			Audit:   audit,
			Token:   token,
			Bus:     bus,
			Clock:   clock,
		},
		slog.Default(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{reg: reg, store: store, token: token, bus: bus, audit: audit, clock: clock}
}

// flush pushes a doomed completion through the serial settlement loop and
// waits for its rejection, guaranteeing every completion queued before it has
// been consumed.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	const id = "flush"
	h.reg.track(id)
	h.reg.completions <- completion{
		deposit: &domain.DepositIntent{
			ID:           id,
			PaymentAsset: testAsset,
			Depositor:    "flush.phoenix",
			Amount:       big.NewInt(1),
		},
		err: errors.New("flush"),
	}
	h.bus.wait(t, ChannelWorkflowFailed)
}

func (h *harness) registerBond(t *testing.T) {
	t.Helper()
	err := h.reg.RegisterBond(context.Background(), testOwner, BondParams{
		PaymentAsset:    testAsset,
		TokenPure:       testPure,
		Treasury:        "treasury.phoenix",
		BondBalance:     new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil),
		ControlVariable: big.NewInt(2),
		VestingTerm:     432000,
		MinimumPrice:    big.NewInt(0),
	})
	require.NoError(t, err)
}

// --- admin -----------------------------------------------------------------

func TestRegisterBond(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("rejects non-owner", func(t *testing.T) {
		err := h.reg.RegisterBond(ctx, "mallory.phoenix", BondParams{
			PaymentAsset: testAsset, TokenPure: testPure,
			BondBalance: big.NewInt(1), ControlVariable: big.NewInt(1), MinimumPrice: big.NewInt(0),
		})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("initializes permissive defaults", func(t *testing.T) {
		h.registerBond(t)
		bond, err := h.store.Get(ctx, testAsset)
		require.NoError(t, err)
		assert.Equal(t, domain.MaxU128, bond.Terms.MaxPayout)
		assert.Zero(t, bond.Terms.Fee.Sign())
		assert.True(t, bond.Adjust.Add)
		assert.Zero(t, bond.Adjust.Rate.Sign())
		assert.Equal(t, domain.MaxU128, bond.Adjust.Target)
		assert.EqualValues(t, 1_000_000, bond.LastDecay)
	})
}

func TestSetAdjustment(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	require.ErrorIs(t,
		h.reg.SetAdjustment(ctx, "mallory.phoenix", testAsset, true, big.NewInt(1), big.NewInt(1)),
		domain.ErrUnauthorized)

	require.ErrorIs(t,
		h.reg.SetAdjustment(ctx, testOwner, testAsset, true, big.NewInt(12959), big.NewInt(1)),
		domain.ErrRateTooLow)

	require.NoError(t,
		h.reg.SetAdjustment(ctx, testOwner, testAsset, false, big.NewInt(12960), big.NewInt(7)))
	bond, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, big.NewInt(12960), bond.Adjust.Rate)
}

func TestSetVestingTerm(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	require.NoError(t, h.reg.SetVestingTerm(ctx, testOwner, testAsset, 500000))
	bond, _ := h.store.Get(ctx, testAsset)
	assert.EqualValues(t, 500000, bond.Terms.VestingTerm)

	require.ErrorIs(t, h.reg.SetVestingTerm(ctx, "mallory.phoenix", testAsset, 1), domain.ErrUnauthorized)
	require.ErrorIs(t, h.reg.SetVestingTerm(ctx, testOwner, "nosuch.token", 500000), domain.ErrUnknownBond)
}

// --- deposit workflow ------------------------------------------------------

func TestDepositWorkflow(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	amount := big.NewInt(1_000_000)

	// Seed debt so the curve prices above zero.
	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1_000_000)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))

	id, err := h.reg.NotifyDeposit(ctx, testAsset, "alice.phoenix", amount)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	h.bus.wait(t, ChannelDepositSettled)

	// debt_ratio = 1e6*Decimal/2e6, price = (2*ratio + Decimal)*100/Decimal = 200.
	price := big.NewInt(200)
	payout := new(big.Int).Div(new(big.Int).Mul(amount, domain.Decimal), price)

	got, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, big.NewInt(2_000_000), got.TotalDebt)
	assert.Equal(t, amount, got.TotalDeposit)
	assert.Equal(t, payout, got.BondSold)
	wantBalance := new(big.Int).Sub(new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil), payout)
	assert.Equal(t, wantBalance, got.BondBalance)

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, amount, holder.ValueRemaining)
	assert.Equal(t, payout, holder.PayoutRemaining)
	assert.Equal(t, price, holder.PricePaid)
	assert.EqualValues(t, 432000, holder.VestingPeriod)
	assert.EqualValues(t, 1_000_000, holder.LastTime)
}

func TestDepositMergesExistingHolder(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	h.store.putHolder(testAsset, "alice.phoenix",
		domain.NewBondHolder(big.NewInt(100), big.NewInt(50), 432000, 900_000, big.NewInt(999)))

	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1_000_000)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))

	h.clock.set(1_100_000)
	_, err := h.reg.NotifyDeposit(ctx, testAsset, "alice.phoenix", big.NewInt(100))
	require.NoError(t, err)
	h.bus.wait(t, ChannelDepositSettled)

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), holder.ValueRemaining)
	// Payout accumulated on top of the prior 50.
	assert.Equal(t, 1, holder.PayoutRemaining.Cmp(big.NewInt(50)))
	// Clock, period and price reset by the newest deposit.
	assert.EqualValues(t, 1_100_000, holder.LastTime)
	assert.NotEqual(t, big.NewInt(999), holder.PricePaid)
}

func TestDepositUnknownBond(t *testing.T) {
	h := newHarness(t)

	_, err := h.reg.NotifyDeposit(context.Background(), "nosuch.token", "alice.phoenix", big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnknownBond)
}

func TestDepositSupplyFailureMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	h.token.mu.Lock()
	h.token.supplyErr = errors.New("supply query timed out")
	h.token.mu.Unlock()

	before, _ := h.store.Get(ctx, testAsset)

	_, err := h.reg.NotifyDeposit(ctx, testAsset, "alice.phoenix", big.NewInt(1_000_000))
	require.NoError(t, err)
	h.bus.wait(t, ChannelWorkflowFailed)

	after, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, before, after)
	_, err = h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDepositTooLargeRejected(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	// Shrink capacity so any priced payout exceeds it.
	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1_000_000)
	bond.BondBalance = big.NewInt(10)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))

	before, _ := h.store.Get(ctx, testAsset)

	_, err := h.reg.NotifyDeposit(ctx, testAsset, "alice.phoenix", big.NewInt(1_000_000))
	require.NoError(t, err)
	h.bus.wait(t, ChannelWorkflowFailed)

	after, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, before, after)
}

// --- redeem workflow -------------------------------------------------------

func TestRedeemWorkflow(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1000)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))
	h.store.putHolder(testAsset, "alice.phoenix",
		domain.NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200)))

	// 50% vested.
	h.clock.set(1_000_000 + 216000)

	id, err := h.reg.Redeem(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	h.bus.wait(t, ChannelRedeemSettled)

	h.token.mu.Lock()
	require.Len(t, h.token.minted, 1)
	assert.Equal(t, big.NewInt(250), h.token.minted[0])
	h.token.mu.Unlock()

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), holder.ValueRemaining)
	assert.Equal(t, big.NewInt(250), holder.PayoutRemaining)
	assert.EqualValues(t, 1_216_000, holder.LastTime)

	got, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, big.NewInt(500), got.TotalDebt)
}

func TestRedeemFullyVested(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1000)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))
	h.store.putHolder(testAsset, "alice.phoenix",
		domain.NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200)))

	h.clock.set(1_000_000 + 900000)

	_, err := h.reg.Redeem(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	h.bus.wait(t, ChannelRedeemSettled)

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Zero(t, holder.ValueRemaining.Sign())
	assert.Zero(t, holder.PayoutRemaining.Sign())
}

func TestRedeemNoHolder(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)

	_, err := h.reg.Redeem(context.Background(), testAsset, "nobody.phoenix")
	require.ErrorIs(t, err, domain.ErrHolderNotFound)
}

func TestRedeemMintFailureMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	seed := domain.NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200))
	h.store.putHolder(testAsset, "alice.phoenix", seed)
	h.clock.set(1_216_000)

	h.token.mu.Lock()
	h.token.mintErr = errors.New("mint rejected")
	h.token.mu.Unlock()

	_, err := h.reg.Redeem(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	h.bus.wait(t, ChannelWorkflowFailed)

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, seed, holder)
}

func TestDuplicateCompletionNotApplied(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	bond, _ := h.store.Get(ctx, testAsset)
	bond.TotalDebt = big.NewInt(1_000_000)
	require.NoError(t, h.store.Update(ctx, testAsset, bond))

	id, err := h.reg.NotifyDeposit(ctx, testAsset, "alice.phoenix", big.NewInt(1_000_000))
	require.NoError(t, err)
	h.bus.wait(t, ChannelDepositSettled)

	settledBond, _ := h.store.Get(ctx, testAsset)
	settledHolder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)

	// Re-deliver the already consumed result for the same intent.
	h.reg.completions <- completion{
		deposit: &domain.DepositIntent{
			ID:           id,
			PaymentAsset: testAsset,
			Depositor:    "alice.phoenix",
			Amount:       big.NewInt(1_000_000),
			RequestedAt:  1_000_000,
		},
		supply: big.NewInt(2_000_000),
	}
	h.flush(t)

	afterBond, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, settledBond, afterBond)
	afterHolder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, settledHolder, afterHolder)
}

func TestRedeemPayoutUnderflowMutatesNothing(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	seed := domain.NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200))
	h.store.putHolder(testAsset, "alice.phoenix", seed)
	bondBefore, _ := h.store.Get(ctx, testAsset)

	// A mint above the remaining payout means the books and the token ledger
	// have diverged. The loop must refuse to apply it.
	const id = "diverged-redeem"
	h.reg.track(id)
	h.reg.completions <- completion{
		redeem: &domain.RedeemIntent{
			ID:           id,
			PaymentAsset: testAsset,
			Account:      "alice.phoenix",
			MintAmount:   big.NewInt(501),
			CurrentTime:  1_216_000,
		},
	}
	h.flush(t)

	holder, err := h.store.GetHolder(ctx, testAsset, "alice.phoenix")
	require.NoError(t, err)
	assert.Equal(t, seed, holder)
	bondAfter, _ := h.store.Get(ctx, testAsset)
	assert.Equal(t, bondBefore, bondAfter)

	assert.Contains(t, h.audit.kinds(), "redeem_invariant_violation")
}

// --- views -----------------------------------------------------------------

func TestViewsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.registerBond(t)
	ctx := context.Background()

	h.store.putHolder(testAsset, "alice.phoenix",
		domain.NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200)))

	for i := 0; i < 3; i++ {
		balance, err := h.reg.BondBalance(ctx, testAsset)
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil), balance)

		total, err := h.reg.TotalDeposit(ctx, testAsset)
		require.NoError(t, err)
		assert.Zero(t, total.Sign())

		holder, err := h.reg.Holder(ctx, testAsset, "alice.phoenix")
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(500), holder.PayoutRemaining)
	}

	_, err := h.reg.Holder(ctx, testAsset, "nobody.phoenix")
	require.ErrorIs(t, err, domain.ErrHolderNotFound)

	_, err = h.reg.BondPrice(ctx, testAsset, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrZeroSupply)
}
