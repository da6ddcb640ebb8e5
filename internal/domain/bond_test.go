package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBond() BondData {
	return BondData{
		TokenPure:   "pure.token",
		Treasury:    "treasury.phoenix",
		BondBalance: big.NewInt(10_000_000),
		Terms: Terms{
			ControlVariable: big.NewInt(2),
			VestingTerm:     432000,
			MinimumPrice:    big.NewInt(0),
			MaxPayout:       new(big.Int).Set(MaxU128),
			Fee:             big.NewInt(0),
		},
		Adjust: Adjust{
			Add:    true,
			Rate:   big.NewInt(0),
			Target: new(big.Int).Set(MaxU128),
		},
		TotalDebt:    big.NewInt(1_000_000),
		LastDecay:    1_000_000,
		BondSold:     big.NewInt(0),
		TotalDeposit: big.NewInt(0),
	}
}

func TestDebtDecay(t *testing.T) {
	b := newTestBond()

	t.Run("zero elapsed decays nothing", func(t *testing.T) {
		assert.Zero(t, b.DebtDecay(b.LastDecay).Sign())
		assert.Equal(t, b.TotalDebt, b.CurrentDebt(b.LastDecay))
	})

	t.Run("proportional to elapsed time", func(t *testing.T) {
		// Half the vesting term decays half the debt.
		got := b.DebtDecay(b.LastDecay + 216000)
		assert.Equal(t, big.NewInt(500_000), got)
	})

	t.Run("clamped at total debt", func(t *testing.T) {
		got := b.DebtDecay(b.LastDecay + 10*432000)
		assert.Equal(t, b.TotalDebt, got)
		assert.Zero(t, b.CurrentDebt(b.LastDecay+10*432000).Sign())
	})

	t.Run("full vesting term decays exactly total debt", func(t *testing.T) {
		assert.Equal(t, b.TotalDebt, b.DebtDecay(b.LastDecay+432000))
	})

	t.Run("zero vesting term decays nothing", func(t *testing.T) {
		zb := newTestBond()
		zb.Terms.VestingTerm = 0
		assert.Zero(t, zb.DebtDecay(zb.LastDecay+100).Sign())
	})
}

func TestBondPrice(t *testing.T) {
	b := newTestBond()
	supply := big.NewInt(2_000_000)
	now := b.LastDecay

	t.Run("zero supply rejected", func(t *testing.T) {
		_, err := b.BondPrice(big.NewInt(0), now)
		require.ErrorIs(t, err, ErrZeroSupply)
	})

	t.Run("matches curve formula", func(t *testing.T) {
		price, err := b.BondPrice(supply, now)
		require.NoError(t, err)

		// debt_ratio = 1_000_000 * Decimal / 2_000_000 = Decimal/2
		// price = (2*Decimal/2 + Decimal) * 100 / Decimal = 200
		assert.Equal(t, big.NewInt(200), price)
	})

	t.Run("monotone in current debt", func(t *testing.T) {
		low, err := b.BondPrice(supply, now+100000)
		require.NoError(t, err)
		high, err := b.BondPrice(supply, now)
		require.NoError(t, err)
		assert.LessOrEqual(t, low.Cmp(high), 0)
	})

	t.Run("floored at minimum price", func(t *testing.T) {
		fb := newTestBond()
		fb.Terms.MinimumPrice = big.NewInt(500)
		price, err := fb.BondPrice(supply, now)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(500), price)
	})

	t.Run("zero debt ratio yields minimum price", func(t *testing.T) {
		zb := newTestBond()
		zb.TotalDebt = big.NewInt(0)
		price, err := zb.BondPrice(supply, now)
		require.NoError(t, err)
		assert.Equal(t, zb.Terms.MinimumPrice, price)
	})
}

func TestTermsSet(t *testing.T) {
	cases := []struct {
		name      string
		vesting   uint64
		maxPayout int64
		fee       int64
		wantErr   error
	}{
		{"valid", 432000, 1000, 10000, nil},
		{"vesting below 120h", 431999, 1000, 10000, ErrVestingTooShort},
		{"payout cap below minimum", 432000, 999, 10000, ErrPayoutCapTooSmall},
		{"fee below bound", 432000, 1000, 9999, ErrFeeTooSmall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var terms Terms
			err := terms.Set(big.NewInt(1), tc.vesting, big.NewInt(0), big.NewInt(tc.maxPayout), big.NewInt(tc.fee))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, terms.ControlVariable, "failed set must not mutate terms")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.vesting, terms.VestingTerm)
		})
	}
}

func TestSetAdjust(t *testing.T) {
	b := newTestBond()
	// threshold = 432000 * 30 / 1000 = 12960
	require.ErrorIs(t, b.SetAdjust(true, big.NewInt(12959), MaxU128), ErrRateTooLow)
	assert.Zero(t, b.Adjust.Rate.Sign(), "rejected adjust must not mutate")

	require.NoError(t, b.SetAdjust(false, big.NewInt(12960), big.NewInt(1)))
	assert.False(t, b.Adjust.Add)
	assert.Equal(t, big.NewInt(12960), b.Adjust.Rate)
	assert.Equal(t, big.NewInt(1), b.Adjust.Target)
}
