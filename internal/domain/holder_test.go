package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentVested(t *testing.T) {
	h := NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200))

	assert.Zero(t, h.PercentVested(1_000_000))
	assert.EqualValues(t, 5000, h.PercentVested(1_000_000+216000))
	assert.EqualValues(t, VestedFull, h.PercentVested(1_000_000+432000))
	// Uncapped beyond the vesting period.
	assert.EqualValues(t, 20000, h.PercentVested(1_000_000+864000))

	t.Run("zero vesting period never vests", func(t *testing.T) {
		z := NewBondHolder(big.NewInt(1), big.NewInt(1), 0, 100, big.NewInt(1))
		assert.Zero(t, z.PercentVested(1_000_000))
	})
}

func TestPendingPayout(t *testing.T) {
	h := NewBondHolder(big.NewInt(1000), big.NewInt(500), 432000, 1_000_000, big.NewInt(200))

	assert.Zero(t, h.PendingPayout(1_000_000).Sign())
	assert.Equal(t, big.NewInt(250), h.PendingPayout(1_000_000+216000))
	assert.Equal(t, big.NewInt(500), h.PendingPayout(1_000_000+432000))
	// Fully vested returns the remainder, never more.
	assert.Equal(t, big.NewInt(500), h.PendingPayout(1_000_000+864000))
}

func TestMerge(t *testing.T) {
	h := NewBondHolder(big.NewInt(100), big.NewInt(50), 432000, 1_000_000, big.NewInt(200))

	h.Merge(big.NewInt(100), big.NewInt(40), 500000, 1_100_000, big.NewInt(250))

	assert.Equal(t, big.NewInt(200), h.ValueRemaining)
	assert.Equal(t, big.NewInt(90), h.PayoutRemaining)
	assert.EqualValues(t, 500000, h.VestingPeriod)
	assert.EqualValues(t, 1_100_000, h.LastTime)
	assert.Equal(t, big.NewInt(250), h.PricePaid)

	// The merge restarted the clock for the whole position.
	require.Zero(t, h.PercentVested(1_100_000))
}
