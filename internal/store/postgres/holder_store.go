package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// HolderStore implements domain.HolderStore using PostgreSQL. Holder rows are
// written only by BondStore settlement transactions; this store is the read
// side.
type HolderStore struct {
	pool *pgxpool.Pool
}

var _ domain.HolderStore = (*HolderStore)(nil)

// NewHolderStore creates a new HolderStore backed by the given connection pool.
func NewHolderStore(pool *pgxpool.Pool) *HolderStore {
	return &HolderStore{pool: pool}
}

// Get returns a depositor's vesting entry for a payment asset.
func (s *HolderStore) Get(ctx context.Context, paymentAsset, account string) (domain.BondHolder, error) {
	const query = `
		SELECT value_remaining::text, payout_remaining::text,
			vesting_period, last_time, price_paid::text
		FROM bond_holders
		WHERE payment_asset = $1 AND account = $2`

	var (
		holder domain.BondHolder

		valueRemaining, payoutRemaining, pricePaid string
		vestingPeriod, lastTime                    int64
	)
	err := s.pool.QueryRow(ctx, query, paymentAsset, account).Scan(
		&valueRemaining, &payoutRemaining, &vestingPeriod, &lastTime, &pricePaid,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BondHolder{}, domain.ErrNotFound
		}
		return domain.BondHolder{}, fmt.Errorf("postgres: get holder %s/%s: %w", paymentAsset, account, err)
	}

	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&holder.ValueRemaining, valueRemaining},
		{&holder.PayoutRemaining, payoutRemaining},
		{&holder.PricePaid, pricePaid},
	} {
		n, ok := new(big.Int).SetString(f.src, 10)
		if !ok {
			return domain.BondHolder{}, fmt.Errorf("postgres: malformed numeric %q", f.src)
		}
		*f.dst = n
	}
	holder.VestingPeriod = uint64(vestingPeriod)
	holder.LastTime = uint64(lastTime)
	return holder, nil
}
