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

// BondStore implements domain.BondStore using PostgreSQL. Amounts are stored
// as NUMERIC(40,0) and travel through the driver as decimal strings so the
// full 128-bit range survives the round trip.
type BondStore struct {
	pool *pgxpool.Pool
}

var _ domain.BondStore = (*BondStore)(nil)

// NewBondStore creates a new BondStore backed by the given connection pool.
func NewBondStore(pool *pgxpool.Pool) *BondStore {
	return &BondStore{pool: pool}
}

const bondColumns = `
	token_pure, treasury, bond_balance::text, control_variable::text,
	vesting_term, minimum_price::text, max_payout::text, fee::text,
	adjust_add, adjust_rate::text, adjust_target::text,
	total_debt::text, last_decay, bond_sold::text, total_deposit::text`

// Create inserts a new bond keyed by its payment asset.
func (s *BondStore) Create(ctx context.Context, paymentAsset string, bond domain.BondData) error {
	const query = `
		INSERT INTO bonds (
			payment_asset, token_pure, treasury, bond_balance, control_variable,
			vesting_term, minimum_price, max_payout, fee,
			adjust_add, adjust_rate, adjust_target,
			total_debt, last_decay, bond_sold, total_deposit
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric,
			$6, $7::numeric, $8::numeric, $9::numeric,
			$10, $11::numeric, $12::numeric,
			$13::numeric, $14, $15::numeric, $16::numeric
		)`
	_, err := s.pool.Exec(ctx, query, bondArgs(paymentAsset, bond)...)
	if err != nil {
		return fmt.Errorf("postgres: create bond %s: %w", paymentAsset, err)
	}
	return nil
}

// Get returns the bond for a payment asset.
func (s *BondStore) Get(ctx context.Context, paymentAsset string) (domain.BondData, error) {
	query := `SELECT ` + bondColumns + ` FROM bonds WHERE payment_asset = $1`
	bond, err := scanBond(s.pool.QueryRow(ctx, query, paymentAsset))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BondData{}, domain.ErrNotFound
		}
		return domain.BondData{}, fmt.Errorf("postgres: get bond %s: %w", paymentAsset, err)
	}
	return bond, nil
}

// Update overwrites the bond row for a payment asset.
func (s *BondStore) Update(ctx context.Context, paymentAsset string, bond domain.BondData) error {
	tag, err := s.pool.Exec(ctx, updateBondQuery, bondArgs(paymentAsset, bond)...)
	if err != nil {
		return fmt.Errorf("postgres: update bond %s: %w", paymentAsset, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListAssets returns every registered payment asset.
func (s *BondStore) ListAssets(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT payment_asset FROM bonds ORDER BY payment_asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bond assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, fmt.Errorf("postgres: scan bond asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bond assets rows: %w", err)
	}
	return assets, nil
}

// ApplyDeposit writes the settled bond and holder state in one transaction.
func (s *BondStore) ApplyDeposit(ctx context.Context, paymentAsset, account string, bond domain.BondData, holder domain.BondHolder) error {
	if err := s.applySettlement(ctx, paymentAsset, account, bond, holder); err != nil {
		return fmt.Errorf("postgres: apply deposit %s/%s: %w", paymentAsset, account, err)
	}
	return nil
}

// ApplyRedeem writes the settled bond and holder state in one transaction.
func (s *BondStore) ApplyRedeem(ctx context.Context, paymentAsset, account string, bond domain.BondData, holder domain.BondHolder) error {
	if err := s.applySettlement(ctx, paymentAsset, account, bond, holder); err != nil {
		return fmt.Errorf("postgres: apply redeem %s/%s: %w", paymentAsset, account, err)
	}
	return nil
}

func (s *BondStore) applySettlement(ctx context.Context, paymentAsset, account string, bond domain.BondData, holder domain.BondHolder) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateBondQuery, bondArgs(paymentAsset, bond)...)
	if err != nil {
		return fmt.Errorf("update bond: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const upsertHolder = `
		INSERT INTO bond_holders (
			payment_asset, account, value_remaining, payout_remaining,
			vesting_period, last_time, price_paid
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7::numeric)
		ON CONFLICT (payment_asset, account) DO UPDATE SET
			value_remaining = EXCLUDED.value_remaining,
			payout_remaining = EXCLUDED.payout_remaining,
			vesting_period = EXCLUDED.vesting_period,
			last_time = EXCLUDED.last_time,
			price_paid = EXCLUDED.price_paid,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsertHolder,
		paymentAsset, account,
		holder.ValueRemaining.String(), holder.PayoutRemaining.String(),
		int64(holder.VestingPeriod), int64(holder.LastTime),
		holder.PricePaid.String(),
	); err != nil {
		return fmt.Errorf("upsert holder: %w", err)
	}

	return tx.Commit(ctx)
}

const updateBondQuery = `
	UPDATE bonds SET
		token_pure = $2, treasury = $3, bond_balance = $4::numeric,
		control_variable = $5::numeric, vesting_term = $6,
		minimum_price = $7::numeric, max_payout = $8::numeric, fee = $9::numeric,
		adjust_add = $10, adjust_rate = $11::numeric, adjust_target = $12::numeric,
		total_debt = $13::numeric, last_decay = $14,
		bond_sold = $15::numeric, total_deposit = $16::numeric,
		updated_at = NOW()
	WHERE payment_asset = $1`

func bondArgs(paymentAsset string, bond domain.BondData) []any {
	return []any{
		paymentAsset, bond.TokenPure, bond.Treasury,
		bond.BondBalance.String(), bond.Terms.ControlVariable.String(),
		int64(bond.Terms.VestingTerm),
		bond.Terms.MinimumPrice.String(), bond.Terms.MaxPayout.String(), bond.Terms.Fee.String(),
		bond.Adjust.Add, bond.Adjust.Rate.String(), bond.Adjust.Target.String(),
		bond.TotalDebt.String(), int64(bond.LastDecay),
		bond.BondSold.String(), bond.TotalDeposit.String(),
	}
}

func scanBond(row pgx.Row) (domain.BondData, error) {
	var (
		bond domain.BondData

		bondBalance, controlVariable, minimumPrice, maxPayout, fee string
		adjustRate, adjustTarget, totalDebt, bondSold, totalDep    string
		vestingTerm, lastDecay                                     int64
	)
	if err := row.Scan(
		&bond.TokenPure, &bond.Treasury, &bondBalance, &controlVariable,
		&vestingTerm, &minimumPrice, &maxPayout, &fee,
		&bond.Adjust.Add, &adjustRate, &adjustTarget,
		&totalDebt, &lastDecay, &bondSold, &totalDep,
	); err != nil {
		return domain.BondData{}, err
	}

	fields := []struct {
		dst **big.Int
		src string
	}{
		{&bond.BondBalance, bondBalance},
		{&bond.Terms.ControlVariable, controlVariable},
		{&bond.Terms.MinimumPrice, minimumPrice},
		{&bond.Terms.MaxPayout, maxPayout},
		{&bond.Terms.Fee, fee},
		{&bond.Adjust.Rate, adjustRate},
		{&bond.Adjust.Target, adjustTarget},
		{&bond.TotalDebt, totalDebt},
		{&bond.BondSold, bondSold},
		{&bond.TotalDeposit, totalDep},
	}
	for _, f := range fields {
		n, ok := new(big.Int).SetString(f.src, 10)
		if !ok {
			return domain.BondData{}, fmt.Errorf("malformed numeric %q", f.src)
		}
		*f.dst = n
	}

	bond.Terms.VestingTerm = uint64(vestingTerm)
	bond.LastDecay = uint64(lastDecay)
	return bond, nil
}
