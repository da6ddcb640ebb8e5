package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each bond's
// last settled price is stored at key "bondprice:{paymentAsset}" with fields
// "price" (decimal string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(paymentAsset string) string {
	return "bondprice:" + paymentAsset
}

// SetPrice stores the latest settled bond price for a payment asset.
func (pc *PriceCache) SetPrice(ctx context.Context, paymentAsset string, price *big.Int, ts time.Time) error {
	key := priceKey(paymentAsset)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", paymentAsset, err)
	}
	return nil
}

// GetPrice retrieves the latest settled bond price for a payment asset.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, paymentAsset string) (*big.Int, time.Time, error) {
	key := priceKey(paymentAsset)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", paymentAsset, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse price %s: malformed %q", paymentAsset, priceStr)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", paymentAsset, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple payment assets using a
// pipeline. Assets whose keys do not exist are silently omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, paymentAssets []string) (map[string]*big.Int, error) {
	if len(paymentAssets) == 0 {
		return map[string]*big.Int{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(paymentAssets))
	for _, asset := range paymentAssets {
		cmds[asset] = pipe.HGetAll(ctx, priceKey(asset))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]*big.Int, len(paymentAssets))
	for asset, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, ok := new(big.Int).SetString(priceStr, 10)
		if !ok {
			continue
		}
		result[asset] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
