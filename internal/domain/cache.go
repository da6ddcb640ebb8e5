package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceCache stores the most recently computed bond price per payment asset
// for the read surface.
type PriceCache interface {
	SetPrice(ctx context.Context, paymentAsset string, price *big.Int, ts time.Time) error
	GetPrice(ctx context.Context, paymentAsset string) (*big.Int, time.Time, error)
}

// LockManager provides distributed locking, used to serialize workflow
// settlement per payment asset across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub delivery of treasury events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter throttles workflow intake, keyed by an arbitrary string such as
// a client address or account.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
