// Package idempotency replays the stored response of a request whose
// Idempotency-Key was already served.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/radzio23/gigster/internal/adapters/redis"
)

const (
	MinKeyLength = 16
	MaxKeyLength = 255

	defaultLockTTL = 30 * time.Second
)

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	redis   Store
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(redis Store, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl, lockTTL: defaultLockTTL}
}

type Response struct {
	Status int
	Result []byte
}

// ValidKey reports whether key is acceptable as an Idempotency-Key.
func ValidKey(key string) bool {
	return len(key) >= MinKeyLength && len(key) <= MaxKeyLength
}

// Get returns the response stored under key, or nil.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}

// Begin claims key for the calling request. It reports false while another
// request with the same key is in flight.
func (i *Idempotency) Begin(ctx context.Context, key string) (bool, error) {
	return i.redis.Lock(ctx, key, i.lockTTL)
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	return i.redis.Unlock(ctx, key)
}
