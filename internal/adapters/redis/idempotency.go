package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idemp:"

// Idempotency stores raw cached responses keyed by the caller's Idempotency-Key.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

// Get returns nil, nil on a miss.
func (i *Idempotency) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := i.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get idempotency key")
	}
	return val, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := i.client.Set(ctx, idempotencyPrefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "set idempotency key")
	}
	return nil
}
