package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Store is satisfied by the redis idempotency adapter.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Idempotency replays the first response recorded for a client-supplied key.
type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type Response struct {
	Status int    `json:"status"`
	Result []byte `json:"result"`
}

// Get returns nil, nil when nothing was recorded for key.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	raw, err := i.store.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode cached response")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode response")
	}
	return i.store.Set(ctx, key, data, i.ttl)
}
