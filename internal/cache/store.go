package cache

import (
	"context"
	"time"
)

// Store is one cache backend. Get reports a miss as (nil, false, nil);
// a non-nil error means the backend itself failed.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
