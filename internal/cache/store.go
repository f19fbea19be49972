// Package cache is the TTL key/value layer in front of the settlement
// provider. Nothing stored here is a source of truth; every entry can be
// recomputed from the provider or the static rate table.
package cache

import (
	"context"
	"time"
)

type Store interface {
	// Get returns found=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
