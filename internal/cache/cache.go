// Package cache stores raw feature-info responses keyed by request.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// MultiSetter is implemented by stores that can write several entries in one round trip.
type MultiSetter interface {
	MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
}

// Purger drops every stored response of one endpoint, whatever its epoch.
type Purger interface {
	PurgeEndpoint(ctx context.Context, endpoint string) (int, error)
}
