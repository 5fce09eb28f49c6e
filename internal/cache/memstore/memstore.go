// Package memstore is an in-process LRU response cache.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/coordinate-info/internal/cache"
	"github.com/mohammed-shakir/coordinate-info/internal/cache/keys"
	"github.com/mohammed-shakir/coordinate-info/internal/core/observability"
)

const DefaultSize = 4096

type entry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

type Store struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

var (
	_ cache.Interface   = (*Store)(nil)
	_ cache.MultiSetter = (*Store)(nil)
	_ cache.Purger      = (*Store)(nil)
)

func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("memstore lru: %w", err)
	}
	return &Store{lru: c, now: time.Now}, nil
}

// MGet returns live entries only; expired ones are evicted on read.
func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
		return nil, err
	}
	now := s.now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		e, ok := s.lru.Get(k)
		if !ok {
			continue
		}
		if !e.expires.IsZero() && !now.Before(e.expires) {
			s.lru.Remove(k)
			continue
		}
		out[k] = e.val
	}
	observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return err
	}
	s.put(key, val, ttl)
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("mset", err, time.Since(start).Seconds())
		return err
	}
	for k, v := range kv {
		s.put(k, v, ttl)
	}
	observability.ObserveCacheOp("mset", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		s.lru.Remove(k)
	}
	return nil
}

func (s *Store) PurgeEndpoint(ctx context.Context, endpoint string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := keys.EndpointPrefix(endpoint)
	n := 0
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, p) && s.lru.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) put(key string, val []byte, ttl time.Duration) {
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.lru.Add(key, e)
}
