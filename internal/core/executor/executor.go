// Package executor issues the feature-info requests of one click concurrently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/batch"
	"github.com/mohammed-shakir/coordinate-info/internal/cache"
	"github.com/mohammed-shakir/coordinate-info/internal/cache/keys"
	"github.com/mohammed-shakir/coordinate-info/internal/core/observability"
)

const (
	DefaultMaxWorkers     = 8
	DefaultCacheTTL       = 60 * time.Second
	DefaultCacheOpTimeout = 250 * time.Millisecond

	upstreamLabel   = "feature_info"
	errorBodyLimit  = 4 << 10
	acceptMediaType = "application/json"
)

var ErrUpstream = errors.New("feature-info upstream")

type Interface interface {
	Execute(ctx context.Context, reqs []batch.Request) ([][]byte, error)
}

// EpochSource reports the current invalidation epoch of an endpoint
type EpochSource interface {
	Epoch(endpoint string) uint64
}

type Options struct {
	MaxWorkers     int
	Cache          cache.Interface // nil disables caching
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration
	Epochs         EpochSource
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	opts     Options
	startNow func() time.Time // for tests
}

var _ Interface = (*Executor)(nil)

func New(logger *slog.Logger, client *http.Client, opts Options) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheOpTimeout <= 0 {
		opts.CacheOpTimeout = DefaultCacheOpTimeout
	}
	return &Executor{logger: logger, client: client, opts: opts, startNow: time.Now}
}

type result struct {
	idx  int
	body []byte
	err  error
}

// Execute returns one payload per request, in request order. The first failed
// request cancels its siblings and fails the whole call; no partial result is
// returned.
func (e *Executor) Execute(ctx context.Context, reqs []batch.Request) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}

	cacheKeys := e.cacheKeys(reqs)
	pending := e.fillFromCache(ctx, cacheKeys, out)
	if len(pending) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, len(pending))
	results := make(chan result, len(pending))

	workerN := min(e.opts.MaxWorkers, len(pending))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: idx, err: err}
					continue
				}
				body, err := e.fetch(ctx, reqs[idx].URL)
				results <- result{idx: idx, body: body, err: err}
			}
		}()
	}
	for _, idx := range pending {
		jobs <- idx
	}
	close(jobs)

	var firstErr error
	fetched := make(map[string][]byte, len(pending))
	for range pending {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("request %d (%s): %w", r.idx, reqs[r.idx].Key, r.err)
				cancel()
			}
			continue
		}
		out[r.idx] = r.body
		if cacheKeys != nil {
			fetched[cacheKeys[r.idx]] = r.body
		}
	}
	wg.Wait()

	e.storeInCache(ctx, fetched)
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (e *Executor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptMediaType)

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstreamLabel, dur.Seconds())
	e.logger.Debug("feature-info fetch done",
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	return b, nil
}

func (e *Executor) cacheKeys(reqs []batch.Request) []string {
	if e.opts.Cache == nil {
		return nil
	}
	out := make([]string, len(reqs))
	for i, r := range reqs {
		ep := keys.Endpoint(r.URL)
		var epoch uint64
		if e.opts.Epochs != nil {
			epoch = e.opts.Epochs.Epoch(ep)
		}
		out[i] = keys.Key(ep, epoch, r.URL)
	}
	return out
}

// fillFromCache writes hits into out and returns the indexes still to fetch.
// Cache failures degrade to a full miss.
func (e *Executor) fillFromCache(ctx context.Context, cacheKeys []string, out [][]byte) []int {
	pending := make([]int, 0, len(out))
	if cacheKeys == nil {
		for i := range out {
			pending = append(pending, i)
		}
		return pending
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.CacheOpTimeout)
	defer cancel()
	hits, err := e.opts.Cache.MGet(cctx, cacheKeys)
	if err != nil {
		e.logger.Warn("feature-info cache lookup failed", "err", err)
		hits = nil
	}
	for i, k := range cacheKeys {
		if b, ok := hits[k]; ok {
			out[i] = b
			observability.IncCacheHit()
			continue
		}
		observability.IncCacheMiss()
		pending = append(pending, i)
	}
	return pending
}

func (e *Executor) storeInCache(ctx context.Context, kv map[string][]byte) {
	if e.opts.Cache == nil || len(kv) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CacheOpTimeout)
	defer cancel()

	if ms, ok := e.opts.Cache.(cache.MultiSetter); ok {
		if err := ms.MSetWithTTL(cctx, kv, e.opts.CacheTTL); err != nil {
			e.logger.Warn("feature-info cache store failed", "err", err, "entries", len(kv))
		}
		return
	}
	for k, v := range kv {
		if err := e.opts.Cache.Set(cctx, k, v, e.opts.CacheTTL); err != nil {
			e.logger.Warn("feature-info cache store failed", "err", err, "key", k)
		}
	}
}
