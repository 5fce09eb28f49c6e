package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/aggregate/featureinfo"
	"github.com/mohammed-shakir/coordinate-info/internal/cache"
	"github.com/mohammed-shakir/coordinate-info/internal/cache/memstore"
	"github.com/mohammed-shakir/coordinate-info/internal/cache/redisstore"
	"github.com/mohammed-shakir/coordinate-info/internal/clicksource"
	"github.com/mohammed-shakir/coordinate-info/internal/coordinfo"
	"github.com/mohammed-shakir/coordinate-info/internal/core/config"
	"github.com/mohammed-shakir/coordinate-info/internal/core/executor"
	"github.com/mohammed-shakir/coordinate-info/internal/core/health"
	"github.com/mohammed-shakir/coordinate-info/internal/core/httpclient"
	"github.com/mohammed-shakir/coordinate-info/internal/core/router"
	"github.com/mohammed-shakir/coordinate-info/internal/core/server"
	"github.com/mohammed-shakir/coordinate-info/internal/hitevents"
	"github.com/mohammed-shakir/coordinate-info/internal/hotness/expdecay"
	"github.com/mohammed-shakir/coordinate-info/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/coordinate-info/internal/invalidation"
	"github.com/mohammed-shakir/coordinate-info/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/coordinate-info/internal/logger"
	h3mapper "github.com/mohammed-shakir/coordinate-info/internal/mapper/h3"
	"github.com/mohammed-shakir/coordinate-info/internal/metrics"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

const (
	hotPruneInterval = time.Minute
	hotTopN          = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	mapFlag := flag.String("map", "", "map file (overrides MAP_FILE)")
	flag.Parse()

	cfg := config.FromEnv()
	if *mapFlag != "" {
		cfg.MapFile = *mapFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "coordinfo",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting coordinfo",
		"addr", cfg.Addr,
		"version", Version,
		"map_file", cfg.MapFile,
		"cache", cfg.Cache.Driver,
		"drill_down", cfg.DrillDown)

	prov := metrics.Init(metrics.Config{
		Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
		Service: true,
	})

	mf, err := config.LoadMap(cfg.MapFile)
	if err != nil {
		appLog.Error("load map file", "err", err)
		return 1
	}
	engine, queryable, err := mf.Build()
	if err != nil {
		appLog.Error("build map", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready []health.Check

	store, closeStore, err := openCache(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	defer closeStore()
	if rc, ok := store.(*redisstore.Client); ok {
		ready = append(ready, health.Check{Name: "redis", Fn: rc.Ping})
	}

	epochs := invalidation.NewEpochs()
	if cfg.Invalidation.Enabled {
		kc := kafkaconsumer.New(kafkaconsumer.DefaultConfig(
			config.Brokers(cfg.Invalidation.Brokers), cfg.Invalidation.Topic, cfg.Invalidation.GroupID,
		), appLog, epochs)
		if p, ok := store.(cache.Purger); ok {
			kc.WithPurger(p)
		}
		ready = append(ready, health.Check{Name: "invalidation", Fn: kc.Ready})
		go func() {
			if err := kc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	exec := executor.New(appLog, httpclient.NewOutbound(cfg.UpstreamTimeout), executor.Options{
		MaxWorkers:     cfg.FetchMaxWorkers,
		Cache:          store,
		CacheTTL:       cfg.Cache.TTL,
		CacheOpTimeout: cfg.Cache.OpTimeout,
		Epochs:         epochs,
	})

	var onSettled func(context.Context, coordinfo.Settlement)
	if cfg.HitEvents.Enabled {
		pub, err := hitevents.NewPublisher(config.Brokers(cfg.HitEvents.Brokers), cfg.HitEvents.Topic, 0, appLog)
		if err != nil {
			appLog.Error("hit events setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("close hit events", "err", err)
			}
		}()

		hot := metricswrap.New(expdecay.New(cfg.Hot.HalfLife, cfg.Hot.Capacity), appLog, metricswrap.Options{
			HotThreshold: cfg.Hot.Threshold,
			LogSample:    cfg.Hot.LogSample,
		})
		go pruneHot(ctx, hot, appLog)
		onSettled = hitevents.NewRecorder(h3mapper.New(), hot, pub, cfg.H3Res, appLog).OnSettled
	}

	hub := clicksource.NewHub()
	agg := coordinfo.New(coordinfo.Deps{
		Engine:    engine,
		Source:    hub,
		Executor:  exec,
		Aggregate: featureinfo.New(appLog),
		Logger:    appLog,
		OnSettled: onSettled,
	}, coordinfo.Config{
		QueryLayers:  queryable,
		FeatureCount: cfg.FeatureCount,
		DrillDown:    cfg.DrillDown,
		HitTolerance: cfg.HitTolerance,
	})
	if err := agg.Activate(ctx); err != nil {
		appLog.Error("activate aggregator", "err", err)
		return 1
	}
	defer agg.Deactivate()
	ready = append(ready, health.Check{Name: "aggregator", Fn: func(context.Context) error {
		if !agg.Active() {
			return coordinfo.ErrInactive
		}
		return nil
	}})

	handler := server.NewHandler(appLog, server.Routes{
		API: &router.Handlers{
			Logger: appLog,
			Engine: engine,
			Clicks: hub,
			State:  agg,
		},
		Metrics: prov.Handler(),
		Ready:   ready,
	})

	if err := server.Run(ctx, cfg.Addr, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openCache(ctx context.Context, cfg config.CacheCfg) (cache.Interface, func(), error) {
	switch cfg.Driver {
	case "memory":
		s, err := memstore.New(cfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("memory cache: %w", err)
		}
		return s, func() {}, nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstore.New(dialCtx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func pruneHot(ctx context.Context, hot *metricswrap.WithMetrics, lg *slog.Logger) {
	t := time.NewTicker(hotPruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := hot.Prune(0.01); n > 0 {
				lg.Debug("pruned cold cells", "count", n)
			}
			for _, c := range hot.Top(hotTopN) {
				lg.Debug("hot cell", "cell", c.Cell, "score", c.Score, "types", c.Types)
			}
		}
	}
}
