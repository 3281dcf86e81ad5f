package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/config"
	"github.com/mohammed-shakir/quadtile-crawler/internal/core/httpclient"
	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/core/router"
	"github.com/mohammed-shakir/quadtile-crawler/internal/core/server"
	"github.com/mohammed-shakir/quadtile-crawler/internal/crawler"
	"github.com/mohammed-shakir/quadtile-crawler/internal/logger"
	"github.com/mohammed-shakir/quadtile-crawler/internal/metrics"
	"github.com/mohammed-shakir/quadtile-crawler/internal/placeclient"
	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/refreshevents"
	"github.com/mohammed-shakir/quadtile-crawler/internal/refreshrequests"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore/pgstore"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore/redisstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load(".env")

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "quadtile-crawler",
		Component: "crawler",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Service: "quadtile-crawler",
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting crawler", "version", Version, "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		appLog.Error("tile store unavailable", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Warn("closing tile store", "err", err)
		}
	}()

	places, err := placeclient.New(cfg.PlacesURL, httpclient.NewOutbound(cfg.PlacesTimeout))
	if err != nil {
		appLog.Error("place service client", "err", err)
		return 1
	}

	var events crawler.EventSink
	if cfg.Events.Enabled {
		pub, err := refreshevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("refresh event producer", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		events = pub
	}

	schedulers, err := buildSchedulers(cfg.Crawl, store, places, events, appLog)
	if err != nil {
		appLog.Error("crawler setup failed", "err", err)
		return 1
	}
	group, err := crawler.NewGroup(appLog, store, schedulers...)
	if err != nil {
		appLog.Error("crawler setup failed", "err", err)
		return 1
	}

	deps := server.Deps{
		Ready: group,
		Tiles: router.NewTileAPI(appLog, store, cfg.MaxQuerySpanMeters),
	}
	if p.Enabled() {
		deps.Metrics = p.Handler()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = group.Run(ctx)
	}()

	if cfg.Requests.Enabled {
		rc := refreshrequests.New(refreshrequests.Config{
			Brokers:             cfg.Requests.Brokers,
			Topic:               cfg.Requests.Topic,
			GroupID:             cfg.Requests.GroupID,
			CrawlZoom:           cfg.Crawl.CrawlZoom,
			InitialOffsetOldest: cfg.Requests.OffsetOldest,
		}, appLog, group)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("refresh request consumer stopped", "err", err)
			}
		}()
	}

	code := 0
	if err := server.Run(ctx, cfg.Addr, appLog, server.NewHandler(appLog, deps)); err != nil {
		appLog.Error("server exited with error", "err", err)
		code = 1
		stop()
	}
	wg.Wait()
	appLog.Info("crawler stopped")
	return code
}

func openStore(ctx context.Context, c config.StoreCfg) (tilestore.Store, error) {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	octx, cancel := context.WithTimeout(ctx, c.OpTimeout)
	defer cancel()

	switch c.Driver {
	case "redis":
		return redisstore.New(octx, c.RedisAddr, c.Namespace,
			redisstore.WithReadTimeout(c.OpTimeout),
			redisstore.WithWriteTimeout(c.OpTimeout))
	case "postgres":
		return pgstore.Open(octx, c.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want redis or postgres)", c.Driver)
	}
}

func buildSchedulers(c config.CrawlCfg, store tilestore.Store, r crawler.Refresher, events crawler.EventSink, log *slog.Logger) ([]*crawler.Scheduler, error) {
	out := make([]*crawler.Scheduler, 0, len(c.Regions))
	// one limiter for all regions: the provider quota is global
	limiter := crawler.NewLimiter(c.RatePerSec, c.RateBurst)
	var errs []error
	for _, rs := range c.Regions {
		b, err := quadtree.ParseBounds(rs.Bounds)
		if err != nil {
			errs = append(errs, fmt.Errorf("region %s: %w", rs.Name, err))
			continue
		}
		opts := []crawler.Option{crawler.WithLogger(log), crawler.WithLimiter(limiter)}
		if events != nil {
			opts = append(opts, crawler.WithEvents(events))
		}
		s, err := crawler.New(crawler.Config{
			Region:           rs.Name,
			Bounds:           b,
			CrawlZoom:        c.CrawlZoom,
			RegionZoom:       c.RegionZoom,
			StaleAfter:       c.StaleAfter,
			IdleDelay:        c.IdleDelay,
			LoadLimit:        c.LoadLimit,
			Workers:          c.Workers,
			CargoSize:        c.CargoSize,
			RatePerSec:       c.RatePerSec,
			RateBurst:        c.RateBurst,
			AdvanceOnFailure: c.AdvanceOnFailure,
			DedupeSize:       c.DedupeSize,
			DedupeWindow:     c.DedupeWindow,
		}, store, r, opts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}
