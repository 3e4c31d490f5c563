package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/featuregrid/internal/cache/pagecache"
	"github.com/mohammed-shakir/featuregrid/internal/cache/redisstore"
	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/arcgis"
	"github.com/mohammed-shakir/featuregrid/internal/core/config"
	"github.com/mohammed-shakir/featuregrid/internal/core/httpclient"
	"github.com/mohammed-shakir/featuregrid/internal/core/router"
	"github.com/mohammed-shakir/featuregrid/internal/core/server"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
	"github.com/mohammed-shakir/featuregrid/internal/metrics"
	"github.com/mohammed-shakir/featuregrid/internal/panel"
	refreshkafka "github.com/mohammed-shakir/featuregrid/pkg/refresh/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "featuregrid",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting featuregrid",
		"addr", cfg.Addr,
		"version", Version,
		"map_service", cfg.MapServiceURL,
		"layers", cfg.LayerTitles,
		"page_size", cfg.PageSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider *metrics.Provider
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Build.Version == "" {
			cfg.Metrics.Build.Version = Version
		}
		provider = metrics.Init(cfg.Metrics)
		serveMetrics(ctx, cfg.Metrics, provider)
	}

	client := arcgis.New(appLog, httpclient.NewOutbound(cfg.UpstreamTimeout))

	var cache *pagecache.Cache
	if cfg.PageCache.Enabled {
		var l2 pagecache.Store
		if cfg.PageCache.RedisAddr != "" {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			rc, err := redisstore.New(pingCtx, cfg.PageCache.RedisAddr)
			cancel()
			if err != nil {
				appLog.Warn("redis unavailable, page cache stays in process", "addr", cfg.PageCache.RedisAddr, "err", err)
			} else {
				defer func() { _ = rc.Close() }()
				l2 = rc
			}
		}
		cache = pagecache.New(pagecache.Config{Size: cfg.PageCache.Size, TTL: cfg.PageCache.TTL}, l2, appLog)
		appLog.Info("page cache enabled", "size", cfg.PageCache.Size, "ttl", cfg.PageCache.TTL, "shared", l2 != nil)
	}

	open := func(layerURL string) collection.Upstream {
		up := client.Layer(layerURL)
		if cache == nil {
			return up
		}
		return cache.Wrap(up)
	}

	reg := panel.NewRegistry(panel.Config{
		Titles:         cfg.LayerTitles,
		PageSize:       cfg.PageSize,
		StreamOpts:     cfg.StreamOptions(),
		DatasourceOpts: cfg.DatasourceOptions(),
	}, client.MapService(cfg.MapServiceURL), open, appLog)
	defer reg.Close()

	go bootstrap(ctx, reg, cfg.BootstrapRetry, appLog)

	deps := server.Deps{
		API:    router.New(appLog, reg, cfg.MapServiceURL),
		Panels: reg,
	}

	if cfg.Refresh.Enabled {
		opts := refreshkafka.Options{Logger: appLog}
		if provider != nil {
			opts.Register = provider.Registerer()
		}
		if cache != nil {
			opts.Purger = cache
		}
		runner := refreshkafka.New(cfg.Refresh, reg, opts)
		if err := runner.Start(ctx); err != nil {
			appLog.Error("refresh runner failed to start", "err", err)
			return 1
		}
		defer runner.Stop()
		deps.Refresh = runner
	}

	if err := server.Run(ctx, cfg.Addr, appLog, server.NewHandler(appLog, deps), reg.Close); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// bootstrap retries until the map service answers or ctx ends.
func bootstrap(ctx context.Context, reg *panel.Registry, retry time.Duration, l *slog.Logger) {
	for {
		err := reg.Bootstrap(ctx)
		if err == nil || errors.Is(err, panel.ErrAlreadyBootstrapped) {
			return
		}
		l.Error("panel bootstrap failed", "err", err, "retry_in", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func serveMetrics(ctx context.Context, cfg metrics.Config, p *metrics.Provider) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, p.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("metrics: listening on %s%s", cfg.Addr, cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
