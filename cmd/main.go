package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/angeloszaimis/edge-latency-proxy/config"
	"github.com/angeloszaimis/edge-latency-proxy/internal/cache"
	"github.com/angeloszaimis/edge-latency-proxy/internal/candidate"
	"github.com/angeloszaimis/edge-latency-proxy/internal/forwarder"
	"github.com/angeloszaimis/edge-latency-proxy/internal/handler"
	"github.com/angeloszaimis/edge-latency-proxy/internal/httpserver"
	"github.com/angeloszaimis/edge-latency-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-latency-proxy/internal/prober"
	"github.com/angeloszaimis/edge-latency-proxy/internal/resolver"
	"github.com/angeloszaimis/edge-latency-proxy/internal/transport"
	"github.com/angeloszaimis/edge-latency-proxy/pkg/logger"
)

const metricsBufferSize = 1000

type app struct {
	server    *httpserver.Server
	router    http.Handler
	collector *metrics.Collector
	store     cache.Store
	pool      *transport.Pool
	stop      context.CancelFunc
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize proxy", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- a.server.Start()
	}()

	log.Info("Edge latency proxy listening",
		slog.String("addr", a.server.Addr()),
		slog.String("default_target", cfg.Hosts.Default),
		slog.Int("candidates", len(cfg.Candidates)),
		slog.String("cache", cfg.Cache.Driver))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := a.shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			_ = a.shutdown(context.Background())
			os.Exit(1)
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	pool, err := candidate.NewPool(cfg.Candidates)
	if err != nil {
		return nil, fmt.Errorf("candidate pool: %w", err)
	}

	store, err := newCacheStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	transports, err := transport.New(transport.Options{
		Size:                  cfg.Transport.PoolSize,
		IdleConnTimeout:       config.Duration(cfg.Transport.IdleConnTimeout),
		ResponseHeaderTimeout: config.Duration(cfg.Forward.Timeout),
		// Probes and forwarded requests share connections, so the
		// verification setting covers both.
		TLSConfig: &tls.Config{InsecureSkipVerify: cfg.Probe.InsecureSkipVerify},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("transport pool: %w", err)
	}

	if cfg.Probe.InsecureSkipVerify {
		log.Warn("Upstream TLS certificate verification is disabled")
	}

	collectorCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(collectorCtx)

	p := prober.New(transports, prober.Options{
		Path:        cfg.Probe.Path,
		Timeout:     config.Duration(cfg.Probe.Timeout),
		Concurrency: cfg.Probe.Concurrency,
	}, log)

	winners := cache.NewFreshnessCache(store, nil, config.Duration(cfg.Cache.Timeout), log)
	balancer := loadbalancer.NewLatencyBalancer(pool, p, winners, collector, log)

	fwd := forwarder.New(transports, forwarder.Options{Redirect: cfg.Forward.Redirect}, log)

	targets := resolver.New(cfg.Hosts.Mapping(), cfg.Hosts.Default)

	proxyHandler := handler.NewProxyHandler(log, targets, balancer, fwd, collector, handler.Options{
		ClientHeader: cfg.Forward.ClientHeader,
		HostHeader:   cfg.Forward.HostHeader,
	})

	router := setupRouter(proxyHandler, collector)

	srv, err := httpserver.New(cfg.Server.Address, router, httpserver.Options{
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  config.Duration(cfg.Server.IdleTimeout),
	})
	if err != nil {
		stop()
		_ = store.Close()
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &app{
		server:    srv,
		router:    router,
		collector: collector,
		store:     store,
		pool:      transports,
		stop:      stop,
	}, nil
}

func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case config.CacheDriverMemory:
		return cache.NewMemoryStore(cfg.Cache.Memory.Size)
	case config.CacheDriverRedis:
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Address:   cfg.Cache.Redis.Address,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
			Retention: config.Duration(cfg.Cache.Redis.Retention),
			Timeout:   config.Duration(cfg.Cache.Timeout),
		})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

// shutdown stops accepting requests, then flushes metrics and releases the
// cache store and pooled connections.
func (a *app) shutdown(ctx context.Context) error {
	var err error

	err = multierr.Append(err, a.server.Shutdown(ctx))

	a.stop()
	<-a.collector.Done()

	a.pool.CloseIdleConnections()
	err = multierr.Append(err, a.store.Close())

	return err
}
