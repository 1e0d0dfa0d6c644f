package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-latency-proxy/config"
	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-latency-proxy/pkg/logger"
)

func testConfig(candidates ...string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:      "127.0.0.1:0",
			Environment:  config.EnvDev,
			ReadTimeout:  "5s",
			WriteTimeout: "5s",
			IdleTimeout:  "5s",
		},
		Logging: config.LoggingConfig{Level: config.LogLevelError},
		Hosts: config.HostsConfig{
			Default: "example.com",
			Routes:  []config.RouteConfig{{Host: "cf.2xnz.qzz.io", Target: "example.com"}},
		},
		Candidates: candidates,
		Probe: config.ProbeConfig{
			Path:               "/cdn-cgi/trace",
			Timeout:            "2s",
			Concurrency:        4,
			InsecureSkipVerify: true,
		},
		Cache: config.CacheConfig{
			Driver:  config.CacheDriverMemory,
			Timeout: "500ms",
			Memory:  config.MemoryCacheConfig{Size: 100},
		},
		Forward: config.ForwardConfig{
			Timeout:      "5s",
			Redirect:     config.RedirectFollow,
			ClientHeader: "CF-Connecting-IP",
			HostHeader:   "X-Forwarded-Host",
		},
		Transport: config.TransportConfig{PoolSize: 8, IdleConnTimeout: "30s"},
	}
}

func closedAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := l.Addr().String()
	l.Close()
	return addr
}

var _ = Describe("setupRouter", func() {
	var (
		collector *metrics.Collector
		proxied   atomic.Int32
		router    http.Handler
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(10, logger.Discard())
		collector.Start(ctx)

		proxied.Store(0)
		proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proxied.Add(1)
			w.Write([]byte("proxied " + r.URL.Path))
		})
		router = setupRouter(proxy, collector)
	})

	AfterEach(func() {
		cancel()
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("should answer health checks", func() {
		rec := get("/-/healthz")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("ok"))
		Expect(proxied.Load()).To(BeZero())
	})

	It("should serve the JSON stats snapshot", func() {
		rec := get("/-/stats")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var snap metrics.Snapshot
		Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
	})

	It("should serve Prometheus metrics", func() {
		rec := get("/-/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
	})

	It("should not proxy unknown reserved paths", func() {
		rec := get("/-/unknown")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(proxied.Load()).To(BeZero())
	})

	It("should forward everything else untouched", func() {
		rec := get("/metrics")
		Expect(rec.Body.String()).To(Equal("proxied /metrics"))

		rec = get("//double//slash")
		Expect(rec.Body.String()).To(Equal("proxied //double//slash"))
		Expect(proxied.Load()).To(Equal(int32(2)))
	})
})

var _ = Describe("newCacheStore", func() {
	It("should build a memory store", func() {
		store, err := newCacheStore(context.Background(), testConfig("127.0.0.1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())
	})

	It("should reject unknown drivers", func() {
		cfg := testConfig("127.0.0.1")
		cfg.Cache.Driver = "memcached"

		_, err := newCacheStore(context.Background(), cfg)
		Expect(err).To(MatchError(ContainSubstring("unknown cache driver")))
	})

	It("should fail when redis is unreachable", func() {
		cfg := testConfig("127.0.0.1")
		cfg.Cache.Driver = config.CacheDriverRedis
		cfg.Cache.Redis = config.RedisCacheConfig{Address: closedAddress(), Retention: "24h"}

		_, err := newCacheStore(context.Background(), cfg)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("newApp", func() {
	var (
		upstream *httptest.Server
		hits     atomic.Int32
	)

	BeforeEach(func() {
		hits.Store(0)
		upstream = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/cdn-cgi/trace" {
				return
			}
			hits.Add(1)
			w.Write([]byte("hello from " + r.Host))
		}))
	})

	AfterEach(func() {
		upstream.Close()
	})

	It("should reject an invalid candidate pool", func() {
		_, err := newApp(context.Background(), testConfig(), logger.Discard())
		Expect(err).To(MatchError(ContainSubstring("candidate pool")))
	})

	It("should proxy through the fastest candidate and then reuse it", func() {
		live := strings.TrimPrefix(upstream.URL, "https://")
		a, err := newApp(context.Background(), testConfig(closedAddress(), live), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		defer a.shutdown(context.Background())

		send := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/hello", nil)
			req.Header.Set("CF-Connecting-IP", "203.0.113.7")
			rec := httptest.NewRecorder()
			a.router.ServeHTTP(rec, req)
			return rec
		}

		first := send()
		Expect(first.Code).To(Equal(http.StatusOK))
		Expect(first.Body.String()).To(Equal("hello from example.com"))
		Expect(first.Header().Get("X-Edge-Upstream")).To(Equal(live))
		Expect(first.Header().Get("X-Edge-Cache")).To(Equal("MISS"))

		second := send()
		Expect(second.Code).To(Equal(http.StatusOK))
		Expect(second.Header().Get("X-Edge-Cache")).To(Equal("HIT"))
		Expect(hits.Load()).To(Equal(int32(2)))
	})

	It("should answer 502 when no candidate responds", func() {
		a, err := newApp(context.Background(), testConfig(closedAddress()), logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		defer a.shutdown(context.Background())

		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://cf.2xnz.qzz.io/", nil))

		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		body, _ := io.ReadAll(rec.Body)
		Expect(string(body)).To(Equal("no viable upstream"))
	})
})
