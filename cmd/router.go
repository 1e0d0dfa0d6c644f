package main

import (
	"net/http"
	"strings"

	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
)

// opsPrefix is reserved for the proxy's own endpoints and never forwarded.
const opsPrefix = "/-/"

func setupRouter(proxy http.Handler, metricsCollector *metrics.Collector) http.Handler {
	ops := http.NewServeMux()

	ops.Handle("GET /-/metrics", metricsCollector.PrometheusHandler())
	ops.HandleFunc("GET /-/stats", metricsCollector.Handler())
	ops.HandleFunc("GET /-/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	// Proxied paths bypass ServeMux so they are forwarded exactly as
	// received, without path cleaning or redirects.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, opsPrefix) {
			ops.ServeHTTP(w, r)
			return
		}
		proxy.ServeHTTP(w, r)
	})
}
