package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/edge-latency-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-latency-proxy/internal/selector"
)

const (
	DefaultClientHeader = "CF-Connecting-IP"
	DefaultHostHeader   = "X-Forwarded-Host"

	// UnknownClient partitions requests that carry no client identity.
	UnknownClient = "unknown"

	HeaderUpstream  = "X-Edge-Upstream"
	HeaderCache     = "X-Edge-Cache"
	HeaderRequestID = "X-Request-Id"

	noViableBody = "no viable upstream"
)

type Resolver interface {
	Resolve(host string) string
}

type Balancer interface {
	Choose(ctx context.Context, client, target string) (loadbalancer.Decision, error)
}

type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, address, target string) error
}

type Options struct {
	ClientHeader string
	HostHeader   string
}

type ProxyHandler struct {
	logger       *slog.Logger
	resolver     Resolver
	balancer     Balancer
	forwarder    Forwarder
	events       metrics.Emitter
	clientHeader string
	hostHeader   string
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func NewProxyHandler(
	logger *slog.Logger,
	resolver Resolver,
	balancer Balancer,
	forwarder Forwarder,
	events metrics.Emitter,
	opts Options,
) *ProxyHandler {
	if opts.ClientHeader == "" {
		opts.ClientHeader = DefaultClientHeader
	}
	if opts.HostHeader == "" {
		opts.HostHeader = DefaultHostHeader
	}

	return &ProxyHandler{
		logger:       logger.With(slog.String("component", "handler")),
		resolver:     resolver,
		balancer:     balancer,
		forwarder:    forwarder,
		events:       events,
		clientHeader: opts.ClientHeader,
		hostHeader:   opts.HostHeader,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)

	host := h.effectiveHost(r)
	target := h.resolver.Resolve(host)
	client := h.clientIdentity(r)

	logger := h.logger.With(
		slog.String("request_id", requestID),
		slog.String("target", target))

	logger.Info("Received request",
		slog.String("client", client),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", host),
		slog.String("user_agent", r.UserAgent()))

	h.emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Target: target})

	decision, err := h.balancer.Choose(r.Context(), client, target)
	if err != nil {
		if errors.Is(err, selector.ErrNoViableCandidate) {
			logger.Warn("No viable upstream", slog.String("client", client))
		} else {
			logger.Error("Upstream selection failed", slog.Any("err", err))
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, noViableBody)
		return
	}

	cacheStatus := "MISS"
	if decision.Cached {
		cacheStatus = "HIT"
	}

	logger.Info("Forwarding to upstream",
		slog.String("address", decision.Address),
		slog.Int64("latency_ms", decision.LatencyMs),
		slog.String("cache", cacheStatus))

	w.Header().Set(HeaderUpstream, decision.Address)
	w.Header().Set(HeaderCache, cacheStatus)

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	if err := h.forwarder.Forward(wrapped, r, decision.Address, target); err != nil {
		h.emit(metrics.MetricEvent{Type: metrics.EventForwardFailed, Target: target, Address: decision.Address})
		return
	}

	h.emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Target:     target,
		Address:    decision.Address,
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

// effectiveHost prefers the override header, which an outer edge uses to
// pass on the host the client asked for.
func (h *ProxyHandler) effectiveHost(r *http.Request) string {
	if v := r.Header.Get(h.hostHeader); v != "" {
		return strings.TrimSpace(strings.Split(v, ",")[0])
	}
	return r.Host
}

func (h *ProxyHandler) clientIdentity(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(h.clientHeader)); v != "" {
		return v
	}
	return UnknownClient
}

func (h *ProxyHandler) emit(event metrics.MetricEvent) {
	if h.events == nil {
		return
	}
	h.events.Emit(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
