package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/edge-latency-proxy/internal/cache"
	"github.com/angeloszaimis/edge-latency-proxy/internal/candidate"
	"github.com/angeloszaimis/edge-latency-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-latency-proxy/internal/prober"
	"github.com/angeloszaimis/edge-latency-proxy/internal/selector"
)

type Prober interface {
	Probe(ctx context.Context, pool candidate.Pool, target string) []prober.Result
}

type WinnerCache interface {
	Lookup(ctx context.Context, key string) (cache.Entry, bool)
	Store(ctx context.Context, key, address string, latency time.Duration) (cache.Entry, error)
}

// Decision is the address chosen for one request.
type Decision struct {
	Address   string
	LatencyMs int64
	Cached    bool
}

type LatencyBalancer struct {
	pool   candidate.Pool
	prober Prober
	cache  WinnerCache
	events metrics.Emitter
	logger *slog.Logger
}

func NewLatencyBalancer(
	pool candidate.Pool,
	prober Prober,
	cache WinnerCache,
	events metrics.Emitter,
	logger *slog.Logger,
) *LatencyBalancer {
	if events == nil {
		events = discardEvents{}
	}

	return &LatencyBalancer{
		pool:   pool,
		prober: prober,
		cache:  cache,
		events: events,
		logger: logger.With(slog.String("component", "balancer")),
	}
}

// Choose returns the address that should serve target for client. The error
// wraps selector.ErrNoViableCandidate when no candidate answered.
func (lb *LatencyBalancer) Choose(ctx context.Context, client, target string) (Decision, error) {
	key := cache.Key(client, target)

	if entry, ok := lb.cache.Lookup(ctx, key); ok {
		if lb.pool.Contains(entry.Address) {
			lb.events.Emit(metrics.MetricEvent{Type: metrics.EventCacheLookup, Target: target, CacheHit: true})
			return Decision{Address: entry.Address, LatencyMs: entry.LatencyMs, Cached: true}, nil
		}

		lb.logger.Info("Cached winner is no longer a candidate, re-probing",
			slog.String("key", key),
			slog.String("address", entry.Address))
	}
	lb.events.Emit(metrics.MetricEvent{Type: metrics.EventCacheLookup, Target: target})

	results := lb.prober.Probe(ctx, lb.pool, target)
	for _, r := range results {
		lb.events.Emit(metrics.MetricEvent{
			Type:     metrics.EventProbeCompleted,
			Target:   target,
			Address:  r.Address,
			Duration: r.Latency,
			Failed:   r.Failed(),
		})
	}

	winner, err := selector.Select(results)
	if err != nil {
		lb.events.Emit(metrics.MetricEvent{Type: metrics.EventNoViableCandidate, Target: target})
		lb.logger.Warn("No candidate answered",
			slog.String("target", target),
			slog.Int("candidates", len(results)))
		return Decision{}, fmt.Errorf("choose upstream for %s: %w", target, err)
	}

	lb.events.Emit(metrics.MetricEvent{Type: metrics.EventCandidateSelected, Target: target, Address: winner.Address})
	lb.logger.Debug("Selected fastest candidate",
		slog.String("target", target),
		slog.String("address", winner.Address),
		slog.Int64("latency_ms", winner.LatencyMs()))

	// The round is paid for; keep its winner even if the client left.
	if _, err := lb.cache.Store(context.WithoutCancel(ctx), key, winner.Address, winner.Latency); err != nil {
		lb.logger.Warn("Failed to cache winner",
			slog.String("key", key),
			slog.Any("err", err))
	}

	return Decision{Address: winner.Address, LatencyMs: winner.LatencyMs()}, nil
}

func (lb *LatencyBalancer) Pool() candidate.Pool {
	return lb.pool
}

type discardEvents struct{}

func (discardEvents) Emit(metrics.MetricEvent) {}
