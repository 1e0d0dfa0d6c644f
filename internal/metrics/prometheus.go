package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "edge_proxy"

type promMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	probeFailures   *prometheus.CounterVec
	selections      *prometheus.CounterVec
	noViable        prometheus.Counter
	forwardDuration *prometheus.HistogramVec
	responses       *prometheus.CounterVec
	forwardFailures *prometheus.CounterVec
	droppedEvents   prometheus.Counter
}

func newPromMetrics() *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Inbound requests by resolved target",
			},
			[]string{"target"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Winner cache lookups by result",
			},
			[]string{"result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Latency of successful candidate probes",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 8},
			},
			[]string{"address"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_failures_total",
				Help:      "Probes that errored or timed out",
			},
			[]string{"address"},
		),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selections_total",
				Help:      "Probing rounds won by a candidate",
			},
			[]string{"address"},
		),
		noViable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_viable_candidate_total",
			Help:      "Probing rounds in which every candidate failed",
		}),
		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_duration_seconds",
				Help:      "Time spent forwarding requests upstream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"address"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Forwarded responses by candidate and status code",
			},
			[]string{"address", "status_code"},
		),
		forwardFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_failures_total",
				Help:      "Forwarding attempts that failed at the transport level",
			},
			[]string{"address"},
		),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Metric events dropped because the collector buffer was full",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.cacheLookups,
		m.probeDuration,
		m.probeFailures,
		m.selections,
		m.noViable,
		m.forwardDuration,
		m.responses,
		m.forwardFailures,
		m.droppedEvents,
	)

	return m
}

func (m *promMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		m.requestsTotal.WithLabelValues(event.Target).Inc()

	case EventCacheLookup:
		result := "miss"
		if event.CacheHit {
			result = "hit"
		}
		m.cacheLookups.WithLabelValues(result).Inc()

	case EventProbeCompleted:
		if event.Failed {
			m.probeFailures.WithLabelValues(event.Address).Inc()
			return
		}
		m.probeDuration.WithLabelValues(event.Address).Observe(seconds(event.Duration))

	case EventCandidateSelected:
		m.selections.WithLabelValues(event.Address).Inc()

	case EventNoViableCandidate:
		m.noViable.Inc()

	case EventResponseCompleted:
		m.forwardDuration.WithLabelValues(event.Address).Observe(seconds(event.Duration))
		m.responses.WithLabelValues(event.Address, strconv.Itoa(event.StatusCode)).Inc()

	case EventForwardFailed:
		m.forwardFailures.WithLabelValues(event.Address).Inc()
	}
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
