package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventCacheLookup       EventType = "cache_lookup"
	EventProbeCompleted    EventType = "probe_completed"
	EventCandidateSelected EventType = "candidate_selected"
	EventNoViableCandidate EventType = "no_viable_candidate"
	EventResponseCompleted EventType = "response_completed"
	EventForwardFailed     EventType = "forward_failed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Target     string
	Address    string
	Duration   time.Duration
	StatusCode int
	CacheHit   bool
	Failed     bool
}

// Emitter is the write side of a Collector.
type Emitter interface {
	Emit(event MetricEvent)
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	prom    *promMetrics
	logger  *slog.Logger
	done    chan struct{}
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		prom:    newPromMetrics(),
		logger:  logger.With(slog.String("component", "metrics")),
		done:    make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking. A full buffer drops the event.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.metrics.RecordDropped()
		c.prom.droppedEvents.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after ctx ended.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Target)

	case EventCacheLookup:
		c.metrics.RecordCacheLookup(event.CacheHit)

	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Address, event.Duration, event.Failed)

	case EventCandidateSelected:
		c.metrics.RecordSelection(event.Address)

	case EventNoViableCandidate:
		c.metrics.RecordNoViable()

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Address, event.Duration, event.StatusCode)

	case EventForwardFailed:
		c.metrics.RecordForwardFailure(event.Address)

	default:
		c.logger.Debug("Ignoring unknown metric event", slog.String("type", string(event.Type)))
		return
	}

	c.prom.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
