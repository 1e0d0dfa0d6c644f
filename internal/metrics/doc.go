// Package metrics collects operational metrics for the proxy.
//
// It uses a channel-based event pipeline to asynchronously record:
//   - Inbound requests per target and cache hit/miss counts
//   - Probe latencies and failures per candidate address
//   - Winner selections and rounds without a viable candidate
//   - Forwarded response times with percentiles (P50, P95, P99) and status codes
//
// The collector runs in a dedicated goroutine and never blocks the request
// path: Emit drops the event when the buffer is full and counts the drop.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventProbeCompleted,
//		Address:  "198.41.209.252:443",
//		Duration: 42 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot()
//
// Every processed event also updates a dedicated Prometheus registry served
// by PrometheusHandler.
package metrics
