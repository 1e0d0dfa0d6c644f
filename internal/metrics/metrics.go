package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex           sync.RWMutex
	requests        map[string]int64
	cacheHits       int64
	cacheMisses     int64
	noViable        int64
	dropped         int64
	probes          map[string]int64
	probeFailures   map[string]int64
	probeLatencies  map[string][]time.Duration
	selections      map[string]int64
	forwards        map[string]int64
	forwardFailures map[string]int64
	responseTimes   map[string][]time.Duration
	statusCodes     map[string]map[int]int64
	startTime       time.Time
}

type Snapshot struct {
	TotalRequests int64                       `json:"total_requests"`
	Uptime        time.Duration               `json:"uptime"`
	CacheHits     int64                       `json:"cache_hits"`
	CacheMisses   int64                       `json:"cache_misses"`
	NoViable      int64                       `json:"no_viable"`
	DroppedEvents int64                       `json:"dropped_events"`
	Targets       map[string]int64            `json:"targets"`
	Candidates    map[string]CandidateMetrics `json:"candidates"`
}

type CandidateMetrics struct {
	Probes          int64         `json:"probes"`
	ProbeFailures   int64         `json:"probe_failures"`
	AvgProbe        time.Duration `json:"avg_probe"`
	Selections      int64         `json:"selections"`
	Forwards        int64         `json:"forwards"`
	ForwardFailures int64         `json:"forward_failures"`
	AvgResponse     time.Duration `json:"avg_response"`
	P50Response     time.Duration `json:"p50_response"`
	P95Response     time.Duration `json:"p95_response"`
	P99Response     time.Duration `json:"p99_response"`
	StatusCodes     map[int]int64 `json:"status_codes"`
}

func (m *Metrics) IncrementRequests(target string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[target]++
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *Metrics) RecordProbe(address string, latency time.Duration, failed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.probes[address]++
	if failed {
		m.probeFailures[address]++
		return
	}
	m.probeLatencies[address] = appendSample(m.probeLatencies[address], latency)
}

func (m *Metrics) RecordSelection(address string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[address]++
}

func (m *Metrics) RecordNoViable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noViable++
}

func (m *Metrics) RecordResponse(address string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.forwards[address]++
	m.responseTimes[address] = appendSample(m.responseTimes[address], duration)

	if m.statusCodes[address] == nil {
		m.statusCodes[address] = make(map[int]int64)
	}
	m.statusCodes[address][statusCode]++
}

func (m *Metrics) RecordForwardFailure(address string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forwardFailures[address]++
}

func (m *Metrics) RecordDropped() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dropped++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		CacheHits:     m.cacheHits,
		CacheMisses:   m.cacheMisses,
		NoViable:      m.noViable,
		DroppedEvents: m.dropped,
		Targets:       make(map[string]int64, len(m.requests)),
		Candidates:    make(map[string]CandidateMetrics),
	}

	for target, n := range m.requests {
		snap.TotalRequests += n
		snap.Targets[target] = n
	}

	// Collect every address seen by any event
	addresses := make(map[string]bool)
	for address := range m.probes {
		addresses[address] = true
	}
	for address := range m.selections {
		addresses[address] = true
	}
	for address := range m.forwards {
		addresses[address] = true
	}
	for address := range m.forwardFailures {
		addresses[address] = true
	}

	for address := range addresses {
		cm := CandidateMetrics{
			Probes:          m.probes[address],
			ProbeFailures:   m.probeFailures[address],
			AvgProbe:        average(m.probeLatencies[address]),
			Selections:      m.selections[address],
			Forwards:        m.forwards[address],
			ForwardFailures: m.forwardFailures[address],
			StatusCodes:     copyCodes(m.statusCodes[address]),
		}

		durations := m.responseTimes[address]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			cm.AvgResponse = average(sorted)
			cm.P50Response = percentile(sorted, 0.50)
			cm.P95Response = percentile(sorted, 0.95)
			cm.P99Response = percentile(sorted, 0.99)
		}

		snap.Candidates[address] = cm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:        make(map[string]int64),
		probes:          make(map[string]int64),
		probeFailures:   make(map[string]int64),
		probeLatencies:  make(map[string][]time.Duration),
		selections:      make(map[string]int64),
		forwards:        make(map[string]int64),
		forwardFailures: make(map[string]int64),
		responseTimes:   make(map[string][]time.Duration),
		statusCodes:     make(map[string]map[int]int64),
		startTime:       time.Now(),
	}
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxSamples {
		samples = samples[1:]
	}
	return samples
}

func copyCodes(codes map[int]int64) map[int]int64 {
	if codes == nil {
		return nil
	}
	out := make(map[int]int64, len(codes))
	for code, n := range codes {
		out[code] = n
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
