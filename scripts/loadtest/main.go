// Loadtest drives concurrent traffic through the proxy and reports
// throughput, latency percentiles and how requests were spread over
// upstream addresses and cache hits.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/ -host cf.2xnz.qzz.io -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -clients 50 -out summary.json
//
// Each request carries a fake client identity drawn from -clients distinct
// addresses, so the first request per client misses the winner cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type upstreamStats struct {
	Count     int             `json:"count"`
	Hits      int             `json:"cache_hits"`
	Latencies []time.Duration `json:"-"`
}

type summary struct {
	Target        string                     `json:"target"`
	Requests      int                        `json:"requests"`
	Concurrency   int                        `json:"concurrency"`
	Success       int                        `json:"success"`
	Failure       int                        `json:"failure"`
	DurationMs    int64                      `json:"duration_ms"`
	ThroughputRPS float64                    `json:"throughput_rps"`
	StatusCodes   map[int]int                `json:"status_codes"`
	Upstreams     map[string]upstreamSummary `json:"upstreams"`

	stats     map[string]*upstreamStats
	latencies []time.Duration
}

type upstreamSummary struct {
	Count int     `json:"count"`
	Hits  int     `json:"cache_hits"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P99   float64 `json:"p99_ms"`
}

func main() {
	var (
		url          = flag.String("url", "http://localhost:8080/", "Proxy URL")
		host         = flag.String("host", "", "Value for the host override header (empty sends none)")
		hostHeader   = flag.String("host-header", "X-Forwarded-Host", "Host override header name")
		clientHeader = flag.String("client-header", "CF-Connecting-IP", "Client identity header name")
		clients      = flag.Int("clients", 20, "Number of distinct fake client identities")
		concurrency  = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests     = flag.Int("requests", 100, "Total number of requests to send")
		timeout      = flag.Duration("timeout", 15*time.Second, "Per-request timeout")
		outJSON      = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose      = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	s := &summary{
		Target:      *url,
		Requests:    *requests,
		Concurrency: *concurrency,
		StatusCodes: make(map[int]int),
		Upstreams:   make(map[string]upstreamSummary),
		stats:       make(map[string]*upstreamStats),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(*concurrency)

	testStart := time.Now()

	for idx := 0; idx < *requests; idx++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, *url, nil)
			if err != nil {
				return err
			}
			if *host != "" {
				req.Header.Set(*hostHeader, *host)
			}
			req.Header.Set(*clientHeader, fmt.Sprintf("198.51.100.%d", (idx%*clients)+1))

			start := time.Now()
			resp, err := client.Do(req)
			dur := time.Since(start)

			mu.Lock()
			defer mu.Unlock()

			s.latencies = append(s.latencies, dur)

			if err != nil {
				s.Failure++
				if *verbose {
					fmt.Printf("idx=%d error=%v\n", idx, err)
				}
				return nil
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			s.StatusCodes[resp.StatusCode]++
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				s.Success++
			} else {
				s.Failure++
			}

			upstream := resp.Header.Get("X-Edge-Upstream")
			if upstream == "" {
				upstream = "(none)"
			}
			us, ok := s.stats[upstream]
			if !ok {
				us = &upstreamStats{}
				s.stats[upstream] = us
			}
			us.Count++
			if strings.EqualFold(resp.Header.Get("X-Edge-Cache"), "HIT") {
				us.Hits++
			}
			us.Latencies = append(us.Latencies, dur)

			if *verbose {
				fmt.Printf("idx=%d upstream=%s cache=%s status=%d dur=%v\n",
					idx, upstream, resp.Header.Get("X-Edge-Cache"), resp.StatusCode, dur)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
		os.Exit(1)
	}

	total := time.Since(testStart)
	s.DurationMs = total.Milliseconds()
	s.ThroughputRPS = float64(*requests) / total.Seconds()

	for k, us := range s.stats {
		sorted := sortedCopy(us.Latencies)
		s.Upstreams[k] = upstreamSummary{
			Count: us.Count,
			Hits:  us.Hits,
			P50:   ms(pick(sorted, 0.50)),
			P90:   ms(pick(sorted, 0.90)),
			P99:   ms(pick(sorted, 0.99)),
		}
	}

	printSummary(s, total)

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(s)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	// exit with non-zero if there were failures
	if s.Failure > 0 {
		os.Exit(2)
	}
}

func printSummary(s *summary, total time.Duration) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", s.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", s.Requests, s.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", s.Success, s.Failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", total, s.ThroughputRPS)

	fmt.Println("\nStatus codes:")
	var codes []int
	for k := range s.StatusCodes {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, s.StatusCodes[k])
	}

	fmt.Println("\nUpstream distribution:")
	var keys []string
	for k := range s.Upstreams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u := s.Upstreams[k]
		fmt.Printf("  %s -> total=%d cache_hits=%d p50=%.1fms p90=%.1fms p99=%.1fms\n",
			k, u.Count, u.Hits, u.P50, u.P90, u.P99)
	}

	if len(s.latencies) > 0 {
		sorted := sortedCopy(s.latencies)
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v p50=%v p90=%v p99=%v max=%v\n",
			len(sorted), sorted[0], pick(sorted, 0.5), pick(sorted, 0.9), pick(sorted, 0.99), sorted[len(sorted)-1])
	}
}

func sortedCopy(in []time.Duration) []time.Duration {
	out := make([]time.Duration, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pick(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
