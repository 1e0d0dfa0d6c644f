package selector

import (
	"errors"
	"slices"

	"github.com/angeloszaimis/edge-latency-proxy/internal/prober"
)

var ErrNoViableCandidate = errors.New("no viable candidate")

// Select returns the fastest successful result. results is not modified.
func Select(results []prober.Result) (prober.Result, error) {
	ranked := Rank(results)
	if len(ranked) == 0 || ranked[0].Failed() {
		return prober.Result{}, ErrNoViableCandidate
	}
	return ranked[0], nil
}

// Rank returns a copy of results ordered by ascending latency. The sort is
// stable, so equal latencies keep pool order and failures end up last.
func Rank(results []prober.Result) []prober.Result {
	ranked := slices.Clone(results)
	slices.SortStableFunc(ranked, func(a, b prober.Result) int {
		switch {
		case a.Latency < b.Latency:
			return -1
		case a.Latency > b.Latency:
			return 1
		}
		return 0
	})
	return ranked
}
