package prober

import (
	"math"
	"time"
)

// Unreachable is the latency recorded for a failed probe. It orders after
// every real measurement.
const Unreachable = time.Duration(math.MaxInt64)

type Result struct {
	Address string
	Latency time.Duration
	Err     error
}

func (r Result) Failed() bool {
	return r.Latency == Unreachable
}

func (r Result) LatencyMs() int64 {
	return r.Latency.Milliseconds()
}

func failed(address string, err error) Result {
	return Result{Address: address, Latency: Unreachable, Err: err}
}
