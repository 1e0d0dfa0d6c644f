// Package candidate models the fixed, ordered pool of network addresses that
// are probed for every target. Pool order is significant: it breaks latency
// ties during selection.
package candidate
