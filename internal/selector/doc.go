// Package selector picks the winning candidate of a probing round: the
// lowest latency, with ties going to the candidate listed first. Failed
// probes never win.
package selector
