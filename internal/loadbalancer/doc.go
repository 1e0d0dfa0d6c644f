// Package loadbalancer decides which candidate address serves a request.
//
// For a (client, target) pair it reuses the winner cached within the
// freshness window; otherwise it probes every candidate, selects the fastest
// and caches that winner. A round in which every probe failed yields
// selector.ErrNoViableCandidate and leaves the cache untouched.
package loadbalancer
