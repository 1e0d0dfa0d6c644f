// Package cache remembers the fastest candidate per (client, target) pair.
//
// Storage is delegated to a Store, a plain byte oriented key/value service
// with no expiry semantics of its own. Freshness is decided here at read
// time: an Entry is usable for exactly TTL after it was observed.
//
// Two stores are provided:
//
//   - MemoryStore: a bounded in-process LRU, suitable for a single edge node
//   - RedisStore: shared across edge nodes
//
// Store failures never reach the request path. A failed read is a miss and
// a failed write only costs the next request a probing round.
package cache
