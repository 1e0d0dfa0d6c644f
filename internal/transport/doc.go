// Package transport dials candidate addresses while presenting the target
// host as TLS server name.
//
// Requests are sent to a raw address (the URL host) but must be verified
// against, and routed by, the logical target (the request Host). A single
// http.Transport cannot do that safely because its connection pool is keyed
// by URL host only, so Pool keeps one transport per (address, server name)
// pair in a bounded LRU and closes idle connections of evicted entries.
package transport
