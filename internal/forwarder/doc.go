// Package forwarder relays an inbound request to a chosen candidate address
// while presenting the target host as both Host header and TLS server name.
// Method, path, query, headers and body pass through unchanged apart from
// hop-by-hop headers.
package forwarder
