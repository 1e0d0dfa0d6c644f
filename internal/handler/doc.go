// Package handler implements the proxy's inbound HTTP entry point. It works
// out the target and client identity of each request, asks the balancer for
// an upstream address and hands the request to the forwarder.
package handler
