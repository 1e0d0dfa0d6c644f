// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the proxy configuration structure
// including server settings, the host routing table, the candidate address
// pool, probe tuning, the selection cache store and forwarding behavior.
package config
