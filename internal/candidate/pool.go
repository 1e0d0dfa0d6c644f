package candidate

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for candidates configured without an explicit port.
const DefaultPort = "443"

var (
	ErrEmptyPool        = errors.New("candidate pool is empty")
	ErrInvalidAddress   = errors.New("invalid candidate address")
	ErrDuplicateAddress = errors.New("duplicate candidate address")
)

// Pool is an immutable ordered list of host:port addresses.
type Pool struct {
	addresses []string
}

// NewPool normalizes every address and keeps the configured order.
func NewPool(addresses []string) (Pool, error) {
	if len(addresses) == 0 {
		return Pool{}, ErrEmptyPool
	}

	seen := make(map[string]struct{}, len(addresses))
	normalized := make([]string, 0, len(addresses))

	for _, raw := range addresses {
		addr, err := Normalize(raw)
		if err != nil {
			return Pool{}, err
		}

		if _, dup := seen[addr]; dup {
			return Pool{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
		}
		seen[addr] = struct{}{}
		normalized = append(normalized, addr)
	}

	return Pool{addresses: normalized}, nil
}

// Addresses returns a copy of the pool in configured order.
func (p Pool) Addresses() []string {
	out := make([]string, len(p.addresses))
	copy(out, p.addresses)
	return out
}

func (p Pool) Len() int {
	return len(p.addresses)
}

// Contains reports whether address, in normalized form, is in the pool.
func (p Pool) Contains(address string) bool {
	for _, a := range p.addresses {
		if a == address {
			return true
		}
	}
	return false
}

// Normalize turns "1.2.3.4", "1.2.3.4:8443", "2606::1" or "[2606::1]:443"
// into a dialable host:port.
func Normalize(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" || strings.Contains(addr, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port. Bare IPv6 literals land here too.
		host, port = strings.Trim(addr, "[]"), DefaultPort
	}

	if host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, raw)
	}

	return net.JoinHostPort(strings.ToLower(host), port), nil
}
