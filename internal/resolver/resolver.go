package resolver

import (
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// TargetResolver performs exact-match lookups against a static table and
// falls back to a default target. It is safe for concurrent use.
type TargetResolver struct {
	mapping       map[string]string
	defaultTarget string
}

// New copies mapping so later changes by the caller are not observed.
func New(mapping map[string]string, defaultTarget string) *TargetResolver {
	m := make(map[string]string, len(mapping))
	for host, target := range mapping {
		m[Canonical(host)] = target
	}

	return &TargetResolver{
		mapping:       m,
		defaultTarget: defaultTarget,
	}
}

// Resolve never fails: unknown hosts resolve to the default target.
func (r *TargetResolver) Resolve(host string) string {
	if target, ok := r.mapping[Canonical(host)]; ok {
		return target
	}
	return r.defaultTarget
}

func (r *TargetResolver) Default() string {
	return r.defaultTarget
}

// Canonical strips the port and trailing dot, lowercases, and converts
// internationalized names to their ASCII form so that equivalent spellings
// of a host compare equal.
func Canonical(host string) string {
	h := strings.TrimSpace(host)
	if hp, _, err := net.SplitHostPort(h); err == nil {
		h = hp
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")

	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		return ascii
	}
	return h
}
