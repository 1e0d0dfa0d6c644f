package cache

import (
	"net/url"
	"strings"
)

const keyNamespace = "fastest"

// Key builds the cache key for a client and target pair. Both parts are
// query-escaped, so neither can contain the ':' separator and distinct
// pairs never produce the same key.
func Key(client, target string) string {
	var b strings.Builder
	b.Grow(len(keyNamespace) + len(client) + len(target) + 2)
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(client))
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(target))
	return b.String()
}
