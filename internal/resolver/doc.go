// Package resolver maps an inbound virtual host onto the logical upstream
// host the client actually wants. The table is injected at construction and
// never changes afterwards.
package resolver
