// Package dnsdriver implements the DNS Driver: forward (A
// / AAAA) and reverse (PTR) record management against the zone bound to an
// IpRange. Built on net/http, like routerdriver.
package dnsdriver

import (
	"context"
	"net"
)

// Driver manages forward and reverse DNS records. A record reference is
// opaque to callers and only meaningful to Delete* on the same Driver.
type Driver interface {
	Kind() string

	// AddForward creates an A or AAAA record (picked by ip's family) for
	// name pointing at ip.
	AddForward(ctx context.Context, name string, ip net.IP) (ref string, err error)
	DeleteForward(ctx context.Context, ref string) error

	// AddReverse creates a PTR record for reverseName (the in-addr.arpa /
	// ip6.arpa owner name) pointing at target.
	AddReverse(ctx context.Context, reverseName, target string) (ref string, err error)
	DeleteReverse(ctx context.Context, ref string) error
}

// Registry resolves a Driver by zone provider kind.
type Registry struct {
	drivers map[string]Driver
}

func NewRegistry() *Registry { return &Registry{drivers: make(map[string]Driver)} }

func (r *Registry) Register(d Driver) { r.drivers[d.Kind()] = d }

func (r *Registry) Resolve(kind string) (Driver, bool) {
	d, ok := r.drivers[kind]
	return d, ok
}
