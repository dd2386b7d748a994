// Package routerdriver implements the Router Driver:
// ARP-entry management against the network device bound to an IpRange's
// AccessPolicy. Every variant is built on net/http directly.
package routerdriver

import "context"

// ArpEntry is one static ARP binding.
type ArpEntry struct {
	ID        string // driver-assigned reference, empty until Add returns
	IP        string
	Mac       string
	Interface string
	Comment   string
}

// BroadcastMac is never a legal ArpEntry.Mac.
const BroadcastMac = "ff:ff:ff:ff:ff:ff"

// Driver manages ARP entries on one router/kind. All methods return a
// retry-classified *lnvpserr.Error.
type Driver interface {
	Kind() string

	List(ctx context.Context) ([]ArpEntry, error)
	Add(ctx context.Context, entry ArpEntry) (ArpEntry, error)
	Update(ctx context.Context, entry ArpEntry) (ArpEntry, error)
	Remove(ctx context.Context, id string) error

	// GenerateMac mints a MAC for router kinds that own address space
	// (OVH virtual-MAC). Returns ok=false for kinds that don't.
	GenerateMac(ctx context.Context, ip, comment string) (ArpEntry, bool, error)
}

// Registry resolves a Driver by Router.Kind.
type Registry struct {
	drivers map[string]Driver
}

func NewRegistry() *Registry { return &Registry{drivers: make(map[string]Driver)} }

func (r *Registry) Register(d Driver) { r.drivers[d.Kind()] = d }

func (r *Registry) Resolve(kind string) (Driver, bool) {
	d, ok := r.drivers[kind]
	return d, ok
}
