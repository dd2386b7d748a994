// Package hostdriver implements the Host Driver:
// a polymorphic interface over hypervisor backends, resolved at startup by
// Host.Kind and dispatched through the Driver interface — no inheritance,
// one object per host kind, following the same Provider+Registry shape
// used for the router, DNS, and payment rail drivers.
package hostdriver

import (
	"context"
	"io"
	"time"
)

// VmState is the hypervisor-observed lifecycle state of a VM.
type VmState string

const (
	StateRunning  VmState = "running"
	StateStopped  VmState = "stopped"
	StateStarting VmState = "starting"
	StateDeleting VmState = "deleting"
	StateUnknown  VmState = "unknown"
)

// NetworkConfig describes the interfaces a VM should be configured with.
type NetworkConfig struct {
	MacAddress string
	IPs        []string
	Gateway    string
}

// CreateSpec is the full shape passed to CreateVm: the catalog rows the
// Provisioner Pipeline has already resolved.
type CreateSpec struct {
	VmID          int64
	CPU           int32
	MemoryBytes   int64
	DiskSizeBytes int64
	DiskKind      string
	ImageURL      string
	Network       NetworkConfig
	SSHPubkey     string
}

// ConfigureSpec is the (possibly changed) resource/network shape applied by
// ConfigureVm and ProcessVmUpgrade.
type ConfigureSpec struct {
	CPU         int32
	MemoryBytes int64
	Network     NetworkConfig
}

// Sample is one point-in-time utilization reading.
type Sample struct {
	CPUPercent   float64
	MemoryBytes  int64
	NetInBytes   int64
	NetOutBytes  int64
	DiskReadOps  int64
	DiskWriteOps int64
	Uptime       time.Duration
	Timestamp    time.Time
}

// Driver is implemented once per Host.Kind. Every method must be
// idempotent: CreateVm/StartVm/StopVm/DeleteVm on an already-converged VM
// is a success, not an error.
type Driver interface {
	// Kind returns the Host.Kind this driver implements ("proxmox", "mock").
	Kind() string

	// GenerateMAC returns a locally-administered, non-broadcast MAC unique
	// within the driver's scope.
	GenerateMAC(ctx context.Context) (string, error)

	CreateVm(ctx context.Context, spec CreateSpec) error
	StartVm(ctx context.Context, vmID int64) error
	StopVm(ctx context.Context, vmID int64) error
	DeleteVm(ctx context.Context, vmID int64) error
	ConfigureVm(ctx context.Context, vmID int64, spec ConfigureSpec) error

	GetVmState(ctx context.Context, vmID int64) (VmState, error)
	SampleVm(ctx context.Context, vmID int64) (Sample, error)

	// TerminalProxy returns a bidirectional byte stream to the VM's
	// console. Callers are responsible for closing it.
	TerminalProxy(ctx context.Context, vmID int64) (io.ReadWriteCloser, error)
}

// Registry resolves a Driver by Host.Kind.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver under its own Kind().
func (r *Registry) Register(d Driver) {
	r.drivers[d.Kind()] = d
}

// Resolve returns the Driver registered for kind, or ok=false if none is
// configured.
func (r *Registry) Resolve(kind string) (Driver, bool) {
	d, ok := r.drivers[kind]
	return d, ok
}
