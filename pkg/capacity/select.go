// Package capacity implements the Capacity & Pricing Engine: best-fit host/disk placement, CIDR-aware IP allocation, and
// multi-currency pricing with tax and payment-method fees.
package capacity

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Usage is committed resource usage on a host, summed across its non-deleted VMs.
type Usage struct {
	CPU    int32
	Memory int64
}

// UsageSource supplies the committed usage the selector subtracts from raw
// capacity. Implemented by the Provisioner against the Catalog Store.
type UsageSource interface {
	HostUsage(ctx context.Context, hostID catalog.ID) (Usage, error)
}

// Request is the shape to place: a template or custom-template's resource
// footprint.
type Request struct {
	CPU           int32
	MemoryBytes   int64
	DiskSizeBytes int64
	DiskKind      catalog.DiskKind
	DiskInterface catalog.DiskInterface
}

// candidate pairs a host with its tightRatio: how far below capacity the
// tightest dimension is, used to rank candidate hosts: the larger the ratio,
// the more comfortably the request fits.
type candidate struct {
	host       catalog.Host
	tightRatio float64
}

// SelectHost implements the host-selection algorithm: enumerate
// enabled hosts in the region, reject any without headroom on every
// dimension, then pick the one whose tightest-dimension headroom ratio is
// largest, ties broken by lowest ID.
func SelectHost(ctx context.Context, hosts []catalog.Host, usage UsageSource, req Request) (catalog.Host, error) {
	var candidates []candidate

	for _, h := range hosts {
		u, err := usage.HostUsage(ctx, h.ID)
		if err != nil {
			return catalog.Host{}, err
		}

		cpuHeadroom := float64(h.CPUTotal)*h.LoadCPU - float64(u.CPU)
		memHeadroom := float64(h.MemoryTotalByte)*h.LoadMemory - float64(u.Memory)

		if cpuHeadroom < float64(req.CPU) || memHeadroom < float64(req.MemoryBytes) {
			continue
		}

		cpuRatio := safeRatio(cpuHeadroom-float64(req.CPU), float64(h.CPUTotal))
		memRatio := safeRatio(memHeadroom-float64(req.MemoryBytes), float64(h.MemoryTotalByte))
		tight := cpuRatio
		if memRatio < tight {
			tight = memRatio
		}

		candidates = append(candidates, candidate{host: h, tightRatio: tight})
	}

	return bestCandidate(candidates)
}

func bestCandidate(candidates []candidate) (catalog.Host, error) {
	if len(candidates) == 0 {
		return catalog.Host{}, lnvpserr.CapacityExhausted("no host has sufficient headroom")
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.tightRatio > best.tightRatio || (c.tightRatio == best.tightRatio && c.host.ID < best.host.ID) {
			best = c
		}
	}
	return best.host, nil
}

func safeRatio(remaining, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return remaining / total
}

// diskCandidate mirrors candidate for disk selection.
type diskCandidate struct {
	disk       catalog.HostDisk
	tightRatio float64
}

// DiskUsageSource supplies committed bytes already placed on a disk.
type DiskUsageSource interface {
	DiskUsage(ctx context.Context, diskID catalog.ID) (int64, error)
}

// SelectDisk implements the disk-placement rule: an enabled
// disk of matching kind/interface with sufficient free size, same
// best-fit-by-headroom-ratio rule as host selection.
func SelectDisk(ctx context.Context, disks []catalog.HostDisk, usage DiskUsageSource, req Request) (catalog.HostDisk, error) {
	var candidates []diskCandidate

	for _, d := range disks {
		if d.Kind != req.DiskKind || d.Interface != req.DiskInterface {
			continue
		}
		committed, err := usage.DiskUsage(ctx, d.ID)
		if err != nil {
			return catalog.HostDisk{}, err
		}
		headroom := d.SizeBytes - committed
		if headroom < req.DiskSizeBytes {
			continue
		}
		ratio := safeRatio(float64(headroom-req.DiskSizeBytes), float64(d.SizeBytes))
		candidates = append(candidates, diskCandidate{disk: d, tightRatio: ratio})
	}

	if len(candidates) == 0 {
		return catalog.HostDisk{}, lnvpserr.CapacityExhausted("no disk of kind=%s interface=%s has sufficient free space", req.DiskKind, req.DiskInterface)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.tightRatio > best.tightRatio || (c.tightRatio == best.tightRatio && c.disk.ID < best.disk.ID) {
			best = c
		}
	}
	return best.disk, nil
}
