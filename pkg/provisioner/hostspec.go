package provisioner

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
)

// buildCreateSpec resolves a Vm's current template/custom shape, image,
// disk and IP assignments into the flat shape hostdriver.Driver consumes.
// Shared by ConfigureVm and ProcessVmUpgrade so both drive the host from
// the same catalog-derived truth.
func (d *Deps) buildCreateSpec(ctx context.Context, vm catalog.Vm) (hostdriver.CreateSpec, error) {
	var cpu int32
	var memBytes, diskBytes int64
	var diskKind catalog.DiskKind

	if vm.TemplateID != nil {
		t, err := d.Store.GetVmTemplate(ctx, *vm.TemplateID)
		if err != nil {
			return hostdriver.CreateSpec{}, err
		}
		cpu, memBytes, diskBytes, diskKind = t.CPU, t.MemoryBytes, t.DiskSizeBytes, t.DiskType
	} else if vm.CustomTemplateID != nil {
		ct, err := d.Store.GetCustomTemplate(ctx, *vm.CustomTemplateID)
		if err != nil {
			return hostdriver.CreateSpec{}, err
		}
		cpu, memBytes, diskBytes, diskKind = ct.CPU, ct.MemoryBytes, ct.DiskSizeBytes, ct.DiskType
	}

	img, err := d.Store.GetVmOsImage(ctx, vm.ImageID)
	if err != nil {
		return hostdriver.CreateSpec{}, err
	}
	key, err := d.Store.GetSSHKey(ctx, vm.SSHKeyID)
	if err != nil {
		return hostdriver.CreateSpec{}, err
	}

	assignments, err := d.Store.ListVmIPAssignments(ctx, vm.ID)
	if err != nil {
		return hostdriver.CreateSpec{}, err
	}
	ips := make([]string, 0, len(assignments))
	gateway := ""
	for _, a := range assignments {
		ips = append(ips, a.IP)
		if gateway == "" {
			if rng, err := d.Store.GetIPRange(ctx, a.IpRangeID); err == nil {
				gateway = rng.Gateway
			}
		}
	}

	return hostdriver.CreateSpec{
		VmID:          vm.ID,
		CPU:           cpu,
		MemoryBytes:   memBytes,
		DiskSizeBytes: diskBytes,
		DiskKind:      string(diskKind),
		ImageURL:      img.URL,
		Network: hostdriver.NetworkConfig{
			MacAddress: vm.MacAddress,
			IPs:        ips,
			Gateway:    gateway,
		},
		SSHPubkey: key.Pubkey,
	}, nil
}
