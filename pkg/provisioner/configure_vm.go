package provisioner

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
	"github.com/lnvps/lnvpsd/pkg/retry"
)

// BuildConfigureVm assembles the ConfigureVm pipeline:
// idempotent host create_vm + configure_vm against current catalog state,
// with no compensation — failures retry in place.
func (d *Deps) BuildConfigureVm(job dispatcher.Job) *Pipeline {
	p := New("ConfigureVm", d.logger())
	p.Add(Step{Name: "configure_vm", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error {
		return d.configureVm(ctx, job.VmID)
	}})
	return p
}

func (d *Deps) configureVm(ctx context.Context, vmID catalog.ID) error {
	vm, err := d.Store.GetVm(ctx, vmID)
	if err != nil {
		return err
	}
	host, err := d.Store.GetHost(ctx, vm.HostID)
	if err != nil {
		return err
	}
	drv, err := d.resolveHost(host.Kind)
	if err != nil {
		return err
	}

	spec, err := d.buildCreateSpec(ctx, vm)
	if err != nil {
		return err
	}

	if err := drv.CreateVm(ctx, spec); err != nil {
		return err
	}
	return drv.ConfigureVm(ctx, vm.ID, hostdriver.ConfigureSpec{
		CPU:         spec.CPU,
		MemoryBytes: spec.MemoryBytes,
		Network:     spec.Network,
	})
}
