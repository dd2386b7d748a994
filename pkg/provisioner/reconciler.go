package provisioner

import (
	"context"
	"time"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
)

// BuildCheckVms fans a CheckVm job out per active VM. It has no vm_id of
// its own so Handler never takes the per-VM lock for it.
func (d *Deps) BuildCheckVms(job dispatcher.Job) *Pipeline {
	return New("check_vms", d.logger()).Add(validationStep("fan_out", func(ctx context.Context) error {
		vms, err := d.Store.ListActiveVms(ctx)
		if err != nil {
			return err
		}
		for _, vm := range vms {
			if _, err := d.enqueue(ctx, dispatcher.Job{Type: dispatcher.JobCheckVm, VmID: vm.ID}); err != nil {
				d.logger().Error("enqueuing CheckVm", "vm_id", vm.ID, "error", err)
			}
		}
		return nil
	}))
}

// BuildCheckVm reconciles one VM's catalog state against what its
// hypervisor reports, correcting drift.
func (d *Deps) BuildCheckVm(job dispatcher.Job) *Pipeline {
	return New("check_vm", d.logger()).Add(Step{
		Name: "reconcile",
		Run: func(ctx context.Context) error {
			vm, err := d.Store.GetVm(ctx, job.VmID)
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

			state, err := drv.GetVmState(ctx, vm.ID)
			if err != nil {
				return err
			}

			switch state {
			case hostdriver.StateStopped:
				if vm.Expires.After(time.Now()) {
					return drv.StartVm(ctx, vm.ID)
				}
			case hostdriver.StateUnknown:
				spec, err := d.buildCreateSpec(ctx, vm)
				if err != nil {
					return err
				}
				return drv.ConfigureVm(ctx, vm.ID, hostdriver.ConfigureSpec{
					CPU:         spec.CPU,
					MemoryBytes: spec.MemoryBytes,
					Network:     spec.Network,
				})
			}
			return nil
		},
	})
}

// BuildStartVm and BuildStopVm are thin, admin-triggered lifecycle
// operations: no compensation, since starting or stopping an
// already-converged VM is idempotent at the driver layer.
func (d *Deps) BuildStartVm(job dispatcher.Job) *Pipeline {
	return d.lifecycleStep("start_vm", job, func(ctx context.Context, drv hostdriver.Driver, vm catalog.Vm) error {
		return drv.StartVm(ctx, vm.ID)
	})
}

func (d *Deps) BuildStopVm(job dispatcher.Job) *Pipeline {
	return d.lifecycleStep("stop_vm", job, func(ctx context.Context, drv hostdriver.Driver, vm catalog.Vm) error {
		return drv.StopVm(ctx, vm.ID)
	})
}

func (d *Deps) lifecycleStep(name string, job dispatcher.Job, fn func(ctx context.Context, drv hostdriver.Driver, vm catalog.Vm) error) *Pipeline {
	return New(name, d.logger()).Add(Step{
		Name: name,
		Run: func(ctx context.Context) error {
			vm, err := d.Store.GetVm(ctx, job.VmID)
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
			return fn(ctx, drv, vm)
		},
	})
}

// BuildPatchHosts checks that every enabled host still resolves to a
// registered driver, surfacing configuration drift between the catalog and
// the set of drivers wired at startup.
func (d *Deps) BuildPatchHosts(job dispatcher.Job) *Pipeline {
	return New("patch_hosts", d.logger()).Add(validationStep("patch", func(ctx context.Context) error {
		hosts, err := d.Store.AdminListHosts(ctx, catalog.PageParams{Limit: 1000})
		if err != nil {
			return err
		}
		for _, h := range hosts {
			if !h.Enabled {
				continue
			}
			if _, err := d.resolveHost(h.Kind); err != nil {
				d.logger().Warn("no driver for host kind during patch", "host_id", h.ID, "kind", h.Kind)
			}
		}
		return nil
	}))
}
