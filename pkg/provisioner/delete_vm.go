package provisioner

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/retry"
)

// BuildDeleteVm assembles the DeleteVm pipeline: stop VM,
// release ARP, delete DNS, host delete_vm, soft-delete rows. Destructive
// and not itself compensated — retries happen per step.
func (d *Deps) BuildDeleteVm(job dispatcher.Job) *Pipeline {
	st := &createVmState{job: job}
	p := New("DeleteVm", d.logger())

	p.Add(validationStep("load", func(ctx context.Context) error { return d.deleteVmLoad(ctx, st) }))
	p.Add(Step{Name: "stop_vm", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.deleteVmStop(ctx, st) }})
	p.Add(Step{Name: "release_arp", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmRemoveArp(ctx, st) }})
	p.Add(Step{Name: "delete_dns", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.deleteVmDNS(ctx, st) }})
	p.Add(Step{Name: "host_delete_vm", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.deleteVmHost(ctx, st) }})
	p.Add(Step{Name: "soft_delete", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmSoftDelete(ctx, st) }})

	return p
}

func (d *Deps) deleteVmLoad(ctx context.Context, st *createVmState) error {
	vm, err := d.Store.GetVm(ctx, st.job.VmID)
	if err != nil {
		return err
	}
	st.vm = vm
	host, err := d.Store.GetHost(ctx, vm.HostID)
	if err != nil {
		return err
	}
	st.host = host

	assignments, err := d.Store.ListVmIPAssignments(ctx, vm.ID)
	if err != nil {
		return err
	}
	st.assignments = assignments
	return nil
}

func (d *Deps) deleteVmStop(ctx context.Context, st *createVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	return drv.StopVm(ctx, st.vm.ID)
}

func (d *Deps) deleteVmDNS(ctx context.Context, st *createVmState) error {
	if d.DNS == nil {
		return nil
	}
	for _, a := range st.assignments {
		if a.DnsARef != nil {
			if err := d.DNS.DeleteForward(ctx, *a.DnsARef); err != nil {
				return err
			}
		}
		if a.DnsPTRRef != nil {
			if err := d.DNS.DeleteReverse(ctx, *a.DnsPTRRef); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Deps) deleteVmHost(ctx context.Context, st *createVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	return drv.DeleteVm(ctx, st.vm.ID)
}
