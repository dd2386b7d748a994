package provisioner

import (
	"context"
	"net"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/retry"
)

// BuildAssignVmIp mirrors CreateVm's IP/ARP/DNS sub-steps for a single
// range against an already-provisioned VM.
func (d *Deps) BuildAssignVmIp(job dispatcher.Job) *Pipeline {
	st := &createVmState{job: job}
	p := New("AssignVmIp", d.logger())

	p.Add(validationStep("load", func(ctx context.Context) error { return d.ipOpLoadVm(ctx, st) }))
	p.Add(Step{
		Name:       "allocate_ip",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.assignVmIpAllocate(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.createVmReleaseIPs(ctx, st) },
	})
	p.Add(Step{
		Name:       "install_arp",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.createVmInstallArp(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.createVmRemoveArp(ctx, st) },
	})
	p.Add(Step{
		Name:       "register_dns",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.createVmRegisterDNS(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.createVmDeleteDNS(ctx, st) },
	})
	p.Add(Step{
		Name:       "persist_assignment",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.assignVmIpPersist(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.unassignVmIpDelete(ctx, st) },
	})
	p.Add(Step{Name: "reconfigure", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.ipOpReconfigure(ctx, st) }})

	return p
}

// BuildUnassignVmIp reverses a single assignment: remove ARP, delete DNS,
// delete the assignment row.
func (d *Deps) BuildUnassignVmIp(job dispatcher.Job) *Pipeline {
	st := &createVmState{job: job}
	p := New("UnassignVmIp", d.logger())

	p.Add(validationStep("load", func(ctx context.Context) error { return d.unassignVmIpLoad(ctx, st) }))
	p.Add(Step{Name: "remove_arp", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmRemoveArp(ctx, st) }})
	p.Add(Step{Name: "delete_dns", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.deleteVmDNS(ctx, st) }})
	p.Add(Step{Name: "delete_assignment", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.unassignVmIpDelete(ctx, st) }})
	p.Add(Step{Name: "reconfigure", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.ipOpReconfigure(ctx, st) }})

	return p
}

// BuildUpdateVmIp re-registers ARP/DNS for an existing assignment without
// changing its address (e.g. after a router or zone migration).
func (d *Deps) BuildUpdateVmIp(job dispatcher.Job) *Pipeline {
	st := &createVmState{job: job}
	p := New("UpdateVmIp", d.logger())

	p.Add(validationStep("load", func(ctx context.Context) error { return d.unassignVmIpLoad(ctx, st) }))
	p.Add(Step{Name: "remove_arp", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmRemoveArp(ctx, st) }})
	p.Add(Step{Name: "delete_dns", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.deleteVmDNS(ctx, st) }})
	p.Add(Step{Name: "install_arp", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmInstallArp(ctx, st) }})
	p.Add(Step{Name: "register_dns", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmRegisterDNS(ctx, st) }})
	p.Add(Step{
		Name:   "persist_refs",
		Policy: retry.DefaultPolicy,
		Run:    func(ctx context.Context) error { return d.updateVmIpPersistRefs(ctx, st) },
	})
	p.Add(Step{Name: "reconfigure", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.ipOpReconfigure(ctx, st) }})

	return p
}

func (d *Deps) ipOpLoadVm(ctx context.Context, st *createVmState) error {
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
	return nil
}

func (d *Deps) assignVmIpAllocate(ctx context.Context, st *createVmState) error {
	rng, err := d.Store.GetIPRange(ctx, st.job.IpRangeID)
	if err != nil {
		return err
	}
	mac, err := net.ParseMAC(st.vm.MacAddress)
	if err != nil {
		return lnvpserr.Fatal(err, "vm %d has an unparseable mac %q", st.vm.ID, st.vm.MacAddress)
	}
	ip, err := capacity.AllocateIP(ctx, rng, d.usage(), mac)
	if err != nil {
		return err
	}
	st.assignments = []catalog.VmIpAssignment{{VmID: st.vm.ID, IpRangeID: rng.ID, IP: ip}}
	return nil
}

func (d *Deps) assignVmIpPersist(ctx context.Context, st *createVmState) error {
	a := st.assignments[0]
	created, err := d.Store.CreateVmIPAssignmentByID(ctx, a)
	if err != nil {
		return err
	}
	st.assignments = []catalog.VmIpAssignment{created}
	return nil
}

func (d *Deps) unassignVmIpLoad(ctx context.Context, st *createVmState) error {
	a, err := d.Store.GetVmIPAssignment(ctx, st.job.AssignmentID)
	if err != nil {
		return err
	}
	vm, err := d.Store.GetVm(ctx, a.VmID)
	if err != nil {
		return err
	}
	st.vm = vm
	host, err := d.Store.GetHost(ctx, vm.HostID)
	if err != nil {
		return err
	}
	st.host = host
	st.assignments = []catalog.VmIpAssignment{a}
	return nil
}

func (d *Deps) unassignVmIpDelete(ctx context.Context, st *createVmState) error {
	if len(st.assignments) == 0 || st.assignments[0].ID == 0 {
		return nil
	}
	return d.Store.DeleteVmIPAssignmentByID(ctx, st.assignments[0].ID)
}

func (d *Deps) updateVmIpPersistRefs(ctx context.Context, st *createVmState) error {
	a := st.assignments[0]
	return d.Store.UpdateVmIPAssignmentRefsByID(ctx, a.ID, a.ArpRef, a.DnsARef, a.DnsPTRRef, a.RouterMac)
}

// ipOpReconfigure re-applies the VM's network config on the host so the
// hypervisor-side interface list matches the catalog after an ip change.
func (d *Deps) ipOpReconfigure(ctx context.Context, st *createVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	spec, err := d.buildCreateSpec(ctx, st.vm)
	if err != nil {
		return err
	}
	return drv.ConfigureVm(ctx, st.vm.ID, hostdriver.ConfigureSpec{
		CPU:         spec.CPU,
		MemoryBytes: spec.MemoryBytes,
		Network:     spec.Network,
	})
}
