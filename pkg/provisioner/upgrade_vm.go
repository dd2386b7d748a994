package provisioner

import (
	"context"
	"encoding/json"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/retry"
)

// upgradeConfig is the wire shape of Job.UpgradeConfig for ProcessVmUpgrade:
// the new custom shape requested. A nil CPU/MemoryBytes/DiskSizeBytes field
// leaves that dimension unchanged.
type upgradeConfig struct {
	CPU           *int32          `json:"cpu,omitempty"`
	MemoryBytes   *int64          `json:"memory_bytes,omitempty"`
	DiskSizeBytes *int64          `json:"disk_size_bytes,omitempty"`
	DiskType      *catalog.DiskKind `json:"disk_type,omitempty"`
}

type upgradeVmState struct {
	job        dispatcher.Job
	vm         catalog.Vm
	host       catalog.Host
	disk       catalog.HostDisk
	oldSpec    hostdriver.CreateSpec
	newCPU     int32
	newMem     int64
	newDisk    int64
	newDiskKind catalog.DiskKind
}

// BuildProcessVmUpgrade assembles the ProcessVmUpgrade pipeline: validate the upgrade fits capacity, stop, reconfigure, restart;
// on any failure after stop, restart with the previous configuration.
func (d *Deps) BuildProcessVmUpgrade(job dispatcher.Job) *Pipeline {
	st := &upgradeVmState{job: job}
	p := New("ProcessVmUpgrade", d.logger())

	p.Add(validationStep("validate", func(ctx context.Context) error { return d.upgradeValidate(ctx, st) }))
	p.Add(Step{
		Name:       "stop_vm",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.upgradeStop(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.upgradeRollback(ctx, st) },
	})
	p.Add(Step{
		Name:       "reconfigure",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.upgradeReconfigure(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.upgradeRollback(ctx, st) },
	})
	p.Add(Step{
		Name:       "restart",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.upgradeRestart(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.upgradeRollback(ctx, st) },
	})

	return p
}

// applyUpgradeConfig overlays cfg's requested dimensions onto the VM's
// current spec; a nil field leaves that dimension unchanged.
func applyUpgradeConfig(spec hostdriver.CreateSpec, cfg upgradeConfig) (cpu int32, mem int64, disk int64, kind catalog.DiskKind) {
	cpu, mem, disk, kind = spec.CPU, spec.MemoryBytes, spec.DiskSizeBytes, catalog.DiskKind(spec.DiskKind)
	if cfg.CPU != nil {
		cpu = *cfg.CPU
	}
	if cfg.MemoryBytes != nil {
		mem = *cfg.MemoryBytes
	}
	if cfg.DiskSizeBytes != nil {
		disk = *cfg.DiskSizeBytes
	}
	if cfg.DiskType != nil {
		kind = *cfg.DiskType
	}
	return cpu, mem, disk, kind
}

func (d *Deps) upgradeValidate(ctx context.Context, st *upgradeVmState) error {
	vm, err := d.Store.GetVm(ctx, st.job.VmID)
	if err != nil {
		return err
	}
	st.vm = vm

	var cfg upgradeConfig
	if len(st.job.UpgradeConfig) > 0 {
		if err := json.Unmarshal(st.job.UpgradeConfig, &cfg); err != nil {
			return lnvpserr.Validation("decoding upgrade config: %v", err)
		}
	}

	spec, err := d.buildCreateSpec(ctx, vm)
	if err != nil {
		return err
	}
	st.oldSpec = spec
	st.newCPU, st.newMem, st.newDisk, st.newDiskKind = applyUpgradeConfig(spec, cfg)

	host, err := d.Store.GetHost(ctx, vm.HostID)
	if err != nil {
		return err
	}
	st.host = host

	currentDisk, err := d.Store.GetHostDisk(ctx, vm.DiskID)
	if err != nil {
		return err
	}

	disks, err := d.Store.ListHostDisksEnabled(ctx, host.ID)
	if err != nil {
		return err
	}
	disk, err := capacity.SelectDisk(ctx, disks, d.usage(), capacity.Request{
		CPU: st.newCPU, MemoryBytes: st.newMem,
		DiskSizeBytes: st.newDisk, DiskKind: st.newDiskKind, DiskInterface: currentDisk.Interface,
	})
	if err != nil {
		return err
	}
	st.disk = disk
	return nil
}

func (d *Deps) upgradeStop(ctx context.Context, st *upgradeVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	return drv.StopVm(ctx, st.vm.ID)
}

func (d *Deps) upgradeReconfigure(ctx context.Context, st *upgradeVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	spec := st.oldSpec
	spec.CPU, spec.MemoryBytes, spec.DiskSizeBytes, spec.DiskKind = st.newCPU, st.newMem, st.newDisk, string(st.newDiskKind)
	return drv.ConfigureVm(ctx, st.vm.ID, hostdriver.ConfigureSpec{
		CPU:         spec.CPU,
		MemoryBytes: spec.MemoryBytes,
		Network:     spec.Network,
	})
}

func (d *Deps) upgradeRestart(ctx context.Context, st *upgradeVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	return drv.StartVm(ctx, st.vm.ID)
}

// upgradeRollback restores the previous configuration and restarts the VM;
// used as the compensator for both reconfigure and restart failures.
func (d *Deps) upgradeRollback(ctx context.Context, st *upgradeVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	if err := drv.ConfigureVm(ctx, st.vm.ID, hostdriver.ConfigureSpec{
		CPU:         st.oldSpec.CPU,
		MemoryBytes: st.oldSpec.MemoryBytes,
		Network:     st.oldSpec.Network,
	}); err != nil {
		return err
	}
	return drv.StartVm(ctx, st.vm.ID)
}
