package hostdriver

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/luthermonson/go-proxmox"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Proxmox drives a single Proxmox VE node through luthermonson/go-proxmox,
// grounded on ionos-cloud-cluster-api-provider-proxmox's
// pkg/proxmox/goproxmox client. Each configured Host maps to one node on
// the cluster, named by Host.Name.
type Proxmox struct {
	client *proxmox.Client
	node   string
}

// NewProxmox builds a Proxmox driver against baseURL (the node's
// "https://host:8006" root) authenticating with an API token, the
// credential shape stored encrypted in Host.APIToken as
// "tokenID=secret".
func NewProxmox(baseURL, node, tokenID, tokenSecret string) (*Proxmox, error) {
	apiURL, err := url.JoinPath(baseURL, "api2", "json")
	if err != nil {
		return nil, lnvpserr.Fatal(err, "building proxmox api url from %q", baseURL)
	}
	client := proxmox.NewClient(apiURL, proxmox.WithAPIToken(tokenID, tokenSecret))
	return &Proxmox{client: client, node: node}, nil
}

func (p *Proxmox) Kind() string { return "proxmox" }

func (p *Proxmox) GenerateMAC(ctx context.Context) (string, error) {
	return randomLocalMAC()
}

func (p *Proxmox) vm(ctx context.Context, vmID int64) (*proxmox.VirtualMachine, error) {
	node, err := p.client.Node(ctx, p.node)
	if err != nil {
		return nil, classifyProxmoxErr(err, "resolving node %q", p.node)
	}
	vm, err := node.VirtualMachine(ctx, int(vmID))
	if err != nil {
		return nil, classifyProxmoxErr(err, "resolving vm %d", vmID)
	}
	return vm, nil
}

// CreateVm clones spec from a per-image template VMID convention
// (image URL encodes the template id) then applies the requested shape.
// Idempotent: a VM already present for spec.VmID is reconfigured in place
// instead of re-cloned.
func (p *Proxmox) CreateVm(ctx context.Context, spec CreateSpec) error {
	if existing, err := p.vm(ctx, spec.VmID); err == nil && existing != nil {
		return p.ConfigureVm(ctx, spec.VmID, ConfigureSpec{CPU: spec.CPU, MemoryBytes: spec.MemoryBytes, Network: spec.Network})
	}

	node, err := p.client.Node(ctx, p.node)
	if err != nil {
		return classifyProxmoxErr(err, "resolving node %q", p.node)
	}

	template, err := node.VirtualMachine(ctx, templateVMID(spec.ImageURL))
	if err != nil {
		return classifyProxmoxErr(err, "resolving template for image %q", spec.ImageURL)
	}

	_, task, err := template.Clone(ctx, &proxmox.VirtualMachineCloneOptions{
		NewID: int(spec.VmID),
		Full:  1,
	})
	if err != nil {
		return classifyProxmoxErr(err, "cloning vm %d", spec.VmID)
	}
	if err := task.Wait(ctx, 2*time.Second, 5*time.Minute); err != nil {
		return classifyProxmoxErr(err, "waiting for clone of vm %d", spec.VmID)
	}

	return p.ConfigureVm(ctx, spec.VmID, ConfigureSpec{CPU: spec.CPU, MemoryBytes: spec.MemoryBytes, Network: spec.Network})
}

// templateVMID resolves the Proxmox template VMID a VmOsImage.URL encodes,
// using the "pve:<vmid>" convention the image catalog stores in
// VmOsImage.URL.
func templateVMID(imageURL string) int {
	var id int
	fmt.Sscanf(imageURL, "pve:%d", &id)
	return id
}

func (p *Proxmox) StartVm(ctx context.Context, vmID int64) error {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.IsRunning() {
		return nil
	}
	task, err := vm.Start(ctx)
	if err != nil {
		return classifyProxmoxErr(err, "starting vm %d", vmID)
	}
	return classifyProxmoxErr(task.Wait(ctx, 2*time.Second, 2*time.Minute), "waiting for start of vm %d", vmID)
}

func (p *Proxmox) StopVm(ctx context.Context, vmID int64) error {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		return err
	}
	if !vm.IsRunning() {
		return nil
	}
	task, err := vm.Stop(ctx)
	if err != nil {
		return classifyProxmoxErr(err, "stopping vm %d", vmID)
	}
	return classifyProxmoxErr(task.Wait(ctx, 2*time.Second, 2*time.Minute), "waiting for stop of vm %d", vmID)
}

func (p *Proxmox) DeleteVm(ctx context.Context, vmID int64) error {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		if lnvpserr.Is(err, lnvpserr.KindNotFound) {
			return nil
		}
		return err
	}
	if vm.IsRunning() {
		if err := p.StopVm(ctx, vmID); err != nil {
			return err
		}
	}
	task, err := vm.Delete(ctx)
	if err != nil {
		return classifyProxmoxErr(err, "deleting vm %d", vmID)
	}
	return classifyProxmoxErr(task.Wait(ctx, 2*time.Second, 2*time.Minute), "waiting for delete of vm %d", vmID)
}

func (p *Proxmox) ConfigureVm(ctx context.Context, vmID int64, spec ConfigureSpec) error {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		return err
	}

	opts := []proxmox.VirtualMachineOption{
		{Name: "cores", Value: spec.CPU},
		{Name: "memory", Value: spec.MemoryBytes / (1024 * 1024)},
	}
	if spec.Network.MacAddress != "" {
		opts = append(opts, proxmox.VirtualMachineOption{
			Name:  "net0",
			Value: fmt.Sprintf("virtio=%s,bridge=vmbr0", spec.Network.MacAddress),
		})
	}

	task, err := vm.Config(ctx, opts...)
	if err != nil {
		return classifyProxmoxErr(err, "configuring vm %d", vmID)
	}
	return classifyProxmoxErr(task.Wait(ctx, 2*time.Second, 2*time.Minute), "waiting for configure of vm %d", vmID)
}

func (p *Proxmox) GetVmState(ctx context.Context, vmID int64) (VmState, error) {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		if lnvpserr.Is(err, lnvpserr.KindNotFound) {
			return StateUnknown, nil
		}
		return StateUnknown, err
	}
	switch vm.Status {
	case "running":
		return StateRunning, nil
	case "stopped":
		return StateStopped, nil
	default:
		return StateUnknown, nil
	}
}

func (p *Proxmox) SampleVm(ctx context.Context, vmID int64) (Sample, error) {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		CPUPercent:   vm.CPU * 100,
		MemoryBytes:  int64(vm.Mem),
		NetInBytes:   int64(vm.NetIn),
		NetOutBytes:  int64(vm.NetOut),
		DiskReadOps:  int64(vm.DiskRead),
		DiskWriteOps: int64(vm.DiskWrite),
		Uptime:       time.Duration(vm.Uptime) * time.Second,
		Timestamp:    time.Now(),
	}, nil
}

func (p *Proxmox) TerminalProxy(ctx context.Context, vmID int64) (io.ReadWriteCloser, error) {
	vm, err := p.vm(ctx, vmID)
	if err != nil {
		return nil, err
	}
	vnc, err := vm.NewVNCWebSocket(ctx)
	if err != nil {
		return nil, classifyProxmoxErr(err, "opening vnc console for vm %d", vmID)
	}
	return vnc, nil
}

// classifyProxmoxErr classifies Proxmox API failures: a 404 maps to
// NotFound, everything else is treated as a transient remote failure the
// Provisioner's retry policy may retry.
func classifyProxmoxErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if isProxmoxNotFound(err) {
		return lnvpserr.Wrap(lnvpserr.KindNotFound, msg, err)
	}
	return lnvpserr.Wrap(lnvpserr.KindTransientRemote, msg, err)
}

func isProxmoxNotFound(err error) bool {
	var apiErr *proxmox.Error
	if ok := asProxmoxError(err, &apiErr); ok {
		return apiErr.StatusCode == 404
	}
	return false
}

func asProxmoxError(err error, target **proxmox.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*proxmox.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
