package provisioner

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/retry"
	"github.com/lnvps/lnvpsd/pkg/routerdriver"
)

// createVmState is the mutable context threaded through CreateVm's steps;
// each step reads what earlier steps populated and writes what later steps
// and the rollback compensators need.
type createVmState struct {
	job dispatcher.Job

	image    catalog.VmOsImage
	template *catalog.VmTemplate
	custom   *catalog.VmCustomTemplate
	sshKey   catalog.SSHKey

	region catalog.Region
	host   catalog.Host
	disk   catalog.HostDisk
	mac    net.HardwareAddr
	macStr string

	assignments []catalog.VmIpAssignment
	dnsFwdRefs  []string
	dnsPtrRefs  []string

	vm catalog.Vm
}

// BuildCreateVm assembles the CreateVm pipeline's 9-step canonical flow.
func (d *Deps) BuildCreateVm(job dispatcher.Job) *Pipeline {
	st := &createVmState{job: job}
	p := New("CreateVm", d.logger())

	p.Add(validationStep("validate", func(ctx context.Context) error { return d.createVmValidate(ctx, st) }))
	p.Add(Step{Name: "select_host", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmSelectHost(ctx, st) }})
	p.Add(Step{Name: "select_disk", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.createVmSelectDisk(ctx, st) }})
	p.Add(validationStep("generate_mac", func(ctx context.Context) error { return d.createVmGenerateMac(ctx, st) }))
	p.Add(Step{
		Name:       "allocate_ips",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.createVmAllocateIPs(ctx, st) },
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
		Name:       "persist_vm",
		Policy:     retry.DefaultPolicy,
		Run:        func(ctx context.Context) error { return d.createVmPersist(ctx, st) },
		Compensate: func(ctx context.Context) error { return d.createVmSoftDelete(ctx, st) },
	})
	p.Add(validationStep("create_initial_payment", func(ctx context.Context) error { return d.createVmInitialPayment(ctx, st) }))

	return p
}

func (d *Deps) createVmValidate(ctx context.Context, st *createVmState) error {
	job := st.job
	if job.TemplateID != 0 {
		t, err := d.Store.GetVmTemplate(ctx, job.TemplateID)
		if err != nil {
			return err
		}
		if !t.IsAvailable(time.Now()) && job.AdminUserID == nil {
			return lnvpserr.Validation("template %d is not available for new VMs", job.TemplateID)
		}
		st.template = &t
		st.region = catalog.Region{ID: t.RegionID}
	} else if job.CustomTemplateID != 0 {
		ct, err := d.Store.GetCustomTemplate(ctx, job.CustomTemplateID)
		if err != nil {
			return err
		}
		st.custom = &ct
		pricing, err := d.Store.GetCustomPricing(ctx, ct.PricingID)
		if err != nil {
			return err
		}
		st.region = catalog.Region{ID: pricing.RegionID}
	} else {
		return lnvpserr.Validation("create_vm job specifies neither template_id nor custom_template_id")
	}

	img, err := d.Store.GetVmOsImage(ctx, job.ImageID)
	if err != nil {
		return err
	}
	if !img.Enabled {
		return lnvpserr.Validation("image %d is not enabled", job.ImageID)
	}
	st.image = img

	key, err := d.Store.GetSSHKey(ctx, job.SSHKeyID)
	if err != nil {
		return err
	}
	st.sshKey = key

	if job.UserID == 0 {
		return lnvpserr.Validation("create_vm job missing user_id")
	}
	return nil
}

func (d *Deps) requestShape(st *createVmState) capacity.Request {
	if st.template != nil {
		return capacity.Request{
			CPU: st.template.CPU, MemoryBytes: st.template.MemoryBytes,
			DiskSizeBytes: st.template.DiskSizeBytes, DiskKind: st.template.DiskType, DiskInterface: st.template.DiskInterface,
		}
	}
	return capacity.Request{
		CPU: st.custom.CPU, MemoryBytes: st.custom.MemoryBytes,
		DiskSizeBytes: st.custom.DiskSizeBytes, DiskKind: st.custom.DiskType, DiskInterface: st.custom.DiskInterface,
	}
}

func (d *Deps) createVmSelectHost(ctx context.Context, st *createVmState) error {
	hosts, err := d.Store.ListHostsEnabled(ctx, st.region.ID)
	if err != nil {
		return err
	}
	host, err := capacity.SelectHost(ctx, hosts, d.usage(), d.requestShape(st))
	if err != nil {
		return err
	}
	st.host = host
	return nil
}

func (d *Deps) createVmSelectDisk(ctx context.Context, st *createVmState) error {
	disks, err := d.Store.ListHostDisksEnabled(ctx, st.host.ID)
	if err != nil {
		return err
	}
	disk, err := capacity.SelectDisk(ctx, disks, d.usage(), d.requestShape(st))
	if err != nil {
		return err
	}
	st.disk = disk
	return nil
}

func (d *Deps) createVmGenerateMac(ctx context.Context, st *createVmState) error {
	drv, err := d.resolveHost(st.host.Kind)
	if err != nil {
		return err
	}
	macStr, err := drv.GenerateMAC(ctx)
	if err != nil {
		return err
	}
	mac, err := net.ParseMAC(macStr)
	if err != nil {
		return lnvpserr.Fatal(err, "host driver %s returned an unparseable mac %q", st.host.Kind, macStr)
	}
	st.mac = mac
	st.macStr = macStr
	return nil
}

func (d *Deps) createVmAllocateIPs(ctx context.Context, st *createVmState) error {
	ranges, err := d.Store.ListIPRangesEnabled(ctx, st.region.ID)
	if err != nil {
		return err
	}

	for _, rng := range ranges {
		ip, err := capacity.AllocateIP(ctx, rng, d.usage(), st.mac)
		if err != nil {
			return err
		}
		st.assignments = append(st.assignments, catalog.VmIpAssignment{
			IpRangeID: rng.ID,
			IP:        ip,
		})
	}
	if len(st.assignments) == 0 {
		return lnvpserr.Validation("region %d has no enabled ip ranges", st.region.ID)
	}
	return nil
}

// createVmReleaseIPs is the allocate_ips compensator. IP allocation itself
// writes nothing durable until persist_vm (step 8); the candidate
// addresses live only in st.assignments until then, so there is nothing
// external to release — this exists to document that explicitly rather
// than leave allocate_ips without a listed compensator.
func (d *Deps) createVmReleaseIPs(ctx context.Context, st *createVmState) error {
	st.assignments = nil
	return nil
}

func (d *Deps) createVmRemoveArp(ctx context.Context, st *createVmState) error {
	for i := len(st.assignments) - 1; i >= 0; i-- {
		a := st.assignments[i]
		if a.ArpRef == nil {
			continue
		}
		rng, err := d.Store.GetIPRange(ctx, a.IpRangeID)
		if err != nil || rng.AccessPolicyID == nil {
			continue
		}
		policy, err := d.Store.GetAccessPolicy(ctx, *rng.AccessPolicyID)
		if err != nil || policy.RouterID == nil {
			continue
		}
		router, err := d.Store.GetRouter(ctx, *policy.RouterID)
		if err != nil {
			continue
		}
		drv, err := d.resolveRouter(router.Kind)
		if err != nil {
			continue
		}
		_ = drv.Remove(ctx, *a.ArpRef)
	}
	return nil
}

func (d *Deps) createVmInstallArp(ctx context.Context, st *createVmState) error {
	for i, a := range st.assignments {
		rng, err := d.Store.GetIPRange(ctx, a.IpRangeID)
		if err != nil {
			return err
		}
		if rng.AccessPolicyID == nil {
			continue
		}
		policy, err := d.Store.GetAccessPolicy(ctx, *rng.AccessPolicyID)
		if err != nil {
			return err
		}
		if !policy.RequiresARP() || policy.RouterID == nil {
			continue
		}
		router, err := d.Store.GetRouter(ctx, *policy.RouterID)
		if err != nil {
			return err
		}
		drv, err := d.resolveRouter(router.Kind)
		if err != nil {
			return err
		}

		iface := ""
		if policy.Interface != nil {
			iface = *policy.Interface
		}
		entry, err := drv.Add(ctx, routerdriver.ArpEntry{
			IP: a.IP, Mac: st.macStr, Interface: iface, Comment: policy.Name,
		})
		if err != nil {
			return err
		}
		st.assignments[i].ArpRef = &entry.ID
	}
	return nil
}

func (d *Deps) createVmDeleteDNS(ctx context.Context, st *createVmState) error {
	if d.DNS == nil {
		return nil
	}
	for i := len(st.dnsFwdRefs) - 1; i >= 0; i-- {
		if st.dnsFwdRefs[i] != "" {
			_ = d.DNS.DeleteForward(ctx, st.dnsFwdRefs[i])
		}
		if st.dnsPtrRefs[i] != "" {
			_ = d.DNS.DeleteReverse(ctx, st.dnsPtrRefs[i])
		}
	}
	return nil
}

func (d *Deps) createVmRegisterDNS(ctx context.Context, st *createVmState) error {
	if d.DNS == nil {
		return nil
	}
	st.dnsFwdRefs = make([]string, len(st.assignments))
	st.dnsPtrRefs = make([]string, len(st.assignments))

	name := fmt.Sprintf("vm-%d", st.job.VmID)
	for i, a := range st.assignments {
		rng, err := d.Store.GetIPRange(ctx, a.IpRangeID)
		if err != nil {
			return err
		}
		ip := net.ParseIP(a.IP)
		if rng.ForwardZone != nil {
			ref, err := d.DNS.AddForward(ctx, name+"."+*rng.ForwardZone, ip)
			if err != nil {
				return err
			}
			st.dnsFwdRefs[i] = ref
			st.assignments[i].DnsARef = &ref
		}
		if rng.ReverseZone != nil {
			ref, err := d.DNS.AddReverse(ctx, reverseName(ip)+"."+*rng.ReverseZone, name)
			if err != nil {
				return err
			}
			st.dnsPtrRefs[i] = ref
			st.assignments[i].DnsPTRRef = &ref
		}
	}
	return nil
}

func (d *Deps) createVmSoftDelete(ctx context.Context, st *createVmState) error {
	if st.vm.ID == 0 {
		return nil
	}
	return d.Store.SoftDeleteVmByID(ctx, st.vm.ID)
}

func (d *Deps) createVmPersist(ctx context.Context, st *createVmState) error {
	vm := catalog.Vm{
		HostID:     st.host.ID,
		UserID:     st.job.UserID,
		ImageID:    st.image.ID,
		SSHKeyID:   st.sshKey.ID,
		MacAddress: st.macStr,
		DiskID:     st.disk.ID,
		RefCode:    st.job.RefCode,
	}
	if st.template != nil {
		vm.TemplateID = &st.template.ID
	}
	if st.custom != nil {
		vm.CustomTemplateID = &st.custom.ID
	}

	created, assignments, err := d.Store.CreateVmWithAssignments(ctx, vm, st.assignments)
	if err != nil {
		return err
	}
	st.vm = created
	st.assignments = assignments
	return nil
}

func (d *Deps) createVmInitialPayment(ctx context.Context, st *createVmState) error {
	if st.job.AdminUserID != nil {
		return nil // admin-created VMs skip the purchase invoice
	}
	if d.Payments == nil {
		return lnvpserr.Fatal(nil, "no payment initiator configured")
	}

	method := st.job.PaymentMethod
	if method == "" {
		return lnvpserr.Validation("create_vm job missing payment_method for a non-admin purchase")
	}
	_, err := d.Payments.CreateInitialInvoice(ctx, st.vm, method)
	return err
}

func reverseName(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d", v4[3], v4[2], v4[1], v4[0])
	}
	return ip.String()
}
