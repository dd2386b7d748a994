// Package catalog implements the Catalog Store: the durable
// record of every entity in the data model, plus the composite queries the
// Provisioner and Payment State Machine need. Store does hand-rolled pgx
// scans over raw SQL, no ORM, against a single schema: there is no
// per-tenant concept in this data model.
package catalog

import "time"

// ID is the store-issued 64-bit monotonic identifier used by every entity.
type ID = int64

// HostKind enumerates supported hypervisor backends.
type HostKind string

const (
	HostKindProxmox HostKind = "proxmox"
	HostKindMock    HostKind = "mock"
)

// DiskKind / DiskInterface enumerate HostDisk shape.
type DiskKind string

const (
	DiskKindHDD DiskKind = "hdd"
	DiskKindSSD DiskKind = "ssd"
)

type DiskInterface string

const (
	DiskInterfaceSATA DiskInterface = "sata"
	DiskInterfaceSCSI DiskInterface = "scsi"
	DiskInterfacePCIe DiskInterface = "pcie"
)

// IntervalType enumerates VmCostPlan billing cadence.
type IntervalType string

const (
	IntervalDay   IntervalType = "day"
	IntervalMonth IntervalType = "month"
	IntervalYear  IntervalType = "year"
)

// AllocationMode enumerates IpRange address-assignment strategy.
type AllocationMode string

const (
	AllocationSequential AllocationMode = "sequential"
	AllocationRandom     AllocationMode = "random"
	AllocationSLAACEUI64 AllocationMode = "slaac_eui64"
)

// RouterKind enumerates Router Driver backends.
type RouterKind string

const (
	RouterKindMikrotik          RouterKind = "mikrotik"
	RouterKindOvhAdditionalIp   RouterKind = "ovh_additional_ip"
	RouterKindMock              RouterKind = "mock"
)

// PaymentMethod enumerates Payment Rail Driver backends.
type PaymentMethod string

const (
	PaymentMethodLightning PaymentMethod = "lightning"
	PaymentMethodRevolut   PaymentMethod = "revolut"
	PaymentMethodBitvora   PaymentMethod = "bitvora"
	PaymentMethodPayPal    PaymentMethod = "paypal"
)

// OsDistribution enumerates VmOsImage.Distribution.
type OsDistribution string

const (
	DistributionDebian   OsDistribution = "debian"
	DistributionUbuntu   OsDistribution = "ubuntu"
	DistributionCentOS   OsDistribution = "centos"
	DistributionAlpine   OsDistribution = "alpine"
	DistributionFedora   OsDistribution = "fedora"
)

// PermissionResource / PermissionAction enumerate the RBAC closed
// enumerations.
type PermissionResource string

const (
	ResourceUsers               PermissionResource = "users"
	ResourceHosts               PermissionResource = "hosts"
	ResourceVmTemplate          PermissionResource = "vm_template"
	ResourceVmOsImage           PermissionResource = "vm_os_image"
	ResourceIpSpace             PermissionResource = "ip_space"
	ResourceCompany             PermissionResource = "company"
	ResourceRouter              PermissionResource = "router"
	ResourceAccessPolicy        PermissionResource = "access_policy"
	ResourcePaymentMethodConfig PermissionResource = "payment_method_config"
)

type PermissionAction string

const (
	ActionView   PermissionAction = "view"
	ActionCreate PermissionAction = "create"
	ActionUpdate PermissionAction = "update"
	ActionDelete PermissionAction = "delete"
)

// Permission is a (resource, action) pair.
type Permission struct {
	Resource PermissionResource
	Action   PermissionAction
}

// User is created by first-contact upsert keyed on Pubkey; immortal.
type User struct {
	ID             ID
	Pubkey         [32]byte
	Created        time.Time
	Email          string // encrypted at rest via pkg/encryption
	ContactNIP17   bool
	ContactEmail   bool
	CountryCode    string
	BillingName    string
	BillingAddr1   string
	BillingAddr2   string
	BillingCity    string
	BillingState   string
	BillingPostal  string
	BillingTaxID   string
}

// Role is a named, owner-assignable set of Permissions.
type Role struct {
	ID          ID
	Name        string
	Permissions []Permission
}

// RoleAssignment links a user to a role with an audit trail of who assigned
// it.
type RoleAssignment struct {
	ID         ID
	UserID     ID
	RoleID     ID
	AssignedBy ID
	AssignedAt time.Time
}

// Company is the billing entity a Region belongs to.
type Company struct {
	ID          ID
	Name        string
	CountryCode string
}

// Region groups Hosts; may be soft-disabled.
type Region struct {
	ID        ID
	CompanyID ID
	Name      string
	Enabled   bool
}

// Host is one hypervisor the Provisioner can place VMs on.
type Host struct {
	ID              ID
	RegionID        ID
	Kind            HostKind
	Name            string
	IP              string
	CPUTotal        int32
	MemoryTotalByte int64
	Enabled         bool
	APIToken        string // encrypted at rest
	LoadCPU         float64
	LoadMemory      float64
	LoadDisk        float64
}

// HostDisk is one placement target for VM disks on a Host.
type HostDisk struct {
	ID        ID
	HostID    ID
	Name      string
	SizeBytes int64
	Kind      DiskKind
	Interface DiskInterface
	Enabled   bool
}

// VmCostPlan defines a template's recurring fee.
type VmCostPlan struct {
	ID             ID
	Name           string
	Amount         float64
	Currency       string
	IntervalAmount int32
	IntervalType   IntervalType
}

// VmTemplate is a fixed, admin-defined VM shape.
type VmTemplate struct {
	ID            ID
	Name          string
	Enabled       bool
	Created       time.Time
	Expires       *time.Time
	CPU           int32
	MemoryBytes   int64
	DiskSizeBytes int64
	DiskType      DiskKind
	DiskInterface DiskInterface
	CostPlanID    ID
	RegionID      ID
}

// IsAvailable reports whether the template may be selected for a new VM
// (enabled, not expired). Expired templates remain resolvable for existing
// VMs.
func (t VmTemplate) IsAvailable(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	return t.Expires == nil || t.Expires.After(now)
}

// VmCustomPricing parameterizes per-unit pricing for ad-hoc templates.
type VmCustomPricing struct {
	ID                  ID
	RegionID            ID
	Name                string
	Currency            string
	CPUPricePerCore     float64
	MemoryPricePerGiB   float64
	DiskPricePerGiB     float64
	DiskTypeMultiplier  map[DiskKind]float64
	Enabled             bool
}

// VmCustomTemplate is a user-specified ad-hoc shape priced via
// VmCustomPricing at creation time. A VM bound to a VmCustomTemplate is
// never invalidated by template aging — see DESIGN.md for the decision
// record.
type VmCustomTemplate struct {
	ID              ID
	PricingID       ID
	CPU             int32
	MemoryBytes     int64
	DiskSizeBytes   int64
	DiskType        DiskKind
	DiskInterface   DiskInterface
}

// VmOsImage is an installable OS image.
type VmOsImage struct {
	ID              ID
	Distribution    OsDistribution
	Flavour         string
	Version         string
	Enabled         bool
	ReleaseDate     time.Time
	URL             string
	DefaultUsername string
}

// AccessPolicy binds an IpRange to a router + interface for ARP management.
type AccessPolicy struct {
	ID        ID
	Name      string
	Kind      string
	RouterID  *ID
	Interface *string
}

// RequiresARP reports whether this policy's Kind implies static ARP
// maintenance on a router. Unlisted kinds are treated as "no router
// interaction required".
func (p AccessPolicy) RequiresARP() bool {
	switch p.Kind {
	case "arp-static", "ovh-virtual-mac":
		return true
	default:
		return false
	}
}

// IpRange is a CIDR block carved into per-VM assignments.
type IpRange struct {
	ID             ID
	RegionID       ID
	CIDR           string
	Gateway        string
	AllocationMode AllocationMode
	ReverseZone    *string
	ForwardZone    *string
	AccessPolicyID *ID
	Enabled        bool
}

// Router is a network device the Router Driver manages.
type Router struct {
	ID      ID
	Name    string
	Kind    RouterKind
	URL     string
	Token   string // encrypted at rest
	Enabled bool
}

// Vm is a provisioned virtual machine. It is DEAD when Deleted is true or
// past Expires+grace.
type Vm struct {
	ID               ID
	HostID           ID
	UserID           ID
	ImageID          ID
	TemplateID       *ID
	CustomTemplateID *ID
	SSHKeyID         ID
	Created          time.Time
	Expires          time.Time
	MacAddress       string
	DiskID           ID
	RefCode          *string
	Deleted          bool
}

// IsDead reports whether the VM should be treated as torn down: explicitly
// deleted, or past its expiry plus a grace window.
func (v Vm) IsDead(now time.Time, grace time.Duration) bool {
	return v.Deleted || now.After(v.Expires.Add(grace))
}

// VmIpAssignment binds one IP address from an IpRange to a VM.
type VmIpAssignment struct {
	ID         ID
	VmID       ID
	IpRangeID  ID
	IP         string
	ArpRef     *string
	DnsARef    *string
	DnsPTRRef  *string
	RouterMac  *string // MAC minted by the router driver (e.g. OVH virtual MAC), distinct from Vm.MacAddress
	Deleted    bool
}

// VmPayment is one invoice issued against a VM.
type VmPayment struct {
	ID             ID
	VmID           ID
	Created        time.Time
	Expires        time.Time
	Amount         int64 // smallest unit integer
	Currency       string
	Rate           float64 // BTC -> Currency at issue time; > 0 unless Currency == BTC
	Method         PaymentMethod
	ExternalID     string
	ExternalData   []byte // opaque
	IsPaid         bool
	TimeValue      int64 // seconds of life credited on settlement
	Tax            int64
	UpgradeConfig  []byte // opaque, present for ProcessVmUpgrade-originated payments
}

// SSHKey is a user's public key, attached to a Vm at creation.
type SSHKey struct {
	ID     ID
	UserID ID
	Name   string
	Pubkey string
}

// Hydrated is the eager-loaded read model for a Vm. Hydration is an
// explicit operation (HydrateVm), never an implicit graph traversal.
type Hydrated struct {
	Vm            Vm
	Image         VmOsImage
	Template      *VmTemplate
	CustomTemplate *VmCustomTemplate
	SSHKey        SSHKey
	IpAssignments []VmIpAssignment
}
