package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// VmCostPlan

func scanCostPlan(row pgx.Row) (VmCostPlan, error) {
	var c VmCostPlan
	err := row.Scan(&c.ID, &c.Name, &c.Amount, &c.Currency, &c.IntervalAmount, &c.IntervalType)
	return c, err
}

func (s *Store) GetCostPlan(ctx context.Context, id ID) (VmCostPlan, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, amount, currency, interval_amount, interval_type FROM vm_cost_plans WHERE id = $1`, id)
	c, err := scanCostPlan(row)
	if err != nil {
		return VmCostPlan{}, classifyPgErr(err)
	}
	return c, nil
}

// VmTemplate

const vmTemplateColumns = `id, name, enabled, created, expires, cpu, memory_bytes,
	disk_size_bytes, disk_type, disk_interface, cost_plan_id, region_id`

func scanVmTemplate(row pgx.Row) (VmTemplate, error) {
	var t VmTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Enabled, &t.Created, &t.Expires, &t.CPU,
		&t.MemoryBytes, &t.DiskSizeBytes, &t.DiskType, &t.DiskInterface, &t.CostPlanID, &t.RegionID)
	return t, err
}

func (s *Store) GetVmTemplate(ctx context.Context, id ID) (VmTemplate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmTemplateColumns+` FROM vm_templates WHERE id = $1`, id)
	t, err := scanVmTemplate(row)
	if err != nil {
		return VmTemplate{}, classifyPgErr(err)
	}
	return t, nil
}

// ListVmTemplatesAvailable returns templates selectable for a new VM in a
// region: enabled and not expired.
func (s *Store) ListVmTemplatesAvailable(ctx context.Context, regionID ID) ([]VmTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vmTemplateColumns+` FROM vm_templates
		WHERE region_id = $1 AND enabled AND (expires IS NULL OR expires > now())
		ORDER BY id`, regionID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmTemplate
	for rows.Next() {
		t, err := scanVmTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm template row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AdminListVmTemplates(ctx context.Context, p PageParams) ([]VmTemplate, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT `+vmTemplateColumns+` FROM vm_templates ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmTemplate
	for rows.Next() {
		t, err := scanVmTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm template row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// VmCustomPricing / VmCustomTemplate

func scanCustomPricing(row pgx.Row) (VmCustomPricing, error) {
	var p VmCustomPricing
	var diskKinds []string
	var diskMultipliers []float64
	err := row.Scan(&p.ID, &p.RegionID, &p.Name, &p.Currency, &p.CPUPricePerCore,
		&p.MemoryPricePerGiB, &p.DiskPricePerGiB, &diskKinds, &diskMultipliers, &p.Enabled)
	if err != nil {
		return VmCustomPricing{}, err
	}
	p.DiskTypeMultiplier = make(map[DiskKind]float64, len(diskKinds))
	for i, k := range diskKinds {
		p.DiskTypeMultiplier[DiskKind(k)] = diskMultipliers[i]
	}
	return p, nil
}

func (s *Store) GetCustomPricing(ctx context.Context, id ID) (VmCustomPricing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, region_id, name, currency, cpu_price_per_core, memory_price_per_gib,
			disk_price_per_gib, disk_type_kinds, disk_type_multipliers, enabled
		FROM vm_custom_pricing WHERE id = $1`, id)
	p, err := scanCustomPricing(row)
	if err != nil {
		return VmCustomPricing{}, classifyPgErr(err)
	}
	return p, nil
}

func scanCustomTemplate(row pgx.Row) (VmCustomTemplate, error) {
	var t VmCustomTemplate
	err := row.Scan(&t.ID, &t.PricingID, &t.CPU, &t.MemoryBytes, &t.DiskSizeBytes, &t.DiskType, &t.DiskInterface)
	return t, err
}

func (s *Store) GetCustomTemplate(ctx context.Context, id ID) (VmCustomTemplate, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, pricing_id, cpu, memory_bytes, disk_size_bytes, disk_type, disk_interface
		FROM vm_custom_templates WHERE id = $1`, id)
	t, err := scanCustomTemplate(row)
	if err != nil {
		return VmCustomTemplate{}, classifyPgErr(err)
	}
	return t, nil
}

// CreateCustomTemplate persists a user-specified ad-hoc shape, priced once
// at creation time against the given VmCustomPricing.
func (s *Store) CreateCustomTemplate(ctx context.Context, t VmCustomTemplate) (VmCustomTemplate, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO vm_custom_templates (pricing_id, cpu, memory_bytes, disk_size_bytes, disk_type, disk_interface)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, pricing_id, cpu, memory_bytes, disk_size_bytes, disk_type, disk_interface`,
		t.PricingID, t.CPU, t.MemoryBytes, t.DiskSizeBytes, t.DiskType, t.DiskInterface)
	out, err := scanCustomTemplate(row)
	if err != nil {
		return VmCustomTemplate{}, classifyPgErr(err)
	}
	return out, nil
}

// VmOsImage

const vmOsImageColumns = `id, distribution, flavour, version, enabled, release_date, url, default_username`

func scanVmOsImage(row pgx.Row) (VmOsImage, error) {
	var img VmOsImage
	err := row.Scan(&img.ID, &img.Distribution, &img.Flavour, &img.Version,
		&img.Enabled, &img.ReleaseDate, &img.URL, &img.DefaultUsername)
	return img, err
}

func (s *Store) GetVmOsImage(ctx context.Context, id ID) (VmOsImage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmOsImageColumns+` FROM vm_os_images WHERE id = $1`, id)
	img, err := scanVmOsImage(row)
	if err != nil {
		return VmOsImage{}, classifyPgErr(err)
	}
	return img, nil
}

func (s *Store) ListVmOsImagesEnabled(ctx context.Context) ([]VmOsImage, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vmOsImageColumns+` FROM vm_os_images WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmOsImage
	for rows.Next() {
		img, err := scanVmOsImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm os image row: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// SSHKey

func scanSSHKey(row pgx.Row) (SSHKey, error) {
	var k SSHKey
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Pubkey)
	return k, err
}

func (s *Store) GetSSHKey(ctx context.Context, id ID) (SSHKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, name, pubkey FROM ssh_keys WHERE id = $1`, id)
	k, err := scanSSHKey(row)
	if err != nil {
		return SSHKey{}, classifyPgErr(err)
	}
	return k, nil
}

func (s *Store) CreateSSHKey(ctx context.Context, k SSHKey) (SSHKey, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO ssh_keys (user_id, name, pubkey) VALUES ($1, $2, $3)
		RETURNING id, user_id, name, pubkey`, k.UserID, k.Name, k.Pubkey)
	out, err := scanSSHKey(row)
	if err != nil {
		return SSHKey{}, classifyPgErr(err)
	}
	return out, nil
}

// Vm

const vmColumns = `id, host_id, user_id, image_id, template_id, custom_template_id,
	ssh_key_id, created, expires, mac_address, disk_id, ref_code, deleted`

func scanVm(row pgx.Row) (Vm, error) {
	var v Vm
	err := row.Scan(&v.ID, &v.HostID, &v.UserID, &v.ImageID, &v.TemplateID, &v.CustomTemplateID,
		&v.SSHKeyID, &v.Created, &v.Expires, &v.MacAddress, &v.DiskID, &v.RefCode, &v.Deleted)
	return v, err
}

func (s *Store) GetVm(ctx context.Context, id ID) (Vm, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmColumns+` FROM vms WHERE id = $1`, id)
	v, err := scanVm(row)
	if err != nil {
		return Vm{}, classifyPgErr(err)
	}
	return v, nil
}

// CreateVm persists a new Vm row. Called from the Provisioner Pipeline's
// CreateVm operation once a host and IP have been reserved.
func (s *Store) CreateVm(ctx context.Context, q querier, v Vm) (Vm, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO vms (host_id, user_id, image_id, template_id, custom_template_id,
			ssh_key_id, created, expires, mac_address, disk_id, ref_code)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8, $9, $10)
		RETURNING `+vmColumns,
		v.HostID, v.UserID, v.ImageID, v.TemplateID, v.CustomTemplateID,
		v.SSHKeyID, v.Expires, v.MacAddress, v.DiskID, v.RefCode)
	out, err := scanVm(row)
	if err != nil {
		return Vm{}, classifyPgErr(err)
	}
	return out, nil
}

// ExtendVmExpiry moves a Vm's Expires forward by the settled payment's
// TimeValue seconds, the effect of a settled VmPayment.
func (s *Store) ExtendVmExpiry(ctx context.Context, q querier, vmID ID, by time.Duration) (Vm, error) {
	row := q.QueryRow(ctx, `
		UPDATE vms SET expires = expires + $2 WHERE id = $1
		RETURNING `+vmColumns, vmID, by)
	out, err := scanVm(row)
	if err != nil {
		return Vm{}, classifyPgErr(err)
	}
	return out, nil
}

// SoftDeleteVm marks a Vm deleted without removing history.
func (s *Store) SoftDeleteVm(ctx context.Context, q querier, vmID ID) error {
	_, err := q.Exec(ctx, `UPDATE vms SET deleted = true WHERE id = $1`, vmID)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// ListVmsExpired returns every Vm past Expires+grace that is not yet marked
// deleted: the set the Provisioner Pipeline's expiry sweep tears down.
func (s *Store) ListVmsExpired(ctx context.Context, grace time.Duration) ([]Vm, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vmColumns+` FROM vms
		WHERE NOT deleted AND expires + $1 < now()
		ORDER BY id`, grace)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Vm
	for rows.Next() {
		v, err := scanVm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListActiveVms returns every non-deleted Vm, the fan-out source for the
// VM-state reconciler's CheckVms tick.
func (s *Store) ListActiveVms(ctx context.Context) ([]Vm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vmColumns+` FROM vms WHERE NOT deleted ORDER BY id`)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Vm
	for rows.Next() {
		v, err := scanVm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) AdminListVms(ctx context.Context, p PageParams) ([]Vm, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT `+vmColumns+` FROM vms ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Vm
	for rows.Next() {
		v, err := scanVm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VmIpAssignment

const vmIPAssignmentColumns = `id, vm_id, ip_range_id, ip, arp_ref, dns_a_ref, dns_ptr_ref, router_mac, deleted`

func scanVmIPAssignment(row pgx.Row) (VmIpAssignment, error) {
	var a VmIpAssignment
	err := row.Scan(&a.ID, &a.VmID, &a.IpRangeID, &a.IP, &a.ArpRef, &a.DnsARef, &a.DnsPTRRef, &a.RouterMac, &a.Deleted)
	return a, err
}

func (s *Store) ListVmIPAssignments(ctx context.Context, vmID ID) ([]VmIpAssignment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vmIPAssignmentColumns+` FROM vm_ip_assignments WHERE vm_id = $1 AND NOT deleted ORDER BY id`, vmID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmIpAssignment
	for rows.Next() {
		a, err := scanVmIPAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm ip assignment row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetVmIPAssignment fetches a single assignment by ID.
func (s *Store) GetVmIPAssignment(ctx context.Context, id ID) (VmIpAssignment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmIPAssignmentColumns+` FROM vm_ip_assignments WHERE id = $1 AND NOT deleted`, id)
	out, err := scanVmIPAssignment(row)
	if err != nil {
		return VmIpAssignment{}, classifyPgErr(err)
	}
	return out, nil
}

// CreateVmIPAssignment binds an IP to a VM. Call within the same
// transaction as the FindFreeIP check that selected ip, to hold the row
// lock across both statements.
func (s *Store) CreateVmIPAssignment(ctx context.Context, q querier, a VmIpAssignment) (VmIpAssignment, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO vm_ip_assignments (vm_id, ip_range_id, ip, arp_ref, dns_a_ref, dns_ptr_ref, router_mac)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+vmIPAssignmentColumns,
		a.VmID, a.IpRangeID, a.IP, a.ArpRef, a.DnsARef, a.DnsPTRRef, a.RouterMac)
	out, err := scanVmIPAssignment(row)
	if err != nil {
		return VmIpAssignment{}, classifyPgErr(err)
	}
	return out, nil
}

// UpdateVmIPAssignmentRefs records the opaque references minted by the
// Router and DNS drivers once their registration calls succeed.
func (s *Store) UpdateVmIPAssignmentRefs(ctx context.Context, q querier, id ID, arpRef, dnsARef, dnsPTRRef, routerMac *string) error {
	_, err := q.Exec(ctx, `
		UPDATE vm_ip_assignments SET arp_ref = $2, dns_a_ref = $3, dns_ptr_ref = $4, router_mac = $5
		WHERE id = $1`, id, arpRef, dnsARef, dnsPTRRef, routerMac)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// DeleteVmIPAssignment soft-deletes an assignment, freeing its address for
// reallocation.
func (s *Store) DeleteVmIPAssignment(ctx context.Context, q querier, id ID) error {
	_, err := q.Exec(ctx, `UPDATE vm_ip_assignments SET deleted = true WHERE id = $1`, id)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}
