package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Company

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.CountryCode)
	return c, err
}

func (s *Store) GetCompany(ctx context.Context, id ID) (Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, country_code FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if err != nil {
		return Company{}, classifyPgErr(err)
	}
	return c, nil
}

func (s *Store) AdminListCompanies(ctx context.Context, p PageParams) ([]Company, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT id, name, country_code FROM companies ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning company row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCompany(ctx context.Context, c Company) (Company, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO companies (id, name, country_code) VALUES (NULLIF($1, 0), $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, country_code = EXCLUDED.country_code
		RETURNING id, name, country_code`, c.ID, c.Name, c.CountryCode)
	out, err := scanCompany(row)
	if err != nil {
		return Company{}, classifyPgErr(err)
	}
	return out, nil
}

// Region

func scanRegion(row pgx.Row) (Region, error) {
	var r Region
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled)
	return r, err
}

func (s *Store) GetRegion(ctx context.Context, id ID) (Region, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, company_id, name, enabled FROM regions WHERE id = $1`, id)
	r, err := scanRegion(row)
	if err != nil {
		return Region{}, classifyPgErr(err)
	}
	return r, nil
}

func (s *Store) ListRegionsEnabled(ctx context.Context) ([]Region, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, company_id, name, enabled FROM regions WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning region row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AdminListRegions(ctx context.Context, p PageParams) ([]Region, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT id, company_id, name, enabled FROM regions ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning region row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Host / HostDisk

func scanHost(row pgx.Row) (Host, error) {
	var h Host
	err := row.Scan(&h.ID, &h.RegionID, &h.Kind, &h.Name, &h.IP, &h.CPUTotal,
		&h.MemoryTotalByte, &h.Enabled, &h.APIToken, &h.LoadCPU, &h.LoadMemory, &h.LoadDisk)
	return h, err
}

const hostColumns = `id, region_id, kind, name, ip, cpu_total, memory_total_byte,
	enabled, api_token, load_cpu, load_memory, load_disk`

func (s *Store) GetHost(ctx context.Context, id ID) (Host, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = $1`, id)
	h, err := scanHost(row)
	if err != nil {
		return Host{}, classifyPgErr(err)
	}
	return s.decryptHost(h)
}

// ListHostsEnabled returns every enabled host in a region, the candidate
// pool the Capacity & Pricing Engine selects from.
func (s *Store) ListHostsEnabled(ctx context.Context, regionID ID) ([]Host, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+hostColumns+` FROM hosts WHERE region_id = $1 AND enabled ORDER BY id`, regionID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		dh, err := s.decryptHost(h)
		if err != nil {
			return nil, err
		}
		out = append(out, dh)
	}
	return out, rows.Err()
}

func (s *Store) AdminListHosts(ctx context.Context, p PageParams) ([]Host, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		dh, err := s.decryptHost(h)
		if err != nil {
			return nil, err
		}
		out = append(out, dh)
	}
	return out, rows.Err()
}

// UpdateHostLoad sets a host's load_cpu/load_memory/load_disk capacity
// multipliers, which the Capacity & Pricing Engine's best-fit selection
// multiplies into the host's raw capacity.
func (s *Store) UpdateHostLoad(ctx context.Context, hostID ID, cpu, memory, disk float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE hosts SET load_cpu = $2, load_memory = $3, load_disk = $4 WHERE id = $1`,
		hostID, cpu, memory, disk)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

func scanHostDisk(row pgx.Row) (HostDisk, error) {
	var d HostDisk
	err := row.Scan(&d.ID, &d.HostID, &d.Name, &d.SizeBytes, &d.Kind, &d.Interface, &d.Enabled)
	return d, err
}

// GetHostDisk fetches a single disk by ID, used by the Provisioner to carry
// a VM's current disk placement (kind, interface) forward across an upgrade.
func (s *Store) GetHostDisk(ctx context.Context, id ID) (HostDisk, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, host_id, name, size_bytes, kind, interface, enabled
		FROM host_disks WHERE id = $1`, id)
	d, err := scanHostDisk(row)
	if err != nil {
		return HostDisk{}, classifyPgErr(err)
	}
	return d, nil
}

func (s *Store) ListHostDisksEnabled(ctx context.Context, hostID ID) ([]HostDisk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, host_id, name, size_bytes, kind, interface, enabled
		FROM host_disks WHERE host_id = $1 AND enabled ORDER BY id`, hostID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []HostDisk
	for rows.Next() {
		d, err := scanHostDisk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host disk row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Router

func scanRouter(row pgx.Row) (Router, error) {
	var r Router
	err := row.Scan(&r.ID, &r.Name, &r.Kind, &r.URL, &r.Token, &r.Enabled)
	return r, err
}

func (s *Store) GetRouter(ctx context.Context, id ID) (Router, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, kind, url, token, enabled FROM routers WHERE id = $1`, id)
	r, err := scanRouter(row)
	if err != nil {
		return Router{}, classifyPgErr(err)
	}
	return s.decryptRouter(r)
}

func (s *Store) AdminListRouters(ctx context.Context, p PageParams) ([]Router, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT id, name, kind, url, token, enabled FROM routers ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning router row: %w", err)
		}
		dr, err := s.decryptRouter(r)
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	return out, rows.Err()
}

// AccessPolicy

func scanAccessPolicy(row pgx.Row) (AccessPolicy, error) {
	var p AccessPolicy
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.RouterID, &p.Interface)
	return p, err
}

func (s *Store) GetAccessPolicy(ctx context.Context, id ID) (AccessPolicy, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, kind, router_id, interface FROM access_policies WHERE id = $1`, id)
	p, err := scanAccessPolicy(row)
	if err != nil {
		return AccessPolicy{}, classifyPgErr(err)
	}
	return p, nil
}

// IpRange

func scanIPRange(row pgx.Row) (IpRange, error) {
	var r IpRange
	err := row.Scan(&r.ID, &r.RegionID, &r.CIDR, &r.Gateway, &r.AllocationMode,
		&r.ReverseZone, &r.ForwardZone, &r.AccessPolicyID, &r.Enabled)
	return r, err
}

const ipRangeColumns = `id, region_id, cidr, gateway, allocation_mode, reverse_zone, forward_zone, access_policy_id, enabled`

func (s *Store) GetIPRange(ctx context.Context, id ID) (IpRange, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ipRangeColumns+` FROM ip_ranges WHERE id = $1`, id)
	r, err := scanIPRange(row)
	if err != nil {
		return IpRange{}, classifyPgErr(err)
	}
	return r, nil
}

func (s *Store) ListIPRangesEnabled(ctx context.Context, regionID ID) ([]IpRange, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ipRangeColumns+` FROM ip_ranges WHERE region_id = $1 AND enabled ORDER BY id`, regionID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []IpRange
	for rows.Next() {
		r, err := scanIPRange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ip range row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindFreeIP reports whether candidate has no live assignment in rangeID.
// An existing assignment row is read with SELECT ... FOR UPDATE, so with a
// querier from WithTx that row stays locked until the caller's transaction
// ends; a free address has no row to lock.
func (s *Store) FindFreeIP(ctx context.Context, q querier, rangeID ID, candidate string) (bool, error) {
	var taken bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM vm_ip_assignments
			WHERE ip_range_id = $1 AND ip = $2 AND NOT deleted
			FOR UPDATE
		)`, rangeID, candidate).Scan(&taken)
	if err != nil {
		return false, classifyPgErr(err)
	}
	return !taken, nil
}
