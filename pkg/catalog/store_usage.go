package catalog

import "context"

// HostUsage sums committed resources across every non-deleted VM placed on
// hostID, the live figure the Capacity & Pricing Engine recomputes before
// every host-selection decision.
func (s *Store) HostUsage(ctx context.Context, hostID ID) (HostUsageTotals, error) {
	const q = `
SELECT
    COALESCE(SUM(COALESCE(t.cpu, ct.cpu, 0)), 0),
    COALESCE(SUM(COALESCE(t.memory_bytes, ct.memory_bytes, 0)), 0)
FROM vms v
LEFT JOIN vm_templates t ON t.id = v.template_id
LEFT JOIN vm_custom_templates ct ON ct.id = v.custom_template_id
WHERE v.host_id = $1 AND NOT v.deleted`

	var out HostUsageTotals
	err := s.pool.QueryRow(ctx, q, hostID).Scan(&out.CPU, &out.MemoryBytes)
	if err != nil {
		return HostUsageTotals{}, classifyPgErr(err)
	}
	return out, nil
}

// HostUsageTotals is the aggregate committed CPU/memory for one host.
type HostUsageTotals struct {
	CPU         int32
	MemoryBytes int64
}

// DiskUsage sums committed disk bytes across every non-deleted VM placed on
// diskID.
func (s *Store) DiskUsage(ctx context.Context, diskID ID) (int64, error) {
	const q = `
SELECT COALESCE(SUM(COALESCE(t.disk_size_bytes, ct.disk_size_bytes, 0)), 0)
FROM vms v
LEFT JOIN vm_templates t ON t.id = v.template_id
LEFT JOIN vm_custom_templates ct ON ct.id = v.custom_template_id
WHERE v.disk_id = $1 AND NOT v.deleted`

	var total int64
	if err := s.pool.QueryRow(ctx, q, diskID).Scan(&total); err != nil {
		return 0, classifyPgErr(err)
	}
	return total, nil
}

// IsAssignedIP reports whether ip is already bound to a non-deleted
// assignment in rangeID, satisfying capacity.IPChecker.
func (s *Store) IsAssignedIP(ctx context.Context, rangeID ID, ip string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM vm_ip_assignments WHERE ip_range_id = $1 AND ip = $2 AND NOT deleted)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, rangeID, ip).Scan(&exists); err != nil {
		return false, classifyPgErr(err)
	}
	return exists, nil
}
