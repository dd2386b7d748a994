package provisioner

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
)

// storeUsage adapts *catalog.Store to capacity.UsageSource, capacity.DiskUsageSource,
// and capacity.IPChecker, translating the store's query-shaped return types into the
// capacity package's plain structs.
type storeUsage struct {
	store *catalog.Store
}

func (a storeUsage) HostUsage(ctx context.Context, hostID catalog.ID) (capacity.Usage, error) {
	totals, err := a.store.HostUsage(ctx, hostID)
	if err != nil {
		return capacity.Usage{}, err
	}
	return capacity.Usage{CPU: totals.CPU, Memory: totals.MemoryBytes}, nil
}

func (a storeUsage) DiskUsage(ctx context.Context, diskID catalog.ID) (int64, error) {
	return a.store.DiskUsage(ctx, diskID)
}

func (a storeUsage) IsAssigned(ctx context.Context, rangeID catalog.ID, ip string) (bool, error) {
	return a.store.IsAssignedIP(ctx, rangeID, ip)
}
