package capacity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

type fixedUsage map[catalog.ID]Usage

func (f fixedUsage) HostUsage(ctx context.Context, hostID catalog.ID) (Usage, error) {
	return f[hostID], nil
}

type fixedDiskUsage map[catalog.ID]int64

func (f fixedDiskUsage) DiskUsage(ctx context.Context, diskID catalog.ID) (int64, error) {
	return f[diskID], nil
}

func TestSelectHostPicksLargestHeadroomRatio(t *testing.T) {
	hosts := []catalog.Host{
		{ID: 1, CPUTotal: 32, MemoryTotalByte: 64 << 30, LoadCPU: 1, LoadMemory: 1, Enabled: true},
		{ID: 2, CPUTotal: 8, MemoryTotalByte: 16 << 30, LoadCPU: 1, LoadMemory: 1, Enabled: true},
	}
	usage := fixedUsage{
		1: {CPU: 28, Memory: 60 << 30}, // tight
		2: {CPU: 1, Memory: 1 << 30},   // roomy
	}

	got, err := SelectHost(context.Background(), hosts, usage, Request{CPU: 2, MemoryBytes: 1 << 30})
	require.NoError(t, err)
	require.Equal(t, catalog.ID(2), got.ID)
}

func TestSelectHostRejectsInsufficientHeadroom(t *testing.T) {
	hosts := []catalog.Host{{ID: 1, CPUTotal: 4, MemoryTotalByte: 8 << 30, LoadCPU: 1, LoadMemory: 1}}
	usage := fixedUsage{1: {CPU: 3, Memory: 7 << 30}}

	_, err := SelectHost(context.Background(), hosts, usage, Request{CPU: 4, MemoryBytes: 4 << 30})
	require.Error(t, err)
	require.True(t, lnvpserr.Is(err, lnvpserr.KindCapacityExhausted))
}

func TestSelectHostTiesBreakByLowestID(t *testing.T) {
	hosts := []catalog.Host{
		{ID: 5, CPUTotal: 10, MemoryTotalByte: 10 << 30, LoadCPU: 1, LoadMemory: 1},
		{ID: 2, CPUTotal: 10, MemoryTotalByte: 10 << 30, LoadCPU: 1, LoadMemory: 1},
	}
	usage := fixedUsage{5: {}, 2: {}}

	got, err := SelectHost(context.Background(), hosts, usage, Request{CPU: 1, MemoryBytes: 1 << 30})
	require.NoError(t, err)
	require.Equal(t, catalog.ID(2), got.ID)
}

func TestSelectHostAppliesLoadMultiplier(t *testing.T) {
	// Host 1 has no raw headroom, but a 1.5x CPU load multiplier gives it
	// room for the request; host 2 has a 0.5x multiplier that shrinks its
	// usable capacity below what's committed, so it must be rejected.
	hosts := []catalog.Host{
		{ID: 1, CPUTotal: 8, MemoryTotalByte: 16 << 30, LoadCPU: 1.5, LoadMemory: 1},
		{ID: 2, CPUTotal: 8, MemoryTotalByte: 16 << 30, LoadCPU: 0.5, LoadMemory: 1},
	}
	usage := fixedUsage{
		1: {CPU: 8, Memory: 1 << 30},
		2: {CPU: 5, Memory: 1 << 30},
	}

	got, err := SelectHost(context.Background(), hosts, usage, Request{CPU: 2, MemoryBytes: 1 << 30})
	require.NoError(t, err)
	require.Equal(t, catalog.ID(1), got.ID)
}

func TestSelectHostZeroLoadMultiplierRejectsEveryHost(t *testing.T) {
	hosts := []catalog.Host{{ID: 1, CPUTotal: 100, MemoryTotalByte: 100 << 30}}
	usage := fixedUsage{1: {}}

	_, err := SelectHost(context.Background(), hosts, usage, Request{CPU: 1, MemoryBytes: 1 << 30})
	require.Error(t, err)
	require.True(t, lnvpserr.Is(err, lnvpserr.KindCapacityExhausted))
}

func TestSelectDiskFiltersByKindAndInterface(t *testing.T) {
	disks := []catalog.HostDisk{
		{ID: 1, SizeBytes: 100 << 30, Kind: catalog.DiskKindHDD, Interface: catalog.DiskInterfaceSATA},
		{ID: 2, SizeBytes: 500 << 30, Kind: catalog.DiskKindSSD, Interface: catalog.DiskInterfaceSCSI},
	}
	usage := fixedDiskUsage{1: 0, 2: 0}

	got, err := SelectDisk(context.Background(), disks, usage, Request{
		DiskSizeBytes: 10 << 30, DiskKind: catalog.DiskKindSSD, DiskInterface: catalog.DiskInterfaceSCSI,
	})
	require.NoError(t, err)
	require.Equal(t, catalog.ID(2), got.ID)
}

func TestSelectDiskExhausted(t *testing.T) {
	disks := []catalog.HostDisk{{ID: 1, SizeBytes: 10 << 30, Kind: catalog.DiskKindSSD, Interface: catalog.DiskInterfaceSCSI}}
	usage := fixedDiskUsage{1: 9 << 30}

	_, err := SelectDisk(context.Background(), disks, usage, Request{
		DiskSizeBytes: 5 << 30, DiskKind: catalog.DiskKindSSD, DiskInterface: catalog.DiskInterfaceSCSI,
	})
	require.Error(t, err)
	require.True(t, lnvpserr.Is(err, lnvpserr.KindCapacityExhausted))
}
