package provisioner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
)

func TestApplyUpgradeConfigLeavesUnsetDimensionsUnchanged(t *testing.T) {
	spec := hostdriver.CreateSpec{CPU: 2, MemoryBytes: 4 << 30, DiskSizeBytes: 80 << 30, DiskKind: string(catalog.DiskKindSSD)}

	cpu, mem, disk, kind := applyUpgradeConfig(spec, upgradeConfig{})
	require.Equal(t, int32(2), cpu)
	require.Equal(t, int64(4<<30), mem)
	require.Equal(t, int64(80<<30), disk)
	require.Equal(t, catalog.DiskKindSSD, kind)
}

func TestApplyUpgradeConfigOverridesRequestedDimensions(t *testing.T) {
	spec := hostdriver.CreateSpec{CPU: 2, MemoryBytes: 4 << 30, DiskSizeBytes: 80 << 30, DiskKind: string(catalog.DiskKindSSD)}
	newCPU := int32(4)
	newMem := int64(8 << 30)
	newDisk := int64(160 << 30)
	newKind := catalog.DiskKindHDD

	cpu, mem, disk, kind := applyUpgradeConfig(spec, upgradeConfig{
		CPU: &newCPU, MemoryBytes: &newMem, DiskSizeBytes: &newDisk, DiskType: &newKind,
	})
	require.Equal(t, newCPU, cpu)
	require.Equal(t, newMem, mem)
	require.Equal(t, newDisk, disk)
	require.Equal(t, newKind, kind)
}
