package hostdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	mock := NewMock()
	r.Register(mock)

	got, ok := r.Resolve("mock")
	require.True(t, ok)
	require.Same(t, mock, got)

	_, ok = r.Resolve("proxmox")
	require.False(t, ok)
}

func TestMockCreateStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	require.NoError(t, m.CreateVm(ctx, CreateSpec{VmID: 1, CPU: 2, MemoryBytes: 1 << 30}))

	state, err := m.GetVmState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StateStopped, state)

	require.NoError(t, m.StartVm(ctx, 1))
	state, err = m.GetVmState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StateRunning, state)

	sample, err := m.SampleVm(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1.0, sample.CPUPercent)

	require.NoError(t, m.StopVm(ctx, 1))
	state, err = m.GetVmState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StateStopped, state)

	require.NoError(t, m.DeleteVm(ctx, 1))
	state, err = m.GetVmState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StateUnknown, state)
}

func TestMockSampleUnknownVm(t *testing.T) {
	m := NewMock()
	_, err := m.SampleVm(context.Background(), 99)
	require.Error(t, err)
}

func TestMockGenerateMACUnique(t *testing.T) {
	m := NewMock()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		mac, err := m.GenerateMAC(context.Background())
		require.NoError(t, err)
		require.False(t, seen[mac], "mac %s generated twice", mac)
		seen[mac] = true
	}
}

func TestMockFault(t *testing.T) {
	m := NewMock()
	m.Fault = errFault
	require.ErrorIs(t, m.CreateVm(context.Background(), CreateSpec{VmID: 1}), errFault)
	require.ErrorIs(t, m.StartVm(context.Background(), 1), errFault)
}

var errFault = errTest("injected fault")

type errTest string

func (e errTest) Error() string { return string(e) }
