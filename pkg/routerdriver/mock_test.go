package routerdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockAddListUpdateRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	added, err := m.Add(ctx, ArpEntry{IP: "10.0.0.2", Mac: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	added.Comment = "updated"
	updated, err := m.Update(ctx, added)
	require.NoError(t, err)
	require.Equal(t, "updated", updated.Comment)

	require.NoError(t, m.Remove(ctx, added.ID))
	list, err = m.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMockUpdateUnknownID(t *testing.T) {
	m := NewMock()
	_, err := m.Update(context.Background(), ArpEntry{ID: "missing"})
	require.Error(t, err)
}

func TestMockAddRejectsBroadcastMac(t *testing.T) {
	m := NewMock()
	_, err := m.Add(context.Background(), ArpEntry{IP: "10.0.0.2", Mac: BroadcastMac})
	require.Error(t, err)
}

func TestMockGenerateMacDisabledByDefault(t *testing.T) {
	m := NewMock()
	_, ok, err := m.GenerateMac(context.Background(), "10.0.0.2", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMockGenerateMacMints(t *testing.T) {
	m := NewMock()
	m.MintsMac = true
	entry, ok, err := m.GenerateMac(context.Background(), "10.0.0.2", "vm-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, entry.Mac)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	m := NewMock()
	r.Register(m)

	got, ok := r.Resolve("mock")
	require.True(t, ok)
	require.Same(t, m, got)

	_, ok = r.Resolve("mikrotik")
	require.False(t, ok)
}
