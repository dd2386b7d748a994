package dnsdriver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockForwardLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	ref, err := m.AddForward(ctx, "vm1.lnvps.test", net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	require.NoError(t, m.DeleteForward(ctx, ref))
	require.NoError(t, m.DeleteForward(ctx, "unknown-ref")) // delete-of-missing is success
}

func TestMockReverseLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	ref, err := m.AddReverse(ctx, "5.0.0.10.in-addr.arpa", "vm1.lnvps.test")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	require.NoError(t, m.DeleteReverse(ctx, ref))
}

func TestMockFault(t *testing.T) {
	m := NewMock()
	m.Fault = errFault
	_, err := m.AddForward(context.Background(), "vm1.lnvps.test", net.ParseIP("10.0.0.5"))
	require.ErrorIs(t, err, errFault)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	m := NewMock()
	r.Register(m)

	got, ok := r.Resolve("mock")
	require.True(t, ok)
	require.Same(t, m, got)

	_, ok = r.Resolve("rest")
	require.False(t, ok)
}

type errTest string

func (e errTest) Error() string { return string(e) }

var errFault = errTest("injected fault")
