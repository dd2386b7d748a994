package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySendRecvRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	env, err := m.Send(ctx, Job{Type: JobCheckVms})
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)

	deliveries, err := m.Recv(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, JobCheckVms, deliveries[0].Envelope.Job.Type)
	require.NoError(t, deliveries[0].Ack(ctx))
}

func TestMemoryRecvTimesOutWhenEmpty(t *testing.T) {
	m := NewMemory()
	deliveries, err := m.Recv(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, deliveries)
}

func TestMemoryPreservesFIFOOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Send(ctx, Job{Type: JobStartVm, VmID: 1})
	require.NoError(t, err)
	_, err = m.Send(ctx, Job{Type: JobStartVm, VmID: 2})
	require.NoError(t, err)

	first, err := m.Recv(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, int64(1), first[0].Envelope.Job.VmID)

	second, err := m.Recv(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, int64(2), second[0].Envelope.Job.VmID)
}
