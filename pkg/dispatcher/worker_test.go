package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerRunProcessesJobsUntilCancelled(t *testing.T) {
	q := NewMemory()
	var processed int32

	handler := func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}

	w := NewWorker(q, handler, nil, nil)
	w.block = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	_, err := q.Send(context.Background(), Job{Type: JobCheckVms})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWorkerLeavesNonSkippableFailuresUnacked(t *testing.T) {
	q := NewMemory()
	handler := func(ctx context.Context, job Job) error { return errors.New("boom") }
	w := NewWorker(q, handler, nil, nil)

	_, err := q.Send(context.Background(), Job{Type: JobCreateVm})
	require.NoError(t, err)

	deliveries, err := q.Recv(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// Memory's own Ack is a no-op, so wrap it to observe whether process()
	// acks the failed delivery.
	acked := false
	d := deliveries[0]
	d.Ack = func(ctx context.Context) error { acked = true; return nil }
	w.process(context.Background(), d)
	require.False(t, acked, "a failed non-skippable job must stay unacked")
}
