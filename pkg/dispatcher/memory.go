package dispatcher

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Memory is the in-memory channel backend: single-process,
// unbounded FIFO, ack is a no-op, delivery is exactly-once as long as there
// is exactly one consumer draining it.
type Memory struct {
	ch      chan Envelope
	counter int64
}

// NewMemory creates an unbounded (buffered to a large capacity) in-memory
// queue. Go channels require a finite buffer; capacity is sized generously
// since this backend is documented for tests and single-process
// deployments, not unbounded production load.
func NewMemory() *Memory {
	return &Memory{ch: make(chan Envelope, 100_000)}
}

func (m *Memory) Send(ctx context.Context, job Job) (Envelope, error) {
	id := strconv.FormatInt(atomic.AddInt64(&m.counter, 1), 10)
	env := Envelope{ID: id, Job: job, Enqueued: time.Now()}
	select {
	case m.ch <- env:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, lnvpserr.Wrap(lnvpserr.KindTransientRemote, "enqueue cancelled", ctx.Err())
	default:
		return Envelope{}, lnvpserr.Fatal(nil, "in-memory queue buffer exhausted")
	}
}

func (m *Memory) Recv(ctx context.Context, block time.Duration) ([]Delivery, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()

	select {
	case env := <-m.ch:
		return []Delivery{{Envelope: env, Ack: func(context.Context) error { return nil }}}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
