package dispatcher

import (
	"context"
	"time"
)

// Delivery is one claimed message handed to a worker; Ack must be called on
// success so the backend can retire it (a no-op for the in-memory backend).
type Delivery struct {
	Envelope Envelope
	Ack      func(ctx context.Context) error
}

// Queue is the backend-agnostic interface the dispatcher worker loop drives.
// Two implementations exist: Stream (durable, Redis-backed, at-least-once)
// and Memory (single-process, unbounded, exactly-once).
type Queue interface {
	// Send enqueues job durably (or, for Memory, into the channel).
	Send(ctx context.Context, job Job) (Envelope, error)

	// Recv blocks up to block for the next batch of deliveries, claiming
	// any stalled entries from the consumer group first. Returns an empty
	// slice, not an error, on timeout.
	Recv(ctx context.Context, block time.Duration) ([]Delivery, error)
}

// Default stream-read tuning.
const (
	DefaultBlock     = 100 * time.Millisecond
	DefaultStall     = 10 * time.Second
	DefaultTrimLen   = 1000
	DefaultBatchSize = 10
)
