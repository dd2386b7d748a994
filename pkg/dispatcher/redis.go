package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// field is the single Redis stream field every entry is stored under; the
// envelope's own JSON is the value, so the stream schema never needs a
// migration when Job gains fields.
const field = "envelope"

// Stream is the durable Redis-backed Queue: append-only with consumer
// groups, approximate trimming, stall-based reclaim, and pending-on-start
// recovery.
type Stream struct {
	rdb      *redis.Client
	key      string
	group    string
	consumer string
	logger   *slog.Logger

	claimedOwnPending bool
	claimOnce         sync.Once
}

// NewStream creates a Stream queue bound to key, ensuring the consumer
// group exists (MKSTREAM so the first consumer doesn't race stream
// creation).
func NewStream(ctx context.Context, rdb *redis.Client, key, group, consumer string, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{rdb: rdb, key: key, group: group, consumer: consumer, logger: logger}

	err := rdb.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, lnvpserr.Wrap(lnvpserr.KindTransientRemote, "creating consumer group", err)
	}
	return s, nil
}

func (s *Stream) Send(ctx context.Context, job Job) (Envelope, error) {
	env := Envelope{Job: job, Enqueued: time.Now()}
	payload, err := env.Encode()
	if err != nil {
		return Envelope{}, err
	}

	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: DefaultTrimLen,
		Approx: true,
		Values: map[string]any{field: payload},
	}).Result()
	if err != nil {
		return Envelope{}, lnvpserr.TransientRemote(err, "XADD %s", s.key)
	}

	env.ID = id
	return env, nil
}

func (s *Stream) Recv(ctx context.Context, block time.Duration) ([]Delivery, error) {
	s.claimOwnPendingOnce(ctx)

	reclaimed, err := s.reclaimStalled(ctx)
	if err != nil {
		s.logger.Warn("reclaiming stalled stream entries", "stream", s.key, "error", err)
	}
	var deliveries []Delivery
	for _, msg := range reclaimed {
		if d, ok := s.toDelivery(msg); ok {
			deliveries = append(deliveries, d)
		}
	}
	if len(deliveries) > 0 {
		return deliveries, nil
	}

	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.key, ">"},
		Count:    DefaultBatchSize,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, lnvpserr.TransientRemote(err, "XREADGROUP %s", s.key)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			d, ok := s.toDelivery(msg)
			if ok {
				deliveries = append(deliveries, d)
			}
		}
	}
	return deliveries, nil
}

func (s *Stream) toDelivery(msg redis.XMessage) (Delivery, bool) {
	raw, ok := msg.Values[field].(string)
	if !ok {
		s.logger.Error("stream entry missing envelope field, acking to drop", "stream", s.key, "id", msg.ID)
		_ = s.rdb.XAck(context.Background(), s.key, s.group, msg.ID).Err()
		return Delivery{}, false
	}
	env, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		s.logger.Error("malformed stream entry, acking to drop", "stream", s.key, "id", msg.ID, "error", err)
		_ = s.rdb.XAck(context.Background(), s.key, s.group, msg.ID).Err()
		return Delivery{}, false
	}
	env.ID = msg.ID
	env.IsPending = true

	id := msg.ID
	return Delivery{
		Envelope: env,
		Ack: func(ctx context.Context) error {
			if err := s.rdb.XAck(ctx, s.key, s.group, id).Err(); err != nil {
				return lnvpserr.TransientRemote(err, "XACK %s %s", s.key, id)
			}
			return nil
		},
	}, true
}

// reclaimStalled runs on every Recv: entries idle longer than DefaultStall,
// regardless of which consumer originally claimed them, are reassigned to
// this consumer and returned for redelivery.
func (s *Stream) reclaimStalled(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  DefaultStall,
		Start:    "0-0",
		Count:    DefaultBatchSize,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("XAUTOCLAIM: %w", err)
	}
	return msgs, nil
}

// claimOwnPendingOnce implements "pending-on-start: the first recv after
// boot claims the consumer's own orphaned pending entries" — entries this same consumer name held when the process last
// exited, regardless of idle time.
func (s *Stream) claimOwnPendingOnce(ctx context.Context) {
	s.claimOnce.Do(func() {
		pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream:   s.key,
			Group:    s.group,
			Consumer: s.consumer,
			Start:    "-",
			End:      "+",
			Count:    1000,
		}).Result()
		if err != nil {
			s.logger.Warn("listing own pending entries on start", "stream", s.key, "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		if err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.key,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  0,
			Messages: ids,
		}).Err(); err != nil {
			s.logger.Warn("reclaiming own pending entries on start", "stream", s.key, "error", err)
			return
		}
		s.claimedOwnPending = true
	})
}
