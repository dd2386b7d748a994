package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// FeedbackStatus is the tagged status a JobFeedback message carries.
type FeedbackStatus string

const (
	StatusStarted   FeedbackStatus = "Started"
	StatusProgress  FeedbackStatus = "Progress"
	StatusCompleted FeedbackStatus = "Completed"
	StatusFailed    FeedbackStatus = "Failed"
	StatusCancelled FeedbackStatus = "Cancelled"
)

// JobFeedback is published to a job-specific channel and a global channel.
// Delivery is best-effort, at-most-once; it is never the
// source of truth for job outcome.
type JobFeedback struct {
	JobID     string            `json:"job_id"`
	JobType   JobType           `json:"job_type"`
	Status    FeedbackStatus    `json:"status"`
	Percent   *int              `json:"percent,omitempty"`
	Message   *string           `json:"msg,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     *string           `json:"error,omitempty"`
	Reason    *string           `json:"reason,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

const globalFeedbackChannel = "lnvpsd:jobs:feedback"

func jobFeedbackChannel(jobID string) string {
	return "lnvpsd:jobs:feedback:" + jobID
}

// FeedbackBus publishes and subscribes to JobFeedback over Redis pub/sub:
// a per-job channel plus a global fan-out channel.
type FeedbackBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewFeedbackBus(rdb *redis.Client, logger *slog.Logger) *FeedbackBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackBus{rdb: rdb, logger: logger}
}

// Publish sends fb to both its job-specific channel and the global channel.
// Publish failures are logged, never returned: feedback is advisory.
func (b *FeedbackBus) Publish(ctx context.Context, fb JobFeedback) {
	if fb.Timestamp == 0 {
		fb.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		b.logger.Error("encoding job feedback", "job_id", fb.JobID, "error", err)
		return
	}

	if err := b.rdb.Publish(ctx, jobFeedbackChannel(fb.JobID), payload).Err(); err != nil {
		b.logger.Warn("publishing job-specific feedback", "job_id", fb.JobID, "error", err)
	}
	if err := b.rdb.Publish(ctx, globalFeedbackChannel, payload).Err(); err != nil {
		b.logger.Warn("publishing global feedback", "job_id", fb.JobID, "error", err)
	}
}

// SubscribeJob subscribes to feedback for a single job id. The returned
// channel closes when ctx is cancelled or the subscription is closed.
func (b *FeedbackBus) SubscribeJob(ctx context.Context, jobID string) <-chan JobFeedback {
	return b.subscribe(ctx, jobFeedbackChannel(jobID))
}

// SubscribeGlobal subscribes to every job's feedback.
func (b *FeedbackBus) SubscribeGlobal(ctx context.Context) <-chan JobFeedback {
	return b.subscribe(ctx, globalFeedbackChannel)
}

func (b *FeedbackBus) subscribe(ctx context.Context, channel string) <-chan JobFeedback {
	pubsub := b.rdb.Subscribe(ctx, channel)
	out := make(chan JobFeedback)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var fb JobFeedback
				if err := json.Unmarshal([]byte(msg.Payload), &fb); err != nil {
					b.logger.Warn("discarding malformed job feedback", "channel", channel, "error", err)
					continue
				}
				select {
				case out <- fb:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
