package paymentengine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/lnvps/lnvpsd/pkg/dispatcher"
)

// SettlementWorker subscribes to the webhook adapter's broadcast and
// idempotently applies the Paid transition for each event, then publishes
// a JobFeedback::Completed on the global dispatcher channel.
type SettlementWorker struct {
	Engine   *Engine
	Rdb      *redis.Client
	Feedback *dispatcher.FeedbackBus
	Logger   *slog.Logger
}

func (w *SettlementWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// Run subscribes to settlementChannel and applies settlement for each
// event until ctx is cancelled: a single Redis pub/sub subscription
// driven in a select against ctx.Done.
func (w *SettlementWorker) Run(ctx context.Context) error {
	pubsub := w.Rdb.Subscribe(ctx, settlementChannel)
	defer pubsub.Close()

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			w.handle(ctx, msg.Payload)
		}
	}
}

func (w *SettlementWorker) handle(ctx context.Context, payload string) {
	var ev settlementEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		w.logger().Warn("discarding malformed settlement event", "error", err)
		return
	}

	if err := w.Engine.ApplySettlement(ctx, ev.Method, ev.ExternalID); err != nil {
		w.logger().Error("applying settlement", "method", ev.Method, "external_id", ev.ExternalID, "error", err)
		return
	}

	if w.Feedback != nil {
		w.Feedback.Publish(ctx, dispatcher.JobFeedback{
			JobType: dispatcher.JobConfigureVm,
			Status:  dispatcher.StatusCompleted,
		})
	}
}
