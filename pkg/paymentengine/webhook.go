package paymentengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/paymentrail"
)

const settlementChannel = "lnvpsd:payments:settlement"

// settlementEvent is the normalized shape published to settlementChannel,
// carrying the rail so the settlement worker knows which payment method
// the externalID is scoped to.
type settlementEvent struct {
	Method     catalog.PaymentMethod `json:"method"`
	ExternalID string                `json:"external_id"`
}

// WebhookAdapter is the boundary between an inbound rail webhook and the
// settlement worker: it verifies the request against the rail's own
// signature scheme, then publishes a normalized event onto a Redis
// broadcast channel rather than applying settlement inline in the HTTP
// handler.
type WebhookAdapter struct {
	Rails  *paymentrail.Registry
	Rdb    *redis.Client
	Logger *slog.Logger
}

func (a *WebhookAdapter) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Handle verifies an inbound webhook for the given rail and, on success,
// publishes the settlement event. It never applies the Paid transition
// itself: that is the settlement worker's job, so webhook delivery retries
// from the rail stay idempotent against the broadcast.
func (a *WebhookAdapter) Handle(ctx context.Context, method catalog.PaymentMethod, r *http.Request, body []byte) error {
	drv, ok := a.Rails.Resolve(string(method))
	if !ok {
		return lnvpserr.Fatal(nil, "no payment rail driver registered for method %q", method)
	}

	ev, err := drv.VerifyWebhook(ctx, r.Header, body)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(settlementEvent{Method: method, ExternalID: ev.ExternalID})
	if err != nil {
		return err
	}
	if err := a.Rdb.Publish(ctx, settlementChannel, payload).Err(); err != nil {
		a.logger().Error("publishing settlement event", "method", method, "external_id", ev.ExternalID, "error", err)
		return err
	}
	return nil
}
