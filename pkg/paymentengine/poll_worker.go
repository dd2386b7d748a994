package paymentengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/paymentrail"
)

// PollWorker is the poll-based fallback settlement path for rails without a reliable
// webhook, or as a safety net against missed deliveries.
type PollWorker struct {
	Engine   *Engine
	Interval time.Duration
	Logger   *slog.Logger
}

func (w *PollWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// Run polls every unsettled, unexpired invoice on each tick until ctx is
// cancelled.
func (w *PollWorker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PollWorker) tick(ctx context.Context) {
	invoices, err := w.Engine.Store.ListUnpaidActiveInvoices(ctx)
	if err != nil {
		w.logger().Error("listing unpaid invoices for settlement poll", "error", err)
		return
	}
	for _, inv := range invoices {
		if err := w.PollOne(ctx, inv.Method, inv.ExternalID); err != nil {
			w.logger().Warn("polling invoice status", "external_id", inv.ExternalID, "method", inv.Method, "error", err)
		}
	}
}

// PollOne polls a single outstanding invoice's status against its rail and
// applies settlement if paid. Callers (e.g. a CheckVm job handler) invoke
// this for one VM's active invoice rather than relying solely on webhooks.
func (w *PollWorker) PollOne(ctx context.Context, method catalog.PaymentMethod, externalID string) error {
	drv, ok := w.Engine.Rails.Resolve(string(method))
	if !ok {
		return nil
	}
	result, err := drv.PollStatus(ctx, externalID)
	if err != nil {
		return err
	}
	if result.Status != paymentrail.StatusPaid {
		return nil
	}
	return w.Engine.ApplySettlement(ctx, method, externalID)
}
