package telemetry

import (
	"context"
	"time"

	"github.com/lnvps/lnvpsd/pkg/dispatcher"
)

// InstrumentHandler wraps a dispatcher.Handler with the dispatcher metrics,
// keeping pkg/dispatcher itself free of a Prometheus dependency — metrics
// are an application concern wired at the boundary, not inside the library.
func InstrumentHandler(h dispatcher.Handler) dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		start := time.Now()
		err := h(ctx, job)
		JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		JobsDispatchedTotal.WithLabelValues(string(job.Type), outcome).Inc()
		return err
	}
}
