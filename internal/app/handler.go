package app

import (
	"context"
	"log/slog"

	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/provisioner"
)

// externalJobTypes are job types this process only schedules or enqueues;
// their actual processing belongs to an external collaborator (SMTP/Nostr
// notification delivery, the Nostr domain resolver). A worker acking them
// here is a deliberate no-op, not a bug: in a real deployment a separate
// consumer group on the same stream does the work.
var externalJobTypes = map[dispatcher.JobType]bool{
	dispatcher.JobSendNotification:      true,
	dispatcher.JobSendAdminNotification: true,
	dispatcher.JobBulkMessage:           true,
	dispatcher.JobCheckNostrDomains:     true,
}

// buildHandler wraps the Provisioner's handler so that job types owned by
// an external collaborator are acknowledged instead of failing the pop.
func buildHandler(deps *provisioner.Deps, logger *slog.Logger) dispatcher.Handler {
	inner := deps.Handler()
	return func(ctx context.Context, job dispatcher.Job) error {
		if externalJobTypes[job.Type] {
			logger.Debug("skipping externally-owned job type", "job_type", job.Type)
			return nil
		}
		return inner(ctx, job)
	}
}
