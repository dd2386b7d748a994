package dispatcher

import (
	"context"
	"log/slog"
	"time"
)

// Handler runs one job to completion (or returns an error). The
// Provisioner Pipeline is the only real Handler; tests substitute a stub.
type Handler func(ctx context.Context, job Job) error

// Worker drains a Queue and runs each delivery through Handler, publishing
// JobFeedback around the call. Blocks on Queue.Recv rather than polling on
// a fixed-interval ticker.
type Worker struct {
	queue    Queue
	handler  Handler
	feedback *FeedbackBus
	logger   *slog.Logger
	block    time.Duration
}

func NewWorker(queue Queue, handler Handler, feedback *FeedbackBus, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: queue, handler: handler, feedback: feedback, logger: logger, block: DefaultBlock}
}

// Run drains the queue until ctx is cancelled. Each delivery in a batch is
// processed sequentially within this worker; run multiple Workers
// concurrently (on independent consumer names) for parallelism.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dispatcher worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatcher worker stopped")
			return nil
		default:
		}

		deliveries, err := w.queue.Recv(ctx, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("receiving jobs", "error", err)
			continue
		}

		for _, d := range deliveries {
			w.process(ctx, d)
		}
	}
}

func (w *Worker) process(ctx context.Context, d Delivery) {
	job := d.Envelope.Job
	w.publish(ctx, d.Envelope.ID, job.Type, JobFeedback{Status: StatusStarted})

	err := w.handler(ctx, job)
	if err != nil {
		w.logger.Error("job handler failed", "job_id", d.Envelope.ID, "job_type", job.Type, "error", err)
		msg := err.Error()
		w.publish(ctx, d.Envelope.ID, job.Type, JobFeedback{Status: StatusFailed, Error: &msg})
		if !CanSkip(job.Type) {
			return // leave unacked; the Stream backend's stall-reclaim redelivers it
		}
	} else {
		w.publish(ctx, d.Envelope.ID, job.Type, JobFeedback{Status: StatusCompleted})
	}

	if err := d.Ack(ctx); err != nil {
		w.logger.Error("acking job", "job_id", d.Envelope.ID, "error", err)
	}
}

func (w *Worker) publish(ctx context.Context, jobID string, jobType JobType, fb JobFeedback) {
	if w.feedback == nil {
		return
	}
	fb.JobID = jobID
	fb.JobType = jobType
	w.feedback.Publish(ctx, fb)
}
