// Package provisioner implements the Provisioner Pipeline: a retryable,
// rollback-capable composition of the catalog store, host/router/DNS/
// payment rail drivers, and the capacity/pricing engine that drives each
// dispatcher job to completion. Built on pkg/retry for per-step retry
// policy and a step-oriented structure for ordered rollback.
package provisioner

import (
	"context"
	"log/slog"
	"time"

	"github.com/lnvps/lnvpsd/pkg/retry"
)

// DefaultDeadline is the cumulative per-pipeline deadline:
// exceeding it transitions the pipeline to terminal failure and triggers
// rollback.
const DefaultDeadline = 10 * time.Minute

// Step is one stage of a pipeline. Run performs the stage's work (which may
// itself retry internally via retry.Do against its own Policy); Compensate,
// if non-nil, undoes Run's effect and is invoked in LIFO order during
// rollback.
type Step struct {
	Name       string
	Policy     retry.Policy
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Pipeline is an ordered list of Steps executed under a single cumulative
// deadline, with LIFO compensation on terminal failure.
type Pipeline struct {
	Name     string
	Steps    []Step
	Deadline time.Duration
	Logger   *slog.Logger
}

// New creates a Pipeline with spec defaults; callers append Steps.
func New(name string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Name: name, Deadline: DefaultDeadline, Logger: logger}
}

func (p *Pipeline) Add(step Step) *Pipeline {
	p.Steps = append(p.Steps, step)
	return p
}

// Run executes every step in order. A step's Run is itself wrapped in
// retry.Do using the step's Policy — Run should return a plain error; its
// retryability per lnvpserr.RetryableErr decides whether retry.Do retries
// it. On the first step whose error survives retrying (or on deadline
// exceeded), completed steps with a Compensate are run in reverse order and
// the original error is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	deadline := p.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var completed []Step

	for _, step := range p.Steps {
		_, err := retry.Do(ctx, step.Policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, step.Run(ctx)
		})

		if err != nil {
			p.Logger.Error("pipeline step failed", "pipeline", p.Name, "step", step.Name, "error", err)
			p.rollback(context.WithoutCancel(ctx), completed)
			return err
		}

		p.Logger.Debug("pipeline step completed", "pipeline", p.Name, "step", step.Name)
		completed = append(completed, step)
	}

	return nil
}

// rollback runs compensators for completed steps in LIFO order. A
// compensator that itself fails after retrying is logged loudly and left
// for a cleanup work-queue entry rather than panicking —
// callers that need that behavior should enqueue one from the caller of
// Run on error.
func (p *Pipeline) rollback(ctx context.Context, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		policy := step.Policy
		if policy.MaxAttempts == 0 {
			policy = retry.DefaultPolicy
		}

		_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, step.Compensate(ctx)
		})
		if err != nil {
			p.Logger.Error("compensator failed, requires manual cleanup",
				"pipeline", p.Name, "step", step.Name, "error", err)
		} else {
			p.Logger.Info("compensator ran", "pipeline", p.Name, "step", step.Name)
		}
	}
}

// fastPolicy is used by steps that should fail fast rather than retry
// (e.g. validation steps whose errors are never retryable anyway).
var fastPolicy = retry.Policy{MaxAttempts: 1}

// validationStep wraps a pure validation function (no I/O retry needed)
// into a Step with no compensator.
func validationStep(name string, fn func(ctx context.Context) error) Step {
	return Step{Name: name, Policy: fastPolicy, Run: fn}
}
