package provisioner

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Handler returns a dispatcher.Handler that builds and runs the pipeline
// matching a job's Type, serializing pipelines per vm_id via an advisory
// lock. Job types the Provisioner doesn't own (notifications, admin
// messaging, Nostr domain checks) are out of scope and return an error so
// the caller can route them to whatever handler does own them instead of
// silently dropping.
func (d *Deps) Handler() dispatcher.Handler {
	return func(ctx context.Context, job dispatcher.Job) error {
		build, vmScoped := d.pipelineFor(job)
		if build == nil {
			return lnvpserr.Fatal(nil, "provisioner has no pipeline for job type %s", job.Type)
		}

		if !vmScoped {
			return build(job).Run(ctx)
		}

		unlock, err := d.Store.LockVm(ctx, job.VmID)
		if err != nil {
			return err
		}
		defer unlock(context.WithoutCancel(ctx))

		return build(job).Run(ctx)
	}
}

func (d *Deps) pipelineFor(job dispatcher.Job) (build func(dispatcher.Job) *Pipeline, vmScoped bool) {
	switch job.Type {
	case dispatcher.JobCheckVms:
		return d.BuildCheckVms, false
	case dispatcher.JobCheckVm:
		return d.BuildCheckVm, true
	case dispatcher.JobStartVm:
		return d.BuildStartVm, true
	case dispatcher.JobStopVm:
		return d.BuildStopVm, true
	case dispatcher.JobPatchHosts:
		return d.BuildPatchHosts, false
	case dispatcher.JobCreateVm:
		return d.BuildCreateVm, false // no vm_id exists to lock until persist_vm
	case dispatcher.JobConfigureVm:
		return d.BuildConfigureVm, true
	case dispatcher.JobProcessVmUpgrade:
		return d.BuildProcessVmUpgrade, true
	case dispatcher.JobDeleteVm:
		return d.BuildDeleteVm, true
	case dispatcher.JobAssignVmIp:
		return d.BuildAssignVmIp, true
	case dispatcher.JobUnassignVmIp:
		return d.BuildUnassignVmIp, false // keyed by assignment_id, not vm_id, until loaded
	case dispatcher.JobUpdateVmIp:
		return d.BuildUpdateVmIp, false
	case dispatcher.JobProcessVmRefund:
		return d.BuildProcessVmRefund, true
	default:
		return nil, false
	}
}
