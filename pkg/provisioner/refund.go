package provisioner

import (
	"context"
	"time"

	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
	"github.com/lnvps/lnvpsd/pkg/retry"
)

type refundState struct {
	job     dispatcher.Job
	vm      catalog.Vm
	payment catalog.VmPayment
	amount  int64
}

// BuildProcessVmRefund assembles the ProcessVmRefund pipeline: verify VM and payment history, compute a prorated refund from
// refund_from_date to expires, invoke the rail's refund, record a negative
// payment row (refunds are append-only; see DESIGN.md for the decision
// record).
func (d *Deps) BuildProcessVmRefund(job dispatcher.Job) *Pipeline {
	st := &refundState{job: job}
	p := New("ProcessVmRefund", d.logger())

	p.Add(validationStep("validate", func(ctx context.Context) error { return d.refundValidate(ctx, st) }))
	p.Add(Step{Name: "invoke_rail", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.refundInvokeRail(ctx, st) }})
	p.Add(Step{Name: "record_refund", Policy: retry.DefaultPolicy, Run: func(ctx context.Context) error { return d.refundRecord(ctx, st) }})

	return p
}

func (d *Deps) refundValidate(ctx context.Context, st *refundState) error {
	vm, err := d.Store.GetVm(ctx, st.job.VmID)
	if err != nil {
		return err
	}
	st.vm = vm

	payments, err := d.Store.AdminListVmPayments(ctx, vm.ID, catalog.PageParams{Limit: 100})
	if err != nil {
		return err
	}
	var latestPaid *catalog.VmPayment
	for i := range payments {
		p := payments[i]
		if p.IsPaid && p.Method == st.job.PaymentMethod && (latestPaid == nil || p.Created.After(latestPaid.Created)) {
			latestPaid = &payments[i]
		}
	}
	if latestPaid == nil {
		return lnvpserr.Validation("vm %d has no settled %s payment to refund", vm.ID, st.job.PaymentMethod)
	}
	st.payment = *latestPaid

	from := vm.Expires
	if st.job.RefundFromDate != nil {
		from = *st.job.RefundFromDate
	}
	remaining := vm.Expires.Sub(from)
	if remaining <= 0 {
		return lnvpserr.Validation("refund_from_date %s is not before vm %d's expiry %s", from, vm.ID, vm.Expires)
	}
	if st.payment.TimeValue <= 0 {
		return lnvpserr.Validation("payment %d credited no time value, nothing to prorate", st.payment.ID)
	}

	total := time.Duration(st.payment.TimeValue) * time.Second
	fraction := float64(remaining) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	st.amount = int64(float64(st.payment.Amount) * fraction)
	if st.amount <= 0 {
		return lnvpserr.Validation("computed refund amount for vm %d is zero", vm.ID)
	}
	return nil
}

func (d *Deps) refundInvokeRail(ctx context.Context, st *refundState) error {
	drv, err := d.resolveRail(st.job.PaymentMethod)
	if err != nil {
		return err
	}
	destination := ""
	if st.job.LightningInvoice != nil {
		destination = *st.job.LightningInvoice
	}
	_, err = drv.Refund(ctx, st.payment.ExternalID, st.amount, destination)
	return err
}

func (d *Deps) refundRecord(ctx context.Context, st *refundState) error {
	reason := ""
	if st.job.Reason != nil {
		reason = *st.job.Reason
	}
	_, err := d.Store.RecordRefundByID(ctx, st.payment.ID, -st.amount, reason)
	return err
}
