package catalog

import (
	"context"
	"time"
)

// This file exposes single-call, internally-transactional entry points for
// external packages (the Provisioner Pipeline) that need a Store operation
// wrapped in a transaction but have no reason to see the unexported
// querier type themselves — composing multiple queries into one
// transaction stays encapsulated inside Store.

// CreateVmWithAssignments persists a Vm row and its IP assignment rows in a
// single transaction.
func (s *Store) CreateVmWithAssignments(ctx context.Context, vm Vm, assignments []VmIpAssignment) (Vm, []VmIpAssignment, error) {
	var created Vm
	out := make([]VmIpAssignment, 0, len(assignments))

	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		v, err := s.CreateVm(ctx, q, vm)
		if err != nil {
			return err
		}
		created = v

		for _, a := range assignments {
			a.VmID = v.ID
			ca, err := s.CreateVmIPAssignment(ctx, q, a)
			if err != nil {
				return err
			}
			out = append(out, ca)
		}
		return nil
	})
	return created, out, err
}

// SoftDeleteVmByID soft-deletes a Vm in its own transaction.
func (s *Store) SoftDeleteVmByID(ctx context.Context, vmID ID) error {
	return s.WithTx(ctx, func(ctx context.Context, q querier) error {
		return s.SoftDeleteVm(ctx, q, vmID)
	})
}

// ExtendVmExpiryByID extends a Vm's expiry in its own transaction.
func (s *Store) ExtendVmExpiryByID(ctx context.Context, vmID ID, by time.Duration) (Vm, error) {
	var out Vm
	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		v, err := s.ExtendVmExpiry(ctx, q, vmID, by)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// CreateVmIPAssignmentByID creates one IP assignment in its own transaction.
func (s *Store) CreateVmIPAssignmentByID(ctx context.Context, a VmIpAssignment) (VmIpAssignment, error) {
	var out VmIpAssignment
	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		created, err := s.CreateVmIPAssignment(ctx, q, a)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// UpdateVmIPAssignmentRefsByID updates one assignment's driver refs in its
// own transaction.
func (s *Store) UpdateVmIPAssignmentRefsByID(ctx context.Context, id ID, arpRef, dnsARef, dnsPTRRef, routerMac *string) error {
	return s.WithTx(ctx, func(ctx context.Context, q querier) error {
		return s.UpdateVmIPAssignmentRefs(ctx, q, id, arpRef, dnsARef, dnsPTRRef, routerMac)
	})
}

// DeleteVmIPAssignmentByID deletes one assignment in its own transaction.
func (s *Store) DeleteVmIPAssignmentByID(ctx context.Context, id ID) error {
	return s.WithTx(ctx, func(ctx context.Context, q querier) error {
		return s.DeleteVmIPAssignment(ctx, q, id)
	})
}

// CreateVmPaymentByID creates one payment row in its own transaction,
// first clearing any stale unpaid-and-expired invoice for the same
// (vm_id, method) so the active-invoice partial unique index doesn't
// reject the insert.
func (s *Store) CreateVmPaymentByID(ctx context.Context, p VmPayment) (VmPayment, error) {
	var out VmPayment
	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		if err := s.deleteExpiredUnpaidInvoice(ctx, q, p.VmID, p.Method); err != nil {
			return err
		}
		created, err := s.CreateVmPayment(ctx, q, p)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// MarkVmPaymentPaidByID idempotently marks a payment Paid and, in the same
// transaction, extends the VM's expiry by the payment's credited time
// value.
func (s *Store) MarkVmPaymentPaidByID(ctx context.Context, id ID) (VmPayment, error) {
	var out VmPayment
	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		var alreadyPaid bool
		if err := q.QueryRow(ctx, `SELECT is_paid FROM vm_payments WHERE id = $1 FOR UPDATE`, id).Scan(&alreadyPaid); err != nil {
			return classifyPgErr(err)
		}
		p, err := s.MarkVmPaymentPaid(ctx, q, id)
		if err != nil {
			return err
		}
		if !alreadyPaid && p.TimeValue > 0 {
			if _, err := s.ExtendVmExpiry(ctx, q, p.VmID, time.Duration(p.TimeValue)*time.Second); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

// RecordRefundByID records a refund row in its own transaction.
func (s *Store) RecordRefundByID(ctx context.Context, originalID ID, amount int64, reason string) (VmPayment, error) {
	var out VmPayment
	err := s.WithTx(ctx, func(ctx context.Context, q querier) error {
		p, err := s.RecordRefund(ctx, q, originalID, amount, reason)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}
