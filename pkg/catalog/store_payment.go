package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

const vmPaymentColumns = `id, vm_id, created, expires, amount, currency, rate, method,
	external_id, external_data, is_paid, time_value, tax, upgrade_config`

func scanVmPayment(row pgx.Row) (VmPayment, error) {
	var p VmPayment
	err := row.Scan(&p.ID, &p.VmID, &p.Created, &p.Expires, &p.Amount, &p.Currency,
		&p.Rate, &p.Method, &p.ExternalID, &p.ExternalData, &p.IsPaid, &p.TimeValue,
		&p.Tax, &p.UpgradeConfig)
	return p, err
}

func (s *Store) GetVmPayment(ctx context.Context, id ID) (VmPayment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmPaymentColumns+` FROM vm_payments WHERE id = $1`, id)
	p, err := scanVmPayment(row)
	if err != nil {
		return VmPayment{}, classifyPgErr(err)
	}
	return p, nil
}

func (s *Store) GetVmPaymentByExternalID(ctx context.Context, method PaymentMethod, externalID string) (VmPayment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vmPaymentColumns+` FROM vm_payments WHERE method = $1 AND external_id = $2`, method, externalID)
	p, err := scanVmPayment(row)
	if err != nil {
		return VmPayment{}, classifyPgErr(err)
	}
	return p, nil
}

// deleteExpiredUnpaidInvoice removes a stale, unpaid-and-expired invoice
// for (vm_id, method), if one exists, so a fresh invoice can be issued
// without tripping the active-invoice partial unique index (which can
// only key on is_paid, not on a moving expiry threshold).
func (s *Store) deleteExpiredUnpaidInvoice(ctx context.Context, q querier, vmID ID, method PaymentMethod) error {
	_, err := q.Exec(ctx, `
		DELETE FROM vm_payments
		WHERE vm_id = $1 AND method = $2 AND NOT is_paid AND expires <= now()`, vmID, method)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// CreateVmPayment issues a new invoice. Each (vm, method, is_paid=false)
// row is an outstanding invoice; "only one active (unpaid) invoice per
// (vm_id, method) at a time" is enforced by the partial unique index
// migrations/*_vm_payments.sql creates, not in application code.
func (s *Store) CreateVmPayment(ctx context.Context, q querier, p VmPayment) (VmPayment, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO vm_payments (vm_id, created, expires, amount, currency, rate, method,
			external_id, external_data, is_paid, time_value, tax, upgrade_config)
		VALUES ($1, now(), $2, $3, $4, $5, $6, $7, $8, false, $9, $10, $11)
		RETURNING `+vmPaymentColumns,
		p.VmID, p.Expires, p.Amount, p.Currency, p.Rate, p.Method,
		p.ExternalID, p.ExternalData, p.TimeValue, p.Tax, p.UpgradeConfig)
	out, err := scanVmPayment(row)
	if err != nil {
		return VmPayment{}, classifyPgErr(err)
	}
	return out, nil
}

// MarkVmPaymentPaid settles an invoice. Idempotent: settling an
// already-paid invoice is a no-op that returns the existing row, since the
// Payment Rail Driver's webhook delivery is at-least-once.
func (s *Store) MarkVmPaymentPaid(ctx context.Context, q querier, id ID) (VmPayment, error) {
	row := q.QueryRow(ctx, `
		UPDATE vm_payments SET is_paid = true WHERE id = $1 AND NOT is_paid
		RETURNING `+vmPaymentColumns, id)
	out, err := scanVmPayment(row)
	if err == nil {
		return out, nil
	}
	if err != pgx.ErrNoRows {
		return VmPayment{}, classifyPgErr(err)
	}
	return s.GetVmPayment(ctx, id)
}

// GetActiveInvoice returns the single outstanding (unpaid, unexpired)
// invoice for a VM, if any.
func (s *Store) GetActiveInvoice(ctx context.Context, vmID ID) (VmPayment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+vmPaymentColumns+` FROM vm_payments
		WHERE vm_id = $1 AND NOT is_paid AND expires > now()
		ORDER BY created DESC LIMIT 1`, vmID)
	p, err := scanVmPayment(row)
	if err != nil {
		return VmPayment{}, classifyPgErr(err)
	}
	return p, nil
}

// RecordRefund appends a negative-amount VmPayment row documenting a
// refund, per the ProcessVmRefund decision recorded in DESIGN.md: refunds
// are append-only ledger entries, never a mutation of the original
// payment.
func (s *Store) RecordRefund(ctx context.Context, q querier, originalID ID, amount int64, reason string) (VmPayment, error) {
	original, err := s.GetVmPayment(ctx, originalID)
	if err != nil {
		return VmPayment{}, err
	}
	if amount > 0 {
		return VmPayment{}, lnvpserr.Validation("refund amount must be negative or zero, got %d", amount)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO vm_payments (vm_id, created, expires, amount, currency, rate, method,
			external_id, external_data, is_paid, time_value, tax, upgrade_config)
		VALUES ($1, now(), now(), $2, $3, $4, $5, $6, $7, true, 0, 0, NULL)
		RETURNING `+vmPaymentColumns,
		original.VmID, amount, original.Currency, original.Rate, original.Method,
		fmt.Sprintf("refund:%d", originalID), []byte(reason))
	out, err := scanVmPayment(row)
	if err != nil {
		return VmPayment{}, classifyPgErr(err)
	}
	return out, nil
}

// ListUnpaidActiveInvoices returns every unpaid, unexpired payment row,
// the poll fallback's scan target.
func (s *Store) ListUnpaidActiveInvoices(ctx context.Context) ([]VmPayment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+vmPaymentColumns+` FROM vm_payments
		WHERE NOT is_paid AND expires > now()
		ORDER BY id`)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmPayment
	for rows.Next() {
		p, err := scanVmPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm payment row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AdminListVmPayments(ctx context.Context, vmID ID, p PageParams) ([]VmPayment, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+vmPaymentColumns+` FROM vm_payments WHERE vm_id = $1
		ORDER BY created DESC LIMIT $2 OFFSET $3`, vmID, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()
	var out []VmPayment
	for rows.Next() {
		pay, err := scanVmPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vm payment row: %w", err)
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}
