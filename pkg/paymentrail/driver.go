// Package paymentrail implements the Payment Rail Driver:
// a per-rail polymorphic interface for invoice creation, status polling,
// settlement events, refunds, and webhook verification.
package paymentrail

import (
	"context"
	"time"
)

// InvoiceStatus is the rail-observed settlement state of an invoice.
type InvoiceStatus int

const (
	StatusUnpaid InvoiceStatus = iota
	StatusPaid
	StatusExpired
	StatusRefunded
)

// Invoice is what CreateInvoice returns: the opaque handle a rail needs to
// poll status or verify webhooks later.
type Invoice struct {
	ExternalID  string
	PaymentData []byte // opaque: BOLT11 string, checkout URL, ...
	Currency    string
}

// StatusResult is the outcome of PollStatus.
type StatusResult struct {
	Status InvoiceStatus
	PaidAt time.Time
	Fees   int64
}

// Event is a normalized settlement notification, produced either by
// PollStatus or by VerifyWebhook.
type Event struct {
	ExternalID string
	Status     InvoiceStatus
	PaidAt     time.Time
	Fees       int64
}

// Driver is implemented once per PaymentMethod.
type Driver interface {
	Kind() string

	CreateInvoice(ctx context.Context, amount int64, currency, memo string, expiry time.Duration) (Invoice, error)
	PollStatus(ctx context.Context, externalID string) (StatusResult, error)

	// Refund requests a refund of amount (in the invoice's native currency)
	// to destination, returning an opaque reference.
	Refund(ctx context.Context, externalID string, amount int64, destination string) (refundRef string, err error)

	// VerifyWebhook checks the request signature/HMAC and, on success,
	// returns the normalized Event it encodes. Verification must be
	// idempotent against replay: callers key settlement application on
	// Event.ExternalID, not on receiving the webhook itself.
	VerifyWebhook(ctx context.Context, headers map[string][]string, body []byte) (Event, error)
}

// Registry resolves a Driver by PaymentMethod.
type Registry struct {
	drivers map[string]Driver
}

func NewRegistry() *Registry { return &Registry{drivers: make(map[string]Driver)} }

func (r *Registry) Register(d Driver) { r.drivers[d.Kind()] = d }

func (r *Registry) Resolve(kind string) (Driver, bool) {
	d, ok := r.drivers[kind]
	return d, ok
}
