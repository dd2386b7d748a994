package paymentrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Mock is a test-substitutable Driver holding invoices in memory. Settle
// lets a test move an invoice straight to Paid without going through
// VerifyWebhook.
type Mock struct {
	mu       sync.Mutex
	invoices map[string]*mockInvoice
	next     int
	Fault    error
}

type mockInvoice struct {
	status   InvoiceStatus
	amount   int64
	currency string
	paidAt   time.Time
}

func NewMock() *Mock { return &Mock{invoices: make(map[string]*mockInvoice)} }

func (m *Mock) Kind() string { return "mock" }

func (m *Mock) CreateInvoice(ctx context.Context, amount int64, currency, memo string, expiry time.Duration) (Invoice, error) {
	if m.Fault != nil {
		return Invoice{}, m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("mock-inv-%d", m.next)
	m.invoices[id] = &mockInvoice{status: StatusUnpaid, amount: amount, currency: currency}
	return Invoice{ExternalID: id, PaymentData: []byte(memo), Currency: currency}, nil
}

func (m *Mock) PollStatus(ctx context.Context, externalID string) (StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[externalID]
	if !ok {
		return StatusResult{}, lnvpserr.NotFound("mock invoice %s", externalID)
	}
	return StatusResult{Status: inv.status, PaidAt: inv.paidAt}, nil
}

func (m *Mock) Refund(ctx context.Context, externalID string, amount int64, destination string) (string, error) {
	if m.Fault != nil {
		return "", m.Fault
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[externalID]; !ok {
		return "", lnvpserr.NotFound("mock invoice %s", externalID)
	}
	m.next++
	return fmt.Sprintf("mock-refund-%d", m.next), nil
}

func (m *Mock) VerifyWebhook(ctx context.Context, headers map[string][]string, body []byte) (Event, error) {
	return Event{}, lnvpserr.Validation("mock driver has no webhook transport; call Settle directly in tests")
}

// Settle marks externalID Paid, the test hook in place of a real webhook.
func (m *Mock) Settle(externalID string, fees int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[externalID]
	if !ok {
		return
	}
	inv.status = StatusPaid
	inv.paidAt = time.Now()
}
