package paymentrail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockCreateAndPollStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	inv, err := m.CreateInvoice(ctx, 1000, "BTC", "renewal", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, inv.ExternalID)

	res, err := m.PollStatus(ctx, inv.ExternalID)
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, res.Status)

	m.Settle(inv.ExternalID, 5)
	res, err = m.PollStatus(ctx, inv.ExternalID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Status)
	require.False(t, res.PaidAt.IsZero())
}

func TestMockPollStatusUnknownInvoice(t *testing.T) {
	m := NewMock()
	_, err := m.PollStatus(context.Background(), "missing")
	require.Error(t, err)
}

func TestMockRefund(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	inv, err := m.CreateInvoice(ctx, 1000, "BTC", "renewal", time.Hour)
	require.NoError(t, err)

	ref, err := m.Refund(ctx, inv.ExternalID, 500, "addr")
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	_, err = m.Refund(ctx, "missing", 500, "addr")
	require.Error(t, err)
}

func TestMockVerifyWebhookUnsupported(t *testing.T) {
	m := NewMock()
	_, err := m.VerifyWebhook(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	m := NewMock()
	r.Register(m)

	got, ok := r.Resolve("mock")
	require.True(t, ok)
	require.Same(t, m, got)

	_, ok = r.Resolve("lightning")
	require.False(t, ok)
}
