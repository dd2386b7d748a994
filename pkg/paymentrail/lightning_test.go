package paymentrail

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

func newTestLightning(t *testing.T) *Lightning {
	l := NewLightning("https://lnd:8080", "deadbeef", "whsec")
	httpmock.ActivateNonDefault(l.Client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return l
}

func TestLightningCreateInvoice(t *testing.T) {
	l := newTestLightning(t)
	httpmock.RegisterResponder(http.MethodPost, "https://lnd:8080/v1/invoices",
		httpmock.NewJsonResponderOrPanic(200, lndAddInvoiceResponse{PaymentRequest: "lnbc1...", RHash: "hash1"}))

	inv, err := l.CreateInvoice(context.Background(), 100_000, "BTC", "lnvps vm renewal", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "hash1", inv.ExternalID)
	require.Equal(t, "lnbc1...", string(inv.PaymentData))
}

func TestLightningPollStatus(t *testing.T) {
	l := newTestLightning(t)

	cases := []struct {
		state string
		want  InvoiceStatus
	}{
		{"SETTLED", StatusPaid},
		{"CANCELED", StatusExpired},
		{"OPEN", StatusUnpaid},
	}
	for _, c := range cases {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, "https://lnd:8080/v1/invoice/hash1",
			httpmock.NewJsonResponderOrPanic(200, lndInvoiceResponse{State: c.state, SettleDate: "1700000000"}))

		res, err := l.PollStatus(context.Background(), "hash1")
		require.NoError(t, err)
		require.Equal(t, c.want, res.Status)
	}
}

func TestLightningRefundUnsupported(t *testing.T) {
	l := newTestLightning(t)
	_, err := l.Refund(context.Background(), "hash1", 1000, "addr")
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindTerminalRemote, lnvpserr.KindOf(err))
}

func TestLightningVerifyWebhookValidSignature(t *testing.T) {
	l := newTestLightning(t)
	body := []byte(`{"r_hash":"hash1","state":"SETTLED","settle_date":"1700000000"}`)

	mac := hmac.New(sha256.New, []byte(l.WebhookSecret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	headers := map[string][]string{"X-Lnvps-Signature": {sig}}
	ev, err := l.VerifyWebhook(context.Background(), headers, body)
	require.NoError(t, err)
	require.Equal(t, "hash1", ev.ExternalID)
	require.Equal(t, StatusPaid, ev.Status)
}

func TestLightningVerifyWebhookMissingHeader(t *testing.T) {
	l := newTestLightning(t)
	_, err := l.VerifyWebhook(context.Background(), map[string][]string{}, []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindAuth, lnvpserr.KindOf(err))
}

func TestLightningVerifyWebhookInvalidSignature(t *testing.T) {
	l := newTestLightning(t)
	body := []byte(`{"r_hash":"hash1","state":"SETTLED","settle_date":"1700000000"}`)
	headers := map[string][]string{"X-Lnvps-Signature": {"deadbeef"}}
	_, err := l.VerifyWebhook(context.Background(), headers, body)
	require.Error(t, err)
}

func TestEqualFoldASCII(t *testing.T) {
	require.True(t, equalFoldASCII("X-Lnvps-Signature", "x-lnvps-signature"))
	require.False(t, equalFoldASCII("X-Lnvps-Signature", "x-lnvps-signatur"))
}

func TestFirstHeaderCaseInsensitive(t *testing.T) {
	headers := map[string][]string{"X-Lnvps-Signature": {"abc"}}
	require.Equal(t, "abc", firstHeader(headers, "x-lnvps-signature"))
	require.Equal(t, "", firstHeader(headers, "missing"))
}
