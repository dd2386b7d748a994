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

func newTestRevolut(t *testing.T) *Revolut {
	r := NewRevolut("https://merchant.revolut.com", "api-key", "whsec")
	httpmock.ActivateNonDefault(r.Client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return r
}

func TestRevolutCreateInvoice(t *testing.T) {
	r := newTestRevolut(t)
	httpmock.RegisterResponder(http.MethodPost, "https://merchant.revolut.com/api/orders",
		httpmock.NewJsonResponderOrPanic(200, revolutOrderResponse{ID: "ord_1", CheckoutURL: "https://pay.example/ord_1", State: "pending"}))

	inv, err := r.CreateInvoice(context.Background(), 1000, "EUR", "lnvps vm renewal", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "ord_1", inv.ExternalID)
	require.Equal(t, "https://pay.example/ord_1", string(inv.PaymentData))
}

func TestRevolutPollStatus(t *testing.T) {
	r := newTestRevolut(t)

	cases := []struct {
		state string
		want  InvoiceStatus
	}{
		{"completed", StatusPaid},
		{"cancelled", StatusExpired},
		{"pending", StatusUnpaid},
	}
	for _, c := range cases {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, "https://merchant.revolut.com/api/orders/ord_1",
			httpmock.NewJsonResponderOrPanic(200, revolutOrderResponse{ID: "ord_1", State: c.state}))

		res, err := r.PollStatus(context.Background(), "ord_1")
		require.NoError(t, err)
		require.Equal(t, c.want, res.Status)
	}
}

func TestRevolutVerifyWebhookMissingHeaders(t *testing.T) {
	r := newTestRevolut(t)
	_, err := r.VerifyWebhook(context.Background(), map[string][]string{}, []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindAuth, lnvpserr.KindOf(err))
}

func TestRevolutVerifyWebhookValidSignature(t *testing.T) {
	r := newTestRevolut(t)
	body := []byte(`{"event":"ORDER_COMPLETED","order":{"id":"ord_1","state":"completed"}}`)
	timestamp := "1700000000"

	mac := hmac.New(sha256.New, []byte(r.WebhookSecret))
	mac.Write([]byte("v1."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := "v1=" + hex.EncodeToString(mac.Sum(nil))

	headers := map[string][]string{
		"Revolut-Signature":         {sig},
		"Revolut-Request-Timestamp": {timestamp},
	}
	ev, err := r.VerifyWebhook(context.Background(), headers, body)
	require.NoError(t, err)
	require.Equal(t, "ord_1", ev.ExternalID)
	require.Equal(t, StatusPaid, ev.Status)
}

func TestRevolutVerifyWebhookInvalidSignature(t *testing.T) {
	r := newTestRevolut(t)
	body := []byte(`{"event":"ORDER_COMPLETED","order":{"id":"ord_1","state":"completed"}}`)
	headers := map[string][]string{
		"Revolut-Signature":         {"v1=deadbeef"},
		"Revolut-Request-Timestamp": {"1700000000"},
	}
	_, err := r.VerifyWebhook(context.Background(), headers, body)
	require.Error(t, err)
	require.Equal(t, lnvpserr.KindAuth, lnvpserr.KindOf(err))
}
