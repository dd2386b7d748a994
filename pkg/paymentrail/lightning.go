package paymentrail

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// Lightning creates and settles BOLT11 invoices through an LND node's REST
// API, authenticated with a macaroon (the credential shape stored
// encrypted in the rail's configuration).
type Lightning struct {
	BaseURL  string // e.g. "https://lnd:8080"
	Macaroon string // hex-encoded
	WebhookSecret string
	Client   *http.Client
}

func NewLightning(baseURL, macaroon, webhookSecret string) *Lightning {
	return &Lightning{
		BaseURL:       baseURL,
		Macaroon:      macaroon,
		WebhookSecret: webhookSecret,
		Client:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (l *Lightning) Kind() string { return "lightning" }

func (l *Lightning) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return lnvpserr.Fatal(err, "encoding lnd request body")
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.BaseURL+path, reqBody)
	if err != nil {
		return lnvpserr.Fatal(err, "building lnd request")
	}
	req.Header.Set("Grpc-Metadata-macaroon", l.Macaroon)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.Client.Do(req)
	if err != nil {
		return lnvpserr.TransientRemote(err, "calling lnd %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "lnd %s %s", method, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return lnvpserr.NotFound("lnd %s %s", method, path)
	}
	if resp.StatusCode >= 400 {
		return lnvpserr.TerminalRemote(fmt.Errorf("status %d", resp.StatusCode), "lnd %s %s", method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return lnvpserr.TerminalRemote(err, "decoding lnd response")
		}
	}
	return nil
}

type lndAddInvoiceRequest struct {
	ValueMsat int64  `json:"value_msat"`
	Memo      string `json:"memo"`
	Expiry    int64  `json:"expiry"`
}

type lndAddInvoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
}

// CreateInvoice creates a BOLT11 invoice for amount millisats (amount/currency
// is already the rail-native unit by the time the Capacity & Pricing
// Engine calls here: invoice amounts are converted via the exchange rate
// cache before dispatch).
func (l *Lightning) CreateInvoice(ctx context.Context, amount int64, currency, memo string, expiry time.Duration) (Invoice, error) {
	var resp lndAddInvoiceResponse
	err := l.do(ctx, http.MethodPost, "/v1/invoices", lndAddInvoiceRequest{
		ValueMsat: amount,
		Memo:      memo,
		Expiry:    int64(expiry.Seconds()),
	}, &resp)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{
		ExternalID:  resp.RHash,
		PaymentData: []byte(resp.PaymentRequest),
		Currency:    currency,
	}, nil
}

type lndInvoiceResponse struct {
	State      string `json:"state"` // OPEN, SETTLED, CANCELED, ACCEPTED
	SettleDate string `json:"settle_date"`
	AmtPaidSat string `json:"amt_paid_sat"`
}

func (l *Lightning) PollStatus(ctx context.Context, externalID string) (StatusResult, error) {
	var resp lndInvoiceResponse
	if err := l.do(ctx, http.MethodGet, "/v1/invoice/"+externalID, nil, &resp); err != nil {
		return StatusResult{}, err
	}
	switch resp.State {
	case "SETTLED":
		var settleUnix int64
		fmt.Sscanf(resp.SettleDate, "%d", &settleUnix)
		return StatusResult{Status: StatusPaid, PaidAt: time.Unix(settleUnix, 0)}, nil
	case "CANCELED":
		return StatusResult{Status: StatusExpired}, nil
	default:
		return StatusResult{Status: StatusUnpaid}, nil
	}
}

// Refund: Lightning invoices are not refundable on-protocol; a refund is
// paid out as a fresh outbound payment by the admin tooling, outside
// lnvpsd's scope. Returns a TerminalRemote error so the Provisioner never
// silently no-ops a requested refund.
func (l *Lightning) Refund(ctx context.Context, externalID string, amount int64, destination string) (string, error) {
	return "", lnvpserr.TerminalRemote(fmt.Errorf("lightning rail has no refund API"), "refunding invoice %s", externalID)
}

type lndWebhookPayload struct {
	RHash      string `json:"r_hash"`
	State      string `json:"state"`
	SettleDate string `json:"settle_date"`
	AmtPaidSat string `json:"amt_paid_sat"`
}

// VerifyWebhook checks the HMAC-SHA256 signature LND's invoice-webhook
// proxy attaches (X-Lnvps-Signature), then decodes the settlement event.
func (l *Lightning) VerifyWebhook(ctx context.Context, headers map[string][]string, body []byte) (Event, error) {
	sigHeader := firstHeader(headers, "X-Lnvps-Signature")
	if sigHeader == "" {
		return Event{}, lnvpserr.Auth("missing webhook signature header")
	}

	mac := hmac.New(sha256.New, []byte(l.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return Event{}, lnvpserr.Auth("invalid webhook signature")
	}

	var payload lndWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, lnvpserr.Validation("malformed webhook body: %v", err)
	}

	status := StatusUnpaid
	if payload.State == "SETTLED" {
		status = StatusPaid
	}
	var settleUnix int64
	fmt.Sscanf(payload.SettleDate, "%d", &settleUnix)

	return Event{ExternalID: payload.RHash, Status: status, PaidAt: time.Unix(settleUnix, 0)}, nil
}

func firstHeader(headers map[string][]string, key string) string {
	for k, v := range headers {
		if len(v) > 0 && equalFoldASCII(k, key) {
			return v[0]
		}
	}
	return ""
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
