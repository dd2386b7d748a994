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

// Revolut creates and settles fiat card/bank orders through Revolut
// Merchant API's REST interface, a cash-rail alternative to Lightning for
// fiat-paying customers.
type Revolut struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Client        *http.Client
}

func NewRevolut(baseURL, apiKey, webhookSecret string) *Revolut {
	return &Revolut{BaseURL: baseURL, APIKey: apiKey, WebhookSecret: webhookSecret, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (r *Revolut) Kind() string { return "revolut" }

func (r *Revolut) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return lnvpserr.Fatal(err, "encoding revolut request body")
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reqBody)
	if err != nil {
		return lnvpserr.Fatal(err, "building revolut request")
	}
	req.Header.Set("Authorization", "Bearer "+r.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return lnvpserr.TransientRemote(err, "calling revolut %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "revolut %s %s", method, path)
	}
	if resp.StatusCode == http.StatusNotFound {
		return lnvpserr.NotFound("revolut %s %s", method, path)
	}
	if resp.StatusCode >= 400 {
		return lnvpserr.TerminalRemote(fmt.Errorf("status %d", resp.StatusCode), "revolut %s %s", method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return lnvpserr.TerminalRemote(err, "decoding revolut response")
		}
	}
	return nil
}

type revolutOrderRequest struct {
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type revolutOrderResponse struct {
	ID           string `json:"id"`
	CheckoutURL  string `json:"checkout_url"`
	State        string `json:"state"`
}

func (r *Revolut) CreateInvoice(ctx context.Context, amount int64, currency, memo string, expiry time.Duration) (Invoice, error) {
	var resp revolutOrderResponse
	err := r.do(ctx, http.MethodPost, "/api/orders", revolutOrderRequest{
		Amount:      amount,
		Currency:    currency,
		Description: memo,
	}, &resp)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{ExternalID: resp.ID, PaymentData: []byte(resp.CheckoutURL), Currency: currency}, nil
}

func (r *Revolut) PollStatus(ctx context.Context, externalID string) (StatusResult, error) {
	var resp revolutOrderResponse
	if err := r.do(ctx, http.MethodGet, "/api/orders/"+externalID, nil, &resp); err != nil {
		return StatusResult{}, err
	}
	switch resp.State {
	case "completed":
		return StatusResult{Status: StatusPaid, PaidAt: time.Now()}, nil
	case "cancelled", "failed":
		return StatusResult{Status: StatusExpired}, nil
	default:
		return StatusResult{Status: StatusUnpaid}, nil
	}
}

func (r *Revolut) Refund(ctx context.Context, externalID string, amount int64, destination string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := r.do(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%s/refund", externalID), map[string]int64{"amount": amount}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

type revolutWebhookPayload struct {
	Event string `json:"event"`
	Order struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"order"`
}

// VerifyWebhook checks Revolut's HMAC-SHA256 "Revolut-Signature" header,
// computed over "v1." + timestamp + "." + body, per Revolut's documented
// webhook verification scheme.
func (r *Revolut) VerifyWebhook(ctx context.Context, headers map[string][]string, body []byte) (Event, error) {
	sig := firstHeader(headers, "Revolut-Signature")
	timestamp := firstHeader(headers, "Revolut-Request-Timestamp")
	if sig == "" || timestamp == "" {
		return Event{}, lnvpserr.Auth("missing revolut webhook signature headers")
	}

	mac := hmac.New(sha256.New, []byte(r.WebhookSecret))
	mac.Write([]byte("v1."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := "v1=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return Event{}, lnvpserr.Auth("invalid revolut webhook signature")
	}

	var payload revolutWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, lnvpserr.Validation("malformed revolut webhook body: %v", err)
	}

	status := StatusUnpaid
	if payload.Order.State == "completed" {
		status = StatusPaid
	}
	return Event{ExternalID: payload.Order.ID, Status: status, PaidAt: time.Now()}, nil
}
