package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// MempoolSource fetches BTC/fiat rates from mempool.space's public price
// API over a plain net/http client.
type MempoolSource struct {
	BaseURL string
	Client  *http.Client
}

// NewMempoolSource creates a MempoolSource pointed at the default
// mempool.space endpoint.
func NewMempoolSource() *MempoolSource {
	return &MempoolSource{
		BaseURL: "https://mempool.space/api/v1/prices",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *MempoolSource) Name() string { return "mempool.space" }

type mempoolRates struct {
	USD *float64 `json:"USD"`
	EUR *float64 `json:"EUR"`
	GBP *float64 `json:"GBP"`
	CAD *float64 `json:"CAD"`
	CHF *float64 `json:"CHF"`
	AUD *float64 `json:"AUD"`
	JPY *float64 `json:"JPY"`
}

// FetchRates implements RateSource.
func (m *MempoolSource) FetchRates(ctx context.Context) ([]TickerRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL, nil)
	if err != nil {
		return nil, lnvpserr.Fatal(err, "building mempool rates request")
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, lnvpserr.TransientRemote(err, "fetching mempool rates")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, lnvpserr.TransientRemote(fmt.Errorf("status %d", resp.StatusCode), "mempool rates upstream")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, lnvpserr.TerminalRemote(fmt.Errorf("status %d", resp.StatusCode), "mempool rates upstream")
	}

	var rates mempoolRates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, lnvpserr.TerminalRemote(err, "decoding mempool rates response")
	}

	var out []TickerRate
	add := func(cur Currency, v *float64) {
		if v != nil {
			out = append(out, TickerRate{Ticker: BTCTicker(cur), Rate: *v})
		}
	}
	add(USD, rates.USD)
	add(EUR, rates.EUR)
	add(GBP, rates.GBP)
	add(CAD, rates.CAD)
	add(CHF, rates.CHF)
	add(AUD, rates.AUD)
	add(JPY, rates.JPY)

	return out, nil
}
