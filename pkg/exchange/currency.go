// Package exchange implements the Exchange Rate Cache:
// a periodic puller that stores the latest observed BTC<->fiat rate per
// Ticker and converts between any pair of supported currencies, pivoting
// through BTC when no direct rate is cached. A sync.RWMutex-guarded cache
// behind a small RateSource interface, so new upstreams plug in without
// touching Cache itself.
package exchange

import (
	"fmt"
	"math"
	"strings"
)

// Currency is one of the fiat/BTC currencies the platform prices in.
type Currency string

const (
	BTC Currency = "BTC"
	EUR Currency = "EUR"
	USD Currency = "USD"
	GBP Currency = "GBP"
	CAD Currency = "CAD"
	CHF Currency = "CHF"
	AUD Currency = "AUD"
	JPY Currency = "JPY"
)

var knownCurrencies = map[Currency]struct{}{
	BTC: {}, EUR: {}, USD: {}, GBP: {}, CAD: {}, CHF: {}, AUD: {}, JPY: {},
}

// ParseCurrency parses a currency code case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(s))
	if _, ok := knownCurrencies[c]; !ok {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// smallestUnitScale returns the number of smallest units per whole unit:
// milli-satoshis for BTC, cents for everything else.
func (c Currency) smallestUnitScale() float64 {
	if c == BTC {
		return 1.0e11 // 1 BTC = 1e8 sats = 1e11 millisats
	}
	return 100
}

// Ticker identifies a base/quote currency pair, e.g. Ticker{BTC, EUR}.
type Ticker struct {
	Base  Currency
	Quote Currency
}

func (t Ticker) String() string { return fmt.Sprintf("%s/%s", t.Base, t.Quote) }

// Inverse returns the ticker with base and quote swapped.
func (t Ticker) Inverse() Ticker { return Ticker{Base: t.Quote, Quote: t.Base} }

// BTCTicker builds the BTC/cur ticker used for pivot lookups.
func BTCTicker(cur Currency) Ticker { return Ticker{Base: BTC, Quote: cur} }

// Amount is an integer amount in the smallest unit of Currency (millisats
// for BTC, cents for fiat). Floating point is used only at the conversion
// boundary and for the rate itself, never to carry an amount at rest.
type Amount struct {
	Currency Currency
	Value    int64
}

// FromFloat builds an Amount from a human-readable quantity (e.g. 11.90 EUR,
// 0.001 BTC).
func FromFloat(currency Currency, v float64) Amount {
	return Amount{Currency: currency, Value: int64(math.Round(v * currency.smallestUnitScale()))}
}

// Float returns the human-readable quantity represented by a.
func (a Amount) Float() float64 {
	return float64(a.Value) / a.Currency.smallestUnitScale()
}

func (a Amount) String() string {
	return fmt.Sprintf("%.8f %s", a.Float(), a.Currency)
}
