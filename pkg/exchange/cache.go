package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// DefaultFetchInterval is the default rate-refresh period.
const DefaultFetchInterval = 120 * time.Second

// RateSource fetches a batch of ticker rates from an upstream (a price API,
// an exchange, ...). Cache accepts a list of sources so a fallback source
// can be configured if the primary upstream becomes unreachable.
type RateSource interface {
	Name() string
	FetchRates(ctx context.Context) ([]TickerRate, error)
}

// TickerRate is one observed rate: 1 unit of Ticker.Base buys Rate units of
// Ticker.Quote.
type TickerRate struct {
	Ticker Ticker
	Rate   float64
}

type observation struct {
	rate      float64
	observed  time.Time
	fetchedAt time.Time
}

// Cache is the Exchange Rate Cache. It holds the latest observed rate per
// Ticker; on Set, last-writer-wins by fetch timestamp across all sources.
type Cache struct {
	mu     sync.RWMutex
	rates  map[Ticker]observation
	logger *slog.Logger
}

// NewCache creates an empty Cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rates: make(map[Ticker]observation), logger: logger}
}

// Set records an observed rate for ticker. If an existing observation is
// newer (later fetchedAt), it is kept — readers never see a stale write
// clobber a fresher one.
func (c *Cache) Set(ticker Ticker, rate float64, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.rates[ticker]
	if ok && existing.fetchedAt.After(fetchedAt) {
		return
	}
	c.rates[ticker] = observation{rate: rate, observed: time.Now(), fetchedAt: fetchedAt}
}

// Get returns the last observed rate for ticker, if any.
func (c *Cache) Get(ticker Ticker) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.rates[ticker]
	return obs.rate, ok
}

// ListRates returns a snapshot of every cached ticker rate.
func (c *Cache) ListRates() []TickerRate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TickerRate, 0, len(c.rates))
	for t, obs := range c.rates {
		out = append(out, TickerRate{Ticker: t, Rate: obs.rate})
	}
	return out
}

// Convert converts amount into target currency:
//  1. same currency: unchanged.
//  2. direct or inverse ticker: apply or invert.
//  3. otherwise pivot through BTC: require both BTC/source and BTC/target.
//  4. no path: RateUnavailable (lnvpserr.KindNotFound).
func (c *Cache) Convert(amount Amount, target Currency) (Amount, error) {
	if amount.Currency == target {
		return amount, nil
	}

	if rate, ok := c.Get(Ticker{Base: amount.Currency, Quote: target}); ok {
		return FromFloat(target, amount.Float()*rate), nil
	}
	if rate, ok := c.Get(Ticker{Base: target, Quote: amount.Currency}); ok {
		return FromFloat(target, amount.Float()/rate), nil
	}

	if amount.Currency == BTC || target == BTC {
		return Amount{}, lnvpserr.NotFound("rate unavailable: no ticker for %s/%s", amount.Currency, target)
	}

	toBTC, ok := c.Get(BTCTicker(amount.Currency))
	if !ok {
		return Amount{}, lnvpserr.NotFound("rate unavailable: no BTC pivot rate for %s", amount.Currency)
	}
	toTarget, ok := c.Get(BTCTicker(target))
	if !ok {
		return Amount{}, lnvpserr.NotFound("rate unavailable: no BTC pivot rate for %s", target)
	}

	btcAmount := FromFloat(BTC, amount.Float()/toBTC)
	return FromFloat(target, btcAmount.Float()*toTarget), nil
}

// Run starts the periodic puller: every interval, FetchRates is called on
// every source and the results are merged into the cache with Set. Run
// blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, sources []RateSource, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFetchInterval
	}

	c.fetchOnce(ctx, sources)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetchOnce(ctx, sources)
		}
	}
}

func (c *Cache) fetchOnce(ctx context.Context, sources []RateSource) {
	now := time.Now()
	for _, src := range sources {
		rates, err := src.FetchRates(ctx)
		if err != nil {
			c.logger.Warn("exchange rate fetch failed", "source", src.Name(), "error", err)
			continue
		}
		for _, r := range rates {
			c.Set(r.Ticker, r.Rate, now)
		}
	}
}
