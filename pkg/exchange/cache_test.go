package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConvertSameCurrency(t *testing.T) {
	c := NewCache(nil)
	amt := FromFloat(EUR, 10)
	out, err := c.Convert(amt, EUR)
	require.NoError(t, err)
	require.Equal(t, amt, out)
}

func TestConvertDirectAndInverse(t *testing.T) {
	c := NewCache(nil)
	c.Set(BTCTicker(EUR), 50_000, time.Now())

	btc := FromFloat(BTC, 0.001)
	eur, err := c.Convert(btc, EUR)
	require.NoError(t, err)
	require.InDelta(t, 50.0, eur.Float(), 0.01)

	back, err := c.Convert(eur, BTC)
	require.NoError(t, err)
	require.InDelta(t, btc.Float(), back.Float(), 0.0000001)
}

func TestConvertPivotsThroughBTC(t *testing.T) {
	c := NewCache(nil)
	c.Set(BTCTicker(EUR), 50_000, time.Now())
	c.Set(BTCTicker(USD), 55_000, time.Now())

	eur := FromFloat(EUR, 50)
	usd, err := c.Convert(eur, USD)
	require.NoError(t, err)

	viaBTC, err := c.Convert(eur, BTC)
	require.NoError(t, err)
	direct, err := c.Convert(viaBTC, USD)
	require.NoError(t, err)

	require.InDelta(t, direct.Float(), usd.Float(), 0.01)
}

func TestConvertRateUnavailable(t *testing.T) {
	c := NewCache(nil)
	_, err := c.Convert(FromFloat(EUR, 10), USD)
	require.Error(t, err)
}

func TestLastWriterWinsByFetchTime(t *testing.T) {
	c := NewCache(nil)
	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	c.Set(BTCTicker(EUR), 60_000, newer)
	c.Set(BTCTicker(EUR), 50_000, older) // stale write, must not clobber

	rate, ok := c.Get(BTCTicker(EUR))
	require.True(t, ok)
	require.Equal(t, 60_000.0, rate)
}
