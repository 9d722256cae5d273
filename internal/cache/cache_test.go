package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/internal/domain"
)

var (
	_ RateCache = NoopRateCache{}
	_ RateCache = (*RedisRateCache)(nil)
)

func TestNoopRateCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	c := NoopRateCache{}
	require.NoError(t, c.Set(ctx, domain.ExchangeRate{CurrencyFrom: domain.CurrencyUSD, CurrencyTo: domain.CurrencyCUP}, time.Minute))

	rate, ok, err := c.Get(ctx, domain.CurrencyUSD, domain.CurrencyCUP)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rate)
}

func TestRateKeyIsDirectional(t *testing.T) {
	assert.Equal(t, "tiendapos:rate:USD:CUP", RateKey(domain.CurrencyUSD, domain.CurrencyCUP))
	assert.NotEqual(t, RateKey(domain.CurrencyUSD, domain.CurrencyCUP), RateKey(domain.CurrencyCUP, domain.CurrencyUSD))
}

func TestRedisRateCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisRateCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	rate := domain.ExchangeRate{
		CurrencyFrom: domain.CurrencyUSD,
		CurrencyTo:   domain.CurrencyCUP,
		Rate:         decimal.RequireFromString("121.5"),
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, c.Set(ctx, rate, time.Minute))

	got, ok, err := c.Get(ctx, domain.CurrencyUSD, domain.CurrencyCUP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rate.Rate.Equal(got.Rate))

	require.NoError(t, c.Invalidate(ctx, domain.CurrencyUSD, domain.CurrencyCUP))
	_, ok, err = c.Get(ctx, domain.CurrencyUSD, domain.CurrencyCUP)
	require.NoError(t, err)
	assert.False(t, ok)
}
