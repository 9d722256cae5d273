package cache

import (
	"context"
	"fmt"
	"time"

	"tiendapos/internal/domain"
)

// RateCache holds exchange rates read through from the repository.
type RateCache interface {
	Get(ctx context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, bool, error)
	Set(ctx context.Context, rate domain.ExchangeRate, ttl time.Duration) error
	Invalidate(ctx context.Context, from domain.Currency, to domain.Currency) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ domain.Currency, _ domain.Currency) (*domain.ExchangeRate, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ domain.ExchangeRate, _ time.Duration) error {
	return nil
}

func (NoopRateCache) Invalidate(_ context.Context, _ domain.Currency, _ domain.Currency) error {
	return nil
}

func RateKey(from domain.Currency, to domain.Currency) string {
	return fmt.Sprintf("tiendapos:rate:%s:%s", from, to)
}
