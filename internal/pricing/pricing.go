// Package pricing derives legacy single-currency prices from dual-currency
// amounts. Stored legacy prices are always in domain.BaseCurrency and are
// rounded half-up to two decimals before they reach storage.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
)

const Places = 2

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidRate         = errors.New("exchange rate must be greater than zero")
)

// Round applies half-up rounding to two decimals. decimal.Round rounds half
// away from zero, which matches half-up for the non-negative amounts we store.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// Convert multiplies amount by rate and rounds the result for storage.
func Convert(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// ToDisplayCurrency returns amount unchanged (rounded) when it is already in
// the base currency and amount*rate otherwise.
func ToDisplayCurrency(amount decimal.Decimal, currency domain.Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	switch currency {
	case domain.BaseCurrency:
		return Round(amount), nil
	case domain.CurrencyUSD:
		if !rate.IsPositive() {
			return decimal.Zero, ErrInvalidRate
		}
		return Convert(amount, rate), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
}

// ApplyLegacyPrices fills SalePrice and CostPrice of p from its dual-currency
// fields. rate is the foreign->base rate and may be zero when both prices are
// already in the base currency.
func ApplyLegacyPrices(p *domain.Product, rate decimal.Decimal) error {
	sale, err := ToDisplayCurrency(p.SalePriceAmount, p.SalePriceCurrency, rate)
	if err != nil {
		return fmt.Errorf("sale price: %w", err)
	}
	cost, err := ToDisplayCurrency(p.CostPriceAmount, p.CostPriceCurrency, rate)
	if err != nil {
		return fmt.Errorf("cost price: %w", err)
	}
	p.SalePrice = sale
	p.CostPrice = cost
	return nil
}

// NeedsRate reports whether deriving p's legacy prices requires an exchange rate.
func NeedsRate(p domain.Product) bool {
	return p.SalePriceCurrency != domain.BaseCurrency || p.CostPriceCurrency != domain.BaseCurrency
}

// Reprice recomputes the legacy columns of p that are priced in from. It is
// idempotent: a second call with the same rate produces identical values.
func Reprice(p *domain.Product, from domain.Currency, rate decimal.Decimal, at time.Time) (saleTouched bool, costTouched bool) {
	if p.SalePriceCurrency == from {
		p.SalePrice = Convert(p.SalePriceAmount, rate)
		saleTouched = true
	}
	if p.CostPriceCurrency == from {
		p.CostPrice = Convert(p.CostPriceAmount, rate)
		costTouched = true
	}
	if saleTouched || costTouched {
		stamp := at.UTC()
		p.LastRecalculatedAt = &stamp
	}
	return saleTouched, costTouched
}

func ValidatePair(from domain.Currency, to domain.Currency) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, to)
	}
	if from == to {
		return fmt.Errorf("%w: currency_from and currency_to must differ", ErrUnsupportedCurrency)
	}
	return nil
}
