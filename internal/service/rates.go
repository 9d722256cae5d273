package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tiendapos/internal/domain"
	"tiendapos/internal/events"
	"tiendapos/internal/pricing"
	"tiendapos/internal/store"
)

func (s *Service) GetExchangeRate(ctx context.Context, from string, to string) (domain.ExchangeRate, error) {
	fromCurrency, toCurrency, err := parsePair(from, to)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	rate, err := s.lookupRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	return *rate, nil
}

// lookupRate reads through the rate cache. Cache failures only cost a
// repository round trip. Cached entries may lag a concurrent update by up to
// the TTL, so anything that persists prices uses storedRate instead.
func (s *Service) lookupRate(ctx context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, error) {
	cached, ok, err := s.rates.Get(ctx, from, to)
	if err != nil {
		s.logger.Warn("rate cache read failed", zap.String("pair", string(from)+"->"+string(to)), zap.Error(err))
	}
	if ok && cached != nil {
		return cached, nil
	}

	rate, err := s.repo.GetExchangeRate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := s.rates.Set(ctx, *rate, s.rateTTL); err != nil {
		s.logger.Warn("rate cache write failed", zap.String("pair", string(from)+"->"+string(to)), zap.Error(err))
	}
	return rate, nil
}

func (s *Service) storedRate(ctx context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, error) {
	return s.repo.GetExchangeRate(ctx, from, to)
}

func (s *Service) ListExchangeRateHistory(ctx context.Context, from string, to string, limit int) ([]domain.ExchangeRateChange, error) {
	fromCurrency, toCurrency, err := parsePair(from, to)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListExchangeRateHistory(ctx, fromCurrency, toCurrency, limit)
}

// UpdateExchangeRate stores a new rate, recording the previous one to history,
// and then reprices every product priced in the source currency. Repricing
// problems after the rate is stored are reported as warnings.
func (s *Service) UpdateExchangeRate(ctx context.Context, req domain.ExchangeRateUpdateRequest) (domain.ExchangeRateUpdateResponse, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ExchangeRateUpdateResponse{}, err
	}
	from, to, err := parsePair(req.CurrencyFrom, req.CurrencyTo)
	if err != nil {
		return domain.ExchangeRateUpdateResponse{}, err
	}
	if !req.Rate.IsPositive() {
		return domain.ExchangeRateUpdateResponse{}, fmt.Errorf("%w: rate must be greater than zero", store.ErrValidation)
	}
	changedBy := strings.TrimSpace(req.ChangedBy)
	if changedBy == "" {
		actor, _ := ActorFromContext(ctx)
		changedBy = actor.Username
	}

	change, err := s.repo.UpdateExchangeRate(ctx, domain.ExchangeRate{
		CurrencyFrom: from,
		CurrencyTo:   to,
		Rate:         req.Rate,
	}, changedBy)
	if err != nil {
		return domain.ExchangeRateUpdateResponse{}, err
	}

	rate := domain.ExchangeRate{CurrencyFrom: from, CurrencyTo: to, Rate: change.NewRate, UpdatedAt: change.CreatedAt}

	// Overwrite rather than drop the entry, so a reader that missed the cache
	// before the commit cannot leave the old rate behind for a whole TTL.
	var warnings []string
	if err := s.rates.Set(ctx, rate, s.rateTTL); err != nil {
		s.logger.Warn("rate cache refresh failed", zap.String("pair", string(from)+"->"+string(to)), zap.Error(err))
		if err := s.rates.Invalidate(ctx, from, to); err != nil {
			warnings = append(warnings, fmt.Sprintf("rate cache invalidation failed: %v", err))
		}
	}

	oldRate := "none"
	if change.OldRate.Valid {
		oldRate = change.OldRate.Decimal.String()
	}
	s.logAudit(ctx, "exchange_rate_update", "exchange_rate", string(from)+":"+string(to),
		fmt.Sprintf("old=%s,new=%s,by=%s", oldRate, change.NewRate, changedBy))
	s.publish(ctx, events.TypeRateUpdated, string(from)+":"+string(to), change)

	resp := domain.ExchangeRateUpdateResponse{
		Rate:   rate,
		Change: *change,
		Recalc: domain.RecalcResult{CurrencyFrom: from, CurrencyTo: to, Rate: change.NewRate},
	}
	if to == domain.BaseCurrency {
		recalc, err := s.recalc(ctx, from, to, change.NewRate)
		if err != nil {
			s.logger.Warn("price recalculation after rate update failed", zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("price recalculation failed: %v", err))
		} else {
			resp.Recalc = recalc
		}
	}
	resp.Warnings = warnings
	return resp, nil
}

// RecalcAllPrices recomputes the legacy base-currency columns of every product
// priced in the source currency. Re-running it with the same rate stores the
// same values.
func (s *Service) RecalcAllPrices(ctx context.Context, req domain.RecalcRequest) (domain.RecalcResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.RecalcResult{}, err
	}
	from, to, err := parsePair(req.CurrencyFrom, req.CurrencyTo)
	if err != nil {
		return domain.RecalcResult{}, err
	}
	if to != domain.BaseCurrency {
		return domain.RecalcResult{}, fmt.Errorf("%w: legacy prices are kept in %s", store.ErrValidation, domain.BaseCurrency)
	}

	var rate decimal.Decimal
	if req.Rate != nil {
		rate = *req.Rate
	} else {
		current, err := s.storedRate(ctx, from, to)
		if err != nil {
			return domain.RecalcResult{}, err
		}
		rate = current.Rate
	}
	if !rate.IsPositive() {
		return domain.RecalcResult{}, fmt.Errorf("%w: rate must be greater than zero", store.ErrValidation)
	}

	return s.recalc(ctx, from, to, rate)
}

func (s *Service) recalc(ctx context.Context, from domain.Currency, to domain.Currency, rate decimal.Decimal) (domain.RecalcResult, error) {
	at := s.now().UTC()
	saleUpdated, costUpdated, err := s.repo.RepriceProducts(ctx, from, rate, at)
	if err != nil {
		return domain.RecalcResult{}, err
	}

	result := domain.RecalcResult{
		CurrencyFrom:        from,
		CurrencyTo:          to,
		Rate:                rate,
		UpdatedSaleProducts: saleUpdated,
		UpdatedCostProducts: costUpdated,
		Timestamp:           at,
	}
	s.logAudit(ctx, "prices_recalculate", "product", string(from),
		fmt.Sprintf("rate=%s,sale=%d,cost=%d", rate, saleUpdated, costUpdated))
	s.publish(ctx, events.TypePricesRecalculated, string(from)+":"+string(to), result)
	return result, nil
}

// parsePair defaults to USD->CUP and rejects unsupported or identical currencies.
func parsePair(from string, to string) (domain.Currency, domain.Currency, error) {
	fromCurrency := parseCurrencyOr(from, domain.CurrencyUSD)
	toCurrency := parseCurrencyOr(to, domain.BaseCurrency)
	if err := pricing.ValidatePair(fromCurrency, toCurrency); err != nil {
		if errors.Is(err, pricing.ErrUnsupportedCurrency) {
			return "", "", fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		return "", "", err
	}
	return fromCurrency, toCurrency, nil
}
