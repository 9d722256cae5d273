package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
	"tiendapos/internal/pricing"
)

// ApplyPatch merges patch into product. When the patch touches a price the
// legacy columns are re-derived; rate is called only if one of the resulting
// prices is in a foreign currency and must return ErrNotFound when no
// USD->base rate is stored. Implementations call it while holding the row.
func ApplyPatch(product *domain.Product, patch domain.ProductPatch, rate func() (decimal.Decimal, error)) error {
	patch.Apply(product)
	if !patch.Repriced() {
		return nil
	}

	current := decimal.Zero
	if pricing.NeedsRate(*product) {
		r, err := rate()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: no %s->%s exchange rate configured", ErrValidation, domain.CurrencyUSD, domain.BaseCurrency)
			}
			return err
		}
		current = r
	}
	if err := pricing.ApplyLegacyPrices(product, current); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
