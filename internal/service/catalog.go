package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tiendapos/internal/describe"
	"tiendapos/internal/domain"
	"tiendapos/internal/events"
	"tiendapos/internal/objectstore"
	"tiendapos/internal/pricing"
	"tiendapos/internal/store"
	"tiendapos/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if filter.Limit < 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductMutationResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ProductMutationResult{}, err
	}

	saleCurrency := parseCurrencyOr(req.SalePriceCurrency, domain.BaseCurrency)
	product := domain.Product{
		Name:              strings.TrimSpace(req.Name),
		Description:       strings.TrimSpace(req.Description),
		Category:          strings.TrimSpace(req.Category),
		UnitOfMeasure:     strings.TrimSpace(req.UnitOfMeasure),
		SalePriceAmount:   req.SalePriceAmount,
		SalePriceCurrency: saleCurrency,
		CostPriceAmount:   req.CostPriceAmount,
		CostPriceCurrency: parseCurrencyOr(req.CostPriceCurrency, saleCurrency),
		StockMinimum:      req.StockMinimum,
	}
	if err := validateProduct(product); err != nil {
		return domain.ProductMutationResult{}, err
	}
	if req.InitialStock < 0 {
		return domain.ProductMutationResult{}, fmt.Errorf("%w: stock must not be negative", store.ErrValidation)
	}

	locationID, err := s.resolveLocation(ctx, strings.TrimSpace(req.LocationID))
	if err != nil {
		return domain.ProductMutationResult{}, err
	}
	if err := s.applyLegacyPrices(ctx, &product); err != nil {
		return domain.ProductMutationResult{}, err
	}

	product.ID = xid.New("prd")
	created, err := s.repo.CreateProduct(ctx, product, locationID, req.InitialStock)
	if err != nil {
		return domain.ProductMutationResult{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,sale=%s %s,stock=%d@%s", created.Name, created.SalePriceAmount, created.SalePriceCurrency, req.InitialStock, locationID))
	s.publish(ctx, events.TypeProductCreated, created.ID, created)
	s.publish(ctx, events.TypeStockChanged, created.ID, domain.StockLevel{
		ProductID:  created.ID,
		LocationID: locationID,
		Stock:      req.InitialStock,
	})

	return domain.ProductMutationResult{Product: *created}, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.ProductMutationResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ProductMutationResult{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductMutationResult{}, err
	}

	patch := productPatch(req)
	merged := existing
	patch.Apply(&merged)
	if err := validateProduct(merged); err != nil {
		return domain.ProductMutationResult{}, err
	}

	var warnings []string
	if strings.TrimSpace(req.FileBase64) != "" {
		url, err := s.storeImage(ctx, existing.ID, req.FileName, req.FileBase64)
		if err != nil {
			s.logger.Warn("product image upload failed, keeping previous image",
				zap.String("product_id", existing.ID),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("image upload failed: %v", err))
		} else {
			patch.ImageURL = &url
		}
	}

	// The repository re-reads the row, so a rate change committed since the
	// read above is not overwritten.
	saved, err := s.repo.UpdateProduct(ctx, existing.ID, patch)
	if err != nil {
		return domain.ProductMutationResult{}, err
	}

	repriced := patch.Repriced()
	s.logAudit(ctx, "product_update", "product", saved.ID,
		fmt.Sprintf("repriced=%t,sale_price=%s,cost_price=%s", repriced, saved.SalePrice, saved.CostPrice))
	s.publish(ctx, events.TypeProductUpdated, saved.ID, saved)

	return domain.ProductMutationResult{Product: *saved, Warnings: warnings}, nil
}

func (s *Service) UploadProductImage(ctx context.Context, id string, req domain.ImageUploadRequest) (domain.ProductMutationResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ProductMutationResult{}, err
	}
	if strings.TrimSpace(req.FileName) == "" || strings.TrimSpace(req.FileBase64) == "" {
		return domain.ProductMutationResult{}, fmt.Errorf("%w: fileName and fileBase64 are required", store.ErrValidation)
	}

	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductMutationResult{}, err
	}

	url, err := s.storeImage(ctx, product.ID, req.FileName, req.FileBase64)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			return domain.ProductMutationResult{}, err
		}
		return domain.ProductMutationResult{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	var warnings []string
	previous := product.ImageURL
	saved, err := s.repo.UpdateProduct(ctx, product.ID, domain.ProductPatch{ImageURL: &url})
	if err != nil {
		return domain.ProductMutationResult{}, err
	}
	if previous != "" && previous != url {
		if warning := s.removeImage(ctx, product.ID, previous); warning != "" {
			warnings = append(warnings, warning)
		}
	}

	s.logAudit(ctx, "product_image_upload", "product", saved.ID, url)
	s.publish(ctx, events.TypeProductUpdated, saved.ID, saved)

	return domain.ProductMutationResult{Product: *saved, Warnings: warnings}, nil
}

// GenerateProductDescription drafts a description for the product form.
// Model problems are not errors: the result then carries a notice instead of
// generated text.
func (s *Service) GenerateProductDescription(ctx context.Context, req domain.DescriptionRequest) (describe.Result, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return describe.Result{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return describe.Result{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	return s.describer.Describe(ctx, name, strings.TrimSpace(req.Category)), nil
}

// DeleteProduct removes the product and its inventory rows. Recorded sales keep
// their line snapshots. The stored image is removed afterwards, best-effort.
func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.ProductMutationResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.ProductMutationResult{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ProductMutationResult{}, store.ErrValidation
	}

	deleted, err := s.repo.DeleteProduct(ctx, id)
	if err != nil {
		return domain.ProductMutationResult{}, err
	}

	var warnings []string
	if deleted.ImageURL != "" {
		if warning := s.removeImage(ctx, deleted.ID, deleted.ImageURL); warning != "" {
			warnings = append(warnings, warning)
		}
	}

	s.logAudit(ctx, "product_delete", "product", deleted.ID, fmt.Sprintf("name=%s", deleted.Name))
	s.publish(ctx, events.TypeProductDeleted, deleted.ID, map[string]string{"id": deleted.ID})

	return domain.ProductMutationResult{Product: *deleted, Warnings: warnings}, nil
}

func productPatch(req domain.ProductUpdateRequest) domain.ProductPatch {
	patch := domain.ProductPatch{
		SalePriceAmount: req.SalePriceAmount,
		CostPriceAmount: req.CostPriceAmount,
		StockMinimum:    req.StockMinimum,
	}
	trimmed := func(val *string) *string {
		if val == nil {
			return nil
		}
		out := strings.TrimSpace(*val)
		return &out
	}
	patch.Name = trimmed(req.Name)
	patch.Description = trimmed(req.Description)
	patch.Category = trimmed(req.Category)
	patch.UnitOfMeasure = trimmed(req.UnitOfMeasure)
	if req.SalePriceCurrency != nil {
		currency := parseCurrencyOr(*req.SalePriceCurrency, "")
		patch.SalePriceCurrency = &currency
	}
	if req.CostPriceCurrency != nil {
		currency := parseCurrencyOr(*req.CostPriceCurrency, "")
		patch.CostPriceCurrency = &currency
	}
	return patch
}

// applyLegacyPrices derives the base-currency legacy columns, loading the
// USD->base rate only when one of the prices needs it.
func (s *Service) applyLegacyPrices(ctx context.Context, product *domain.Product) error {
	rate := decimal.Zero
	if pricing.NeedsRate(*product) {
		current, err := s.storedRate(ctx, domain.CurrencyUSD, domain.BaseCurrency)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: no %s->%s exchange rate configured", store.ErrValidation, domain.CurrencyUSD, domain.BaseCurrency)
			}
			return err
		}
		rate = current.Rate
	}
	if err := pricing.ApplyLegacyPrices(product, rate); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

func (s *Service) storeImage(ctx context.Context, productID string, fileName string, payload string) (string, error) {
	data, err := decodeBase64Image(payload)
	if err != nil {
		return "", fmt.Errorf("%w: fileBase64 is not valid base64", store.ErrValidation)
	}
	url, err := s.images.Put(ctx, objectstore.ImageKey(productID, fileName), data)
	if err != nil {
		if errors.Is(err, objectstore.ErrUnsupportedMedia) {
			return "", fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		return "", err
	}
	return url, nil
}

// removeImage deletes an image we stored and returns a warning on failure.
// URLs outside our bucket are left alone.
func (s *Service) removeImage(ctx context.Context, productID string, url string) string {
	key, ok := objectstore.KeyFromURL(s.images.BaseURL(), url)
	if !ok {
		return ""
	}
	if err := s.images.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete product image",
			zap.String("product_id", productID),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Sprintf("image cleanup failed: %v", err)
	}
	return ""
}

// decodeBase64Image accepts raw base64 or a data URL.
func decodeBase64Image(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if idx := strings.Index(payload, ","); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

func validateProduct(p domain.Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", store.ErrValidation)
	case !p.SalePriceAmount.IsPositive():
		return fmt.Errorf("%w: sale_price_amount must be greater than zero", store.ErrValidation)
	case p.CostPriceAmount.IsNegative():
		return fmt.Errorf("%w: cost_price_amount must not be negative", store.ErrValidation)
	case !p.SalePriceCurrency.Valid():
		return fmt.Errorf("%w: unsupported sale_price_currency %q", store.ErrValidation, p.SalePriceCurrency)
	case !p.CostPriceCurrency.Valid():
		return fmt.Errorf("%w: unsupported cost_price_currency %q", store.ErrValidation, p.CostPriceCurrency)
	case p.StockMinimum < 0:
		return fmt.Errorf("%w: stock_minimum must not be negative", store.ErrValidation)
	}
	return nil
}

func parseCurrencyOr(raw string, fallback domain.Currency) domain.Currency {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	c, _ := domain.ParseCurrency(raw)
	return c
}
