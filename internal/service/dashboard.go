package service

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"tiendapos/internal/domain"
	"tiendapos/internal/reporting"
)

const (
	defaultRevenueWindowDays = 7
	defaultTopProducts       = 5
)

// Dashboard aggregates sales, inventory and catalog reads for one location, or
// for every location when locationID is empty. The three reads run concurrently.
func (s *Service) Dashboard(ctx context.Context, locationID string, windowDays int, top int) (domain.Dashboard, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.Dashboard{}, err
	}
	locationID = strings.TrimSpace(locationID)
	if locationID != "" {
		resolved, err := s.resolveLocation(ctx, locationID)
		if err != nil {
			return domain.Dashboard{}, err
		}
		locationID = resolved
	}
	if windowDays < 1 {
		windowDays = defaultRevenueWindowDays
	}
	if top < 1 {
		top = defaultTopProducts
	}

	var (
		sales    []domain.Sale
		items    []domain.InventoryItem
		products []domain.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListSales(gctx, domain.SaleFilter{LocationID: locationID, Ascending: true})
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.repo.ListInventory(gctx, domain.InventoryFilter{LocationID: locationID})
		return err
	})
	g.Go(func() error {
		var err error
		products, err = s.repo.ListProducts(gctx, domain.ProductFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}

	return domain.Dashboard{
		LocationID:     locationID,
		TotalRevenue:   reporting.TotalRevenue(sales),
		SalesCount:     reporting.SalesCount(sales),
		UnitsSold:      reporting.UnitsSold(sales),
		InventoryTotal: reporting.InventoryTotal(items),
		LowStock:       reporting.LowStock(products, reporting.StockByProduct(items)),
		RevenueByDay:   reporting.RevenueByDay(sales, windowDays),
		TopProducts:    reporting.TopProducts(sales, top),
		GeneratedAt:    s.now().UTC(),
	}, nil
}
