package service

import (
	"context"
	"fmt"
	"strings"

	"tiendapos/internal/domain"
	"tiendapos/internal/events"
	"tiendapos/internal/store"
)

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	filter.LocationID = strings.TrimSpace(filter.LocationID)
	return s.repo.ListInventory(ctx, filter)
}

// GetStock reports the stock of a known product at a known location. A missing
// inventory row reads as zero.
func (s *Service) GetStock(ctx context.Context, productID string, locationID string) (domain.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	locationID, err := s.resolveLocation(ctx, strings.TrimSpace(locationID))
	if err != nil {
		return domain.StockLevel{}, err
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return domain.StockLevel{}, err
	}

	stock, err := s.repo.GetStock(ctx, productID, locationID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{ProductID: productID, LocationID: locationID, Stock: stock}, nil
}

func (s *Service) DecrementStock(ctx context.Context, req domain.StockDecrementRequest) (domain.StockLevel, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.StockLevel{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Qty < 1 {
		return domain.StockLevel{}, fmt.Errorf("%w: product_id and a positive qty are required", store.ErrValidation)
	}
	locationID, err := s.resolveLocation(ctx, strings.TrimSpace(req.LocationID))
	if err != nil {
		return domain.StockLevel{}, err
	}

	left, err := s.repo.DecrementStock(ctx, req.ProductID, locationID, req.Qty)
	if err != nil {
		return domain.StockLevel{}, err
	}

	level := domain.StockLevel{ProductID: req.ProductID, LocationID: locationID, Stock: left}
	s.logAudit(ctx, "stock_decrement", "inventory", req.ProductID+"@"+locationID, fmt.Sprintf("qty=%d,left=%d", req.Qty, left))
	s.publish(ctx, events.TypeStockChanged, req.ProductID, level)
	return level, nil
}

// TransferStock moves stock between two locations all-or-nothing.
func (s *Service) TransferStock(ctx context.Context, req domain.StockTransferRequest) (domain.TransferResult, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.TransferResult{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.FromLocationID = strings.TrimSpace(req.FromLocationID)
	req.ToLocationID = strings.TrimSpace(req.ToLocationID)
	if req.ProductID == "" || req.Qty < 1 {
		return domain.TransferResult{}, fmt.Errorf("%w: product_id and a positive qty are required", store.ErrValidation)
	}
	if req.FromLocationID == "" || req.ToLocationID == "" || req.FromLocationID == req.ToLocationID {
		return domain.TransferResult{}, fmt.Errorf("%w: source and destination must be two different locations", store.ErrInvalidLocation)
	}

	fromStock, toStock, err := s.repo.TransferStock(ctx, req.ProductID, req.FromLocationID, req.ToLocationID, req.Qty)
	if err != nil {
		return domain.TransferResult{}, err
	}

	result := domain.TransferResult{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		From:      domain.StockLevel{ProductID: req.ProductID, LocationID: req.FromLocationID, Stock: fromStock},
		To:        domain.StockLevel{ProductID: req.ProductID, LocationID: req.ToLocationID, Stock: toStock},
	}
	s.logAudit(ctx, "stock_transfer", "inventory", req.ProductID,
		fmt.Sprintf("from=%s,to=%s,qty=%d", req.FromLocationID, req.ToLocationID, req.Qty))
	s.publish(ctx, events.TypeStockChanged, req.ProductID, result.From)
	s.publish(ctx, events.TypeStockChanged, req.ProductID, result.To)
	return result, nil
}

// SetStock overwrites the counted stock of a product at a location.
func (s *Service) SetStock(ctx context.Context, req domain.StockSetRequest) (domain.StockLevel, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return domain.StockLevel{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Stock < 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: product_id and a non-negative stock are required", store.ErrValidation)
	}
	locationID, err := s.resolveLocation(ctx, strings.TrimSpace(req.LocationID))
	if err != nil {
		return domain.StockLevel{}, err
	}
	if _, err := s.repo.GetProduct(ctx, req.ProductID); err != nil {
		return domain.StockLevel{}, err
	}

	if err := s.repo.SetStock(ctx, req.ProductID, locationID, req.Stock); err != nil {
		return domain.StockLevel{}, err
	}

	level := domain.StockLevel{ProductID: req.ProductID, LocationID: locationID, Stock: req.Stock}
	s.logAudit(ctx, "stock_set", "inventory", req.ProductID+"@"+locationID, fmt.Sprintf("stock=%d", req.Stock))
	s.publish(ctx, events.TypeStockChanged, req.ProductID, level)
	return level, nil
}
