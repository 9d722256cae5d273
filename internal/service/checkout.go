package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tiendapos/internal/cart"
	"tiendapos/internal/domain"
	"tiendapos/internal/events"
	"tiendapos/internal/pricing"
	"tiendapos/internal/store"
	"tiendapos/internal/xid"
)

func (s *Service) OpenCart(ctx context.Context, locationID string) (cart.View, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return cart.View{}, err
	}
	locationID, err = s.resolveLocation(ctx, strings.TrimSpace(locationID))
	if err != nil {
		return cart.View{}, err
	}
	return s.carts.Open(locationID, actor.Username).Snapshot(), nil
}

func (s *Service) GetCart(ctx context.Context, cartID string) (cart.View, error) {
	c, err := s.cartFor(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	return c.Snapshot(), nil
}

// AddCartItem adds one unit of the product, bounded by the stock currently
// held at the cart's location. On ErrStockExhausted the returned view shows
// the unchanged cart.
func (s *Service) AddCartItem(ctx context.Context, cartID string, productID string) (cart.View, error) {
	c, err := s.cartFor(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	item, err := s.cartItem(ctx, strings.TrimSpace(productID), c.LocationID())
	if err != nil {
		return cart.View{}, err
	}
	if _, err := c.AddItem(item); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

func (s *Service) SetCartQuantity(ctx context.Context, cartID string, productID string, qty int) (cart.View, error) {
	c, err := s.cartFor(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	productID = strings.TrimSpace(productID)
	if qty > 0 {
		stock, err := s.repo.GetStock(ctx, productID, c.LocationID())
		if err != nil {
			return cart.View{}, err
		}
		c.RefreshStock(productID, stock)
	}
	if _, err := c.SetQuantity(productID, qty); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

func (s *Service) RemoveCartItem(ctx context.Context, cartID string, productID string) (cart.View, error) {
	c, err := s.cartFor(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	if err := c.RemoveItem(strings.TrimSpace(productID)); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// DiscardCart abandons the cart. Nothing was reserved, so nothing is undone.
func (s *Service) DiscardCart(ctx context.Context, cartID string) error {
	if _, err := s.cartFor(ctx, cartID); err != nil {
		return err
	}
	return s.carts.Discard(cartID)
}

// Checkout records the cart as a sale and debits every line at the cart's
// location in one repository call. The cart is cleared only when that call
// succeeds; otherwise its lines stay for a retry.
func (s *Service) Checkout(ctx context.Context, cartID string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	c, err := s.cartFor(ctx, cartID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, key)
		if err == nil {
			// Only the cart that recorded the sale may replay it.
			if existing.ID != c.LastSaleID() {
				return domain.CheckoutResponse{}, ErrIdempotencyConflict
			}
			return domain.CheckoutResponse{Sale: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, err
		}
	}

	lines, err := c.BeginCheckout()
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	items := cart.SaleLines(lines)
	sale := domain.Sale{
		ID:             xid.New("sale"),
		CreatedAt:      s.now().UTC(),
		LocationID:     c.LocationID(),
		Items:          items,
		Total:          saleTotal(items),
		Cashier:        actor.Username,
		IdempotencyKey: key,
	}

	recorded, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		c.FailCheckout()
		s.logger.Warn("checkout failed, cart kept for retry",
			zap.String("cart_id", c.ID()),
			zap.String("location_id", sale.LocationID),
			zap.Error(err),
		)
		return domain.CheckoutResponse{}, err
	}
	if recorded.ID != sale.ID {
		// A concurrent checkout from another cart won the key; nothing was
		// debited for this one.
		c.FailCheckout()
		return domain.CheckoutResponse{}, ErrIdempotencyConflict
	}
	c.CompleteCheckout(recorded.ID)

	s.logAudit(ctx, "sale_record", "sale", recorded.ID,
		fmt.Sprintf("location=%s,lines=%d,total=%s", recorded.LocationID, len(recorded.Items), recorded.Total))
	s.publish(ctx, events.TypeSaleRecorded, recorded.ID, recorded)
	for _, line := range recorded.Items {
		stock, err := s.repo.GetStock(ctx, line.ProductID, recorded.LocationID)
		if err != nil {
			continue
		}
		s.publish(ctx, events.TypeStockChanged, line.ProductID, domain.StockLevel{
			ProductID:  line.ProductID,
			LocationID: recorded.LocationID,
			Stock:      stock,
		})
	}

	return domain.CheckoutResponse{Sale: *recorded}, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 0 || filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", store.ErrValidation)
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrValidation
	}
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// cartFor returns the cart if the caller owns it. Admins may act on any cart.
func (s *Service) cartFor(ctx context.Context, cartID string) (*cart.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.carts.Get(strings.TrimSpace(cartID))
	if err != nil {
		return nil, err
	}
	if c.Owner() != actor.Username && actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: cart belongs to another session", ErrForbidden)
	}
	return c, nil
}

func (s *Service) cartItem(ctx context.Context, productID string, locationID string) (cart.Item, error) {
	if productID == "" {
		return cart.Item{}, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return cart.Item{}, err
	}
	stock, err := s.repo.GetStock(ctx, productID, locationID)
	if err != nil {
		return cart.Item{}, err
	}
	return cart.Item{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.SalePrice,
		Stock:     stock,
	}, nil
}

func saleTotal(items []domain.SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return pricing.Round(total)
}
