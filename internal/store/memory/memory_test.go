package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/internal/domain"
	"tiendapos/internal/store"
)

var _ store.Repository = (*Store)(nil)

func TestDecrementStockIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, "prd-arroz", "loc_store_1", 3))

	left, err := s.DecrementStock(ctx, "prd-arroz", "loc_store_1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	_, err = s.DecrementStock(ctx, "prd-arroz", "loc_store_1", 2)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	stock, err := s.GetStock(ctx, "prd-arroz", "loc_store_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

func TestGetStockMissingRowIsZero(t *testing.T) {
	s := NewSeeded()
	stock, err := s.GetStock(context.Background(), "prd-camiseta", "loc_store_1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestConcurrentDecrementsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, "prd-aceite", "loc_store_1", 50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DecrementStock(ctx, "prd-aceite", "loc_store_1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stock, err := s.GetStock(ctx, "prd-aceite", "loc_store_1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
	assert.Equal(t, 50, succeeded)
}

func TestTransferRoundTripRestoresStock(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	from, to, err := s.TransferStock(ctx, "prd-arroz", "loc_main_wh", "loc_store_2", 15)
	require.NoError(t, err)
	assert.Equal(t, 185, from)
	assert.Equal(t, 40, to)

	_, _, err = s.TransferStock(ctx, "prd-arroz", "loc_store_2", "loc_main_wh", 15)
	require.NoError(t, err)

	wh, _ := s.GetStock(ctx, "prd-arroz", "loc_main_wh")
	st, _ := s.GetStock(ctx, "prd-arroz", "loc_store_2")
	assert.Equal(t, 200, wh)
	assert.Equal(t, 25, st)
}

func TestTransferCreatesDestinationRow(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, to, err := s.TransferStock(ctx, "prd-camiseta", "loc_store_2", "loc_store_1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, to)
}

func TestTransferRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, _, err := s.TransferStock(ctx, "prd-arroz", "loc_store_1", "loc_store_1", 1)
	assert.ErrorIs(t, err, store.ErrInvalidLocation)

	_, _, err = s.TransferStock(ctx, "prd-arroz", "loc_store_1", "loc_nowhere", 1)
	assert.ErrorIs(t, err, store.ErrInvalidLocation)

	_, _, err = s.TransferStock(ctx, "prd-arroz", "loc_store_1", "loc_store_2", 41)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, _, err = s.TransferStock(ctx, "prd-arroz", "loc_store_1", "loc_store_2", 0)
	assert.ErrorIs(t, err, store.ErrValidation)

	src, _ := s.GetStock(ctx, "prd-arroz", "loc_store_1")
	dst, _ := s.GetStock(ctx, "prd-arroz", "loc_store_2")
	assert.Equal(t, 40, src)
	assert.Equal(t, 25, dst)
}

func TestConcurrentTransfersConserveStock(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = s.TransferStock(ctx, "prd-aceite", "loc_main_wh", "loc_store_1", 3)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = s.TransferStock(ctx, "prd-aceite", "loc_store_1", "loc_main_wh", 2)
		}()
	}
	wg.Wait()

	items, err := s.ListInventory(ctx, domain.InventoryFilter{ProductID: "prd-aceite"})
	require.NoError(t, err)
	total := 0
	for _, item := range items {
		assert.GreaterOrEqual(t, item.Stock, 0)
		total += item.Stock
	}
	assert.Equal(t, 98, total)
}

func saleLine(id string, price string, qty int) domain.SaleLine {
	return domain.SaleLine{ProductID: id, Name: id, UnitPrice: decimal.RequireFromString(price), Quantity: qty}
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, "prd-arroz", "loc_store_1", 1))

	_, err := s.CreateSale(ctx, domain.Sale{
		LocationID: "loc_store_1",
		Items:      []domain.SaleLine{saleLine("prd-cafe", "5", 1), saleLine("prd-arroz", "3", 2)},
		Total:      decimal.RequireFromString("11"),
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	cafe, _ := s.GetStock(ctx, "prd-cafe", "loc_store_1")
	assert.Equal(t, 9, cafe, "no partial decrement")
	sales, _ := s.ListSales(ctx, domain.SaleFilter{})
	assert.Empty(t, sales)
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	sale := domain.Sale{
		LocationID:     "loc_store_1",
		Items:          []domain.SaleLine{saleLine("prd-arroz", "250", 2)},
		Total:          decimal.RequireFromString("500"),
		IdempotencyKey: "idem-1",
	}

	first, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	second, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	stock, _ := s.GetStock(ctx, "prd-arroz", "loc_store_1")
	assert.Equal(t, 38, stock)
}

func TestListSalesOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"sale-b", "sale-a", "sale-c"} {
		createdAt := at
		if id == "sale-c" {
			createdAt = at.Add(time.Hour)
		}
		_, err := s.CreateSale(ctx, domain.Sale{
			ID:         id,
			CreatedAt:  createdAt,
			LocationID: "loc_main_wh",
			Items:      []domain.SaleLine{saleLine("prd-arroz", "250", 1)},
			Total:      decimal.RequireFromString("250"),
		})
		require.NoError(t, err)
	}

	desc, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"sale-c", "sale-b", "sale-a"}, saleIDs(desc))

	asc, err := s.ListSales(ctx, domain.SaleFilter{Ascending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"sale-a", "sale-b"}, saleIDs(asc))

	none, err := s.ListSales(ctx, domain.SaleFilter{LocationID: "loc_store_2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func saleIDs(sales []domain.Sale) []string {
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	return ids
}

func TestDeleteProductKeepsSaleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	created, err := s.CreateSale(ctx, domain.Sale{
		LocationID: "loc_store_1",
		Items:      []domain.SaleLine{saleLine("prd-cafe", "900", 2)},
		Total:      decimal.RequireFromString("1800"),
	})
	require.NoError(t, err)

	_, err = s.DeleteProduct(ctx, "prd-cafe")
	require.NoError(t, err)

	sale, err := s.FindSaleByID(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "prd-cafe", sale.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("1800").Equal(sale.Total))

	items, err := s.ListInventory(ctx, domain.InventoryFilter{ProductID: "prd-cafe"})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.DeleteProduct(ctx, "prd-cafe")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRepriceProductsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	rate := decimal.NewFromInt(130)

	sale1, cost1, err := s.RepriceProducts(ctx, domain.CurrencyUSD, rate, time.Now())
	require.NoError(t, err)
	first, _ := s.GetProduct(ctx, "prd-aceite")

	sale2, cost2, err := s.RepriceProducts(ctx, domain.CurrencyUSD, rate, time.Now())
	require.NoError(t, err)
	second, _ := s.GetProduct(ctx, "prd-aceite")

	assert.Equal(t, 3, sale1)
	assert.Equal(t, 4, cost1)
	assert.Equal(t, sale1, sale2)
	assert.Equal(t, cost1, cost2)
	assert.Equal(t, first.SalePrice.String(), second.SalePrice.String())
	assert.True(t, decimal.RequireFromString("585").Equal(second.SalePrice))
}

func TestUpdateExchangeRateRecordsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	change, err := s.UpdateExchangeRate(ctx, domain.ExchangeRate{
		CurrencyFrom: domain.CurrencyUSD,
		CurrencyTo:   domain.CurrencyCUP,
		Rate:         decimal.NewFromInt(125),
	}, "admin")
	require.NoError(t, err)
	require.True(t, change.OldRate.Valid)
	assert.True(t, decimal.NewFromInt(120).Equal(change.OldRate.Decimal))

	rate, err := s.GetExchangeRate(ctx, domain.CurrencyUSD, domain.CurrencyCUP)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(125).Equal(rate.Rate))

	history, err := s.ListExchangeRateHistory(ctx, domain.CurrencyUSD, domain.CurrencyCUP, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "admin", history[0].ChangedBy)

	_, err = s.UpdateExchangeRate(ctx, domain.ExchangeRate{CurrencyFrom: domain.CurrencyUSD, CurrencyTo: domain.CurrencyCUP}, "admin")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestUpdateProductPatchUsesStoredRate(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.UpdateExchangeRate(ctx, domain.ExchangeRate{
		CurrencyFrom: domain.CurrencyUSD,
		CurrencyTo:   domain.CurrencyCUP,
		Rate:         decimal.NewFromInt(200),
	}, "admin")
	require.NoError(t, err)

	name := "Aceite 1L"
	renamed, err := s.UpdateProduct(ctx, "prd-aceite", domain.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, renamed.Name)
	assert.Equal(t, "540", renamed.SalePrice.String(), "name-only edit must not reprice")

	amount := decimal.RequireFromString("5")
	repriced, err := s.UpdateProduct(ctx, "prd-aceite", domain.ProductPatch{SalePriceAmount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "1000", repriced.SalePrice.String())

	_, err = s.UpdateProduct(ctx, "prd-missing", domain.ProductPatch{Name: &name})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
