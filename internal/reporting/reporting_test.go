package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiendapos/internal/domain"
)

func saleOn(t *testing.T, date string, total int64, lines ...domain.SaleLine) domain.Sale {
	t.Helper()
	at, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	return domain.Sale{CreatedAt: at.Add(10 * time.Hour), Total: decimal.NewFromInt(total), Items: lines}
}

func line(name string, qty int) domain.SaleLine {
	return domain.SaleLine{ProductID: name, Name: name, UnitPrice: decimal.NewFromInt(1), Quantity: qty}
}

func TestRevenueByDayGroupsChronologically(t *testing.T) {
	sales := []domain.Sale{
		saleOn(t, "2024-01-02", 7),
		saleOn(t, "2024-01-01", 10),
		saleOn(t, "2024-01-01", 5),
	}

	got := RevenueByDay(sales, 7)

	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-01", got[0].Date)
	assert.True(t, decimal.NewFromInt(15).Equal(got[0].Total))
	assert.Equal(t, "2024-01-02", got[1].Date)
	assert.True(t, decimal.NewFromInt(7).Equal(got[1].Total))
}

func TestRevenueByDayKeepsMostRecentWindow(t *testing.T) {
	sales := []domain.Sale{
		saleOn(t, "2024-01-01", 1),
		saleOn(t, "2024-01-02", 2),
		saleOn(t, "2024-01-03", 3),
	}

	got := RevenueByDay(sales, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", got[0].Date)
	assert.Equal(t, "2024-01-03", got[1].Date)
	assert.Len(t, RevenueByDay(sales, 0), 3)
}

func TestTopProductsTiesKeepFirstSeenOrder(t *testing.T) {
	sales := []domain.Sale{
		saleOn(t, "2024-01-01", 0, line("Arroz", 2), line("Frijoles", 3)),
		saleOn(t, "2024-01-02", 0, line("Aceite", 3), line("Arroz", 1)),
		saleOn(t, "2024-01-02", 0, line("Cafe", 1)),
	}

	got := TopProducts(sales, 3)

	require.Len(t, got, 3)
	assert.Equal(t, domain.ProductQuantity{Name: "Arroz", Quantity: 3}, got[0])
	assert.Equal(t, domain.ProductQuantity{Name: "Frijoles", Quantity: 3}, got[1])
	assert.Equal(t, domain.ProductQuantity{Name: "Aceite", Quantity: 3}, got[2])
}

func TestReducers(t *testing.T) {
	sales := []domain.Sale{
		saleOn(t, "2024-01-01", 10, line("Arroz", 2)),
		saleOn(t, "2024-01-02", 5, line("Arroz", 1), line("Cafe", 4)),
	}
	items := []domain.InventoryItem{
		{ProductID: "a", LocationID: "loc_store_1", Stock: 4},
		{ProductID: "a", LocationID: "loc_main_wh", Stock: 6},
		{ProductID: "b", LocationID: "loc_store_1", Stock: 1},
	}

	assert.True(t, decimal.NewFromInt(15).Equal(TotalRevenue(sales)))
	assert.Equal(t, 2, SalesCount(sales))
	assert.Equal(t, 7, UnitsSold(sales))
	assert.Equal(t, 11, InventoryTotal(items))
	assert.Equal(t, map[string]int{"a": 10, "b": 1}, StockByProduct(items))
	assert.True(t, TotalRevenue(nil).IsZero())
}

func TestLowStock(t *testing.T) {
	products := []domain.Product{
		{ID: "a", Name: "Arroz", StockMinimum: 5},
		{ID: "b", Name: "Cafe", StockMinimum: 2},
		{ID: "c", Name: "Sal", StockMinimum: 0},
	}

	got := LowStock(products, map[string]int{"a": 5, "b": 9})

	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ProductID)
	assert.Equal(t, 0, got[0].Stock)
	assert.Equal(t, "a", got[1].ProductID)
}
