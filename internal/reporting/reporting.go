// Package reporting aggregates already-fetched sales and inventory. Every
// function is a pure reducer; callers do the I/O.
package reporting

import (
	"sort"

	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
)

const dayLayout = "2006-01-02"

func TotalRevenue(sales []domain.Sale) decimal.Decimal {
	sum := decimal.Zero
	for _, sale := range sales {
		sum = sum.Add(sale.Total)
	}
	return sum
}

func SalesCount(sales []domain.Sale) int {
	return len(sales)
}

func UnitsSold(sales []domain.Sale) int {
	units := 0
	for _, sale := range sales {
		for _, line := range sale.Items {
			units += line.Quantity
		}
	}
	return units
}

func InventoryTotal(items []domain.InventoryItem) int {
	total := 0
	for _, item := range items {
		total += item.Stock
	}
	return total
}

// RevenueByDay buckets sale totals by UTC calendar date and returns the most
// recent windowDays buckets in chronological order. windowDays <= 0 keeps all.
func RevenueByDay(sales []domain.Sale, windowDays int) []domain.DailyRevenue {
	byDate := make(map[string]decimal.Decimal, len(sales))
	for _, sale := range sales {
		day := sale.CreatedAt.UTC().Format(dayLayout)
		byDate[day] = byDate[day].Add(sale.Total)
	}

	days := make([]string, 0, len(byDate))
	for day := range byDate {
		days = append(days, day)
	}
	sort.Strings(days)
	if windowDays > 0 && len(days) > windowDays {
		days = days[len(days)-windowDays:]
	}

	out := make([]domain.DailyRevenue, 0, len(days))
	for _, day := range days {
		out = append(out, domain.DailyRevenue{Date: day, Total: byDate[day]})
	}
	return out
}

// TopProducts sums quantity per product name, sorts descending and keeps the
// first n. Ties keep the order in which names were first seen.
func TopProducts(sales []domain.Sale, n int) []domain.ProductQuantity {
	index := make(map[string]int)
	out := make([]domain.ProductQuantity, 0)
	for _, sale := range sales {
		for _, line := range sale.Items {
			i, ok := index[line.Name]
			if !ok {
				i = len(out)
				index[line.Name] = i
				out = append(out, domain.ProductQuantity{Name: line.Name})
			}
			out[i].Quantity += line.Quantity
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Quantity > out[j].Quantity
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// LowStock lists products whose stock is at or below their reorder threshold.
// stockByProduct holds the stock summed over the locations being reported on.
func LowStock(products []domain.Product, stockByProduct map[string]int) []domain.LowStockEntry {
	out := make([]domain.LowStockEntry, 0)
	for _, p := range products {
		stock := stockByProduct[p.ID]
		if stock > p.StockMinimum {
			continue
		}
		out = append(out, domain.LowStockEntry{
			ProductID:    p.ID,
			Name:         p.Name,
			Stock:        stock,
			StockMinimum: p.StockMinimum,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Stock < out[j].Stock
	})
	return out
}

// StockByProduct sums inventory rows per product.
func StockByProduct(items []domain.InventoryItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.ProductID] += item.Stock
	}
	return out
}
