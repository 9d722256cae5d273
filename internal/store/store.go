package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrStorage           = errors.New("storage unavailable")
)

type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// CreateProduct inserts the product together with its inventory row at locationID.
	CreateProduct(ctx context.Context, product domain.Product, locationID string, initialStock int) (*domain.Product, error)
	// UpdateProduct writes only the columns patch names, deriving legacy
	// prices from the stored rate in the same atomic step.
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
	// DeleteProduct removes the product and its inventory rows. Sales are not touched.
	DeleteProduct(ctx context.Context, id string) (*domain.Product, error)
	// RepriceProducts recomputes the legacy sale/cost columns of every product
	// priced in from, returning how many rows each column touched.
	RepriceProducts(ctx context.Context, from domain.Currency, rate decimal.Decimal, at time.Time) (int, int, error)

	ListLocations(ctx context.Context) ([]domain.Location, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)

	GetStock(ctx context.Context, productID string, locationID string) (int, error)
	ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error)
	SetStock(ctx context.Context, productID string, locationID string, stock int) error
	// DecrementStock is a conditional update: it fails with ErrInsufficientStock
	// instead of letting stock go negative. It returns the remaining stock.
	DecrementStock(ctx context.Context, productID string, locationID string, qty int) (int, error)
	// TransferStock moves qty between two locations all-or-nothing and returns
	// the resulting source and destination stock.
	TransferStock(ctx context.Context, productID string, fromLocationID string, toLocationID string, qty int) (int, int, error)

	// CreateSale appends the sale and debits every line at the sale's location
	// in a single atomic step.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	GetExchangeRate(ctx context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, error)
	// UpdateExchangeRate records the previous rate to history before overwriting it.
	UpdateExchangeRate(ctx context.Context, rate domain.ExchangeRate, changedBy string) (*domain.ExchangeRateChange, error)
	ListExchangeRateHistory(ctx context.Context, from domain.Currency, to domain.Currency, limit int) ([]domain.ExchangeRateChange, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
