package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyCUP Currency = "CUP"
	CurrencyUSD Currency = "USD"

	// BaseCurrency is the currency legacy prices, sale totals and reports are kept in.
	BaseCurrency = CurrencyCUP
)

func ParseCurrency(raw string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	return c, c.Valid()
}

func (c Currency) Valid() bool {
	return c == CurrencyCUP || c == CurrencyUSD
}

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

type Product struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Category           string          `json:"category"`
	UnitOfMeasure      string          `json:"unit_of_measure"`
	SalePriceAmount    decimal.Decimal `json:"sale_price_amount"`
	SalePriceCurrency  Currency        `json:"sale_price_currency"`
	CostPriceAmount    decimal.Decimal `json:"cost_price_amount"`
	CostPriceCurrency  Currency        `json:"cost_price_currency"`
	SalePrice          decimal.Decimal `json:"sale_price"`
	CostPrice          decimal.Decimal `json:"cost_price"`
	StockMinimum       int             `json:"stock_minimum"`
	ImageURL           string          `json:"imageurl"`
	LastRecalculatedAt *time.Time      `json:"last_recalculated_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (p Product) SaleMoney() Money {
	return Money{Amount: p.SalePriceAmount, Currency: p.SalePriceCurrency}
}

func (p Product) CostMoney() Money {
	return Money{Amount: p.CostPriceAmount, Currency: p.CostPriceCurrency}
}

type ProductFilter struct {
	Category string
	Query    string
	Limit    int
}

type ProductCreateRequest struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	UnitOfMeasure     string          `json:"unit_of_measure"`
	SalePriceAmount   decimal.Decimal `json:"sale_price_amount"`
	SalePriceCurrency string          `json:"sale_price_currency"`
	CostPriceAmount   decimal.Decimal `json:"cost_price_amount"`
	CostPriceCurrency string          `json:"cost_price_currency"`
	StockMinimum      int             `json:"stock_minimum"`
	InitialStock      int             `json:"stock"`
	LocationID        string          `json:"location_id"`
}

type ProductUpdateRequest struct {
	Name              *string          `json:"name,omitempty"`
	Description       *string          `json:"description,omitempty"`
	Category          *string          `json:"category,omitempty"`
	UnitOfMeasure     *string          `json:"unit_of_measure,omitempty"`
	SalePriceAmount   *decimal.Decimal `json:"sale_price_amount,omitempty"`
	SalePriceCurrency *string          `json:"sale_price_currency,omitempty"`
	CostPriceAmount   *decimal.Decimal `json:"cost_price_amount,omitempty"`
	CostPriceCurrency *string          `json:"cost_price_currency,omitempty"`
	StockMinimum      *int             `json:"stock_minimum,omitempty"`
	FileName          string           `json:"fileName,omitempty"`
	FileBase64        string           `json:"fileBase64,omitempty"`
}

// ProductPatch names the columns an edit touches. Nil fields keep the stored
// value. When any price field is set the repository re-derives SalePrice and
// CostPrice from the exchange rate it holds at write time.
type ProductPatch struct {
	Name              *string
	Description       *string
	Category          *string
	UnitOfMeasure     *string
	SalePriceAmount   *decimal.Decimal
	SalePriceCurrency *Currency
	CostPriceAmount   *decimal.Decimal
	CostPriceCurrency *Currency
	StockMinimum      *int
	ImageURL          *string
}

func (p ProductPatch) Repriced() bool {
	return p.SalePriceAmount != nil || p.SalePriceCurrency != nil ||
		p.CostPriceAmount != nil || p.CostPriceCurrency != nil
}

func (p ProductPatch) Empty() bool {
	return !p.Repriced() && p.Name == nil && p.Description == nil && p.Category == nil &&
		p.UnitOfMeasure == nil && p.StockMinimum == nil && p.ImageURL == nil
}

// Apply copies the set fields onto product. Legacy prices are not touched.
func (p ProductPatch) Apply(product *Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.UnitOfMeasure != nil {
		product.UnitOfMeasure = *p.UnitOfMeasure
	}
	if p.SalePriceAmount != nil {
		product.SalePriceAmount = *p.SalePriceAmount
	}
	if p.SalePriceCurrency != nil {
		product.SalePriceCurrency = *p.SalePriceCurrency
	}
	if p.CostPriceAmount != nil {
		product.CostPriceAmount = *p.CostPriceAmount
	}
	if p.CostPriceCurrency != nil {
		product.CostPriceCurrency = *p.CostPriceCurrency
	}
	if p.StockMinimum != nil {
		product.StockMinimum = *p.StockMinimum
	}
	if p.ImageURL != nil {
		product.ImageURL = *p.ImageURL
	}
}

type DescriptionRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type ImageUploadRequest struct {
	FileName   string `json:"fileName"`
	FileBase64 string `json:"fileBase64"`
}

type ProductMutationResult struct {
	Product  Product  `json:"product"`
	Warnings []string `json:"warnings,omitempty"`
}

type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationStore     LocationType = "store"
)

type Location struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type LocationType `json:"type"`
}

type InventoryItem struct {
	ProductID  string    `json:"product_id"`
	LocationID string    `json:"location_id"`
	Stock      int       `json:"stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type InventoryFilter struct {
	ProductID  string
	LocationID string
}

type StockDecrementRequest struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Qty        int    `json:"qty"`
}

type StockTransferRequest struct {
	ProductID      string `json:"product_id"`
	FromLocationID string `json:"from_location_id"`
	ToLocationID   string `json:"to_location_id"`
	Qty            int    `json:"qty"`
}

type StockSetRequest struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Stock      int    `json:"stock"`
}

type StockLevel struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Stock      int    `json:"stock"`
}

type TransferResult struct {
	ProductID string     `json:"product_id"`
	Qty       int        `json:"qty"`
	From      StockLevel `json:"from"`
	To        StockLevel `json:"to"`
}

// SaleLine is a copy of a cart line taken at checkout. It never references the
// live catalog entry, so later product edits or deletes leave it untouched.
type SaleLine struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (l SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Sale struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	LocationID     string          `json:"location_id"`
	Items          []SaleLine      `json:"items"`
	Total          decimal.Decimal `json:"total"`
	Cashier        string          `json:"cashier"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type SaleFilter struct {
	LocationID string
	Ascending  bool
	Limit      int
	From       *time.Time
	To         *time.Time
}

type CheckoutRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type CheckoutResponse struct {
	Sale      Sale     `json:"sale"`
	Duplicate bool     `json:"duplicate"`
	Warnings  []string `json:"warnings,omitempty"`
}

type ExchangeRate struct {
	CurrencyFrom Currency        `json:"currency_from"`
	CurrencyTo   Currency        `json:"currency_to"`
	Rate         decimal.Decimal `json:"rate"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ExchangeRateChange struct {
	ID           string              `json:"id"`
	CurrencyFrom Currency            `json:"currency_from"`
	CurrencyTo   Currency            `json:"currency_to"`
	OldRate      decimal.NullDecimal `json:"old_rate"`
	NewRate      decimal.Decimal     `json:"new_rate"`
	ChangedBy    string              `json:"changed_by"`
	CreatedAt    time.Time           `json:"created_at"`
}

type ExchangeRateUpdateRequest struct {
	CurrencyFrom string          `json:"currency_from"`
	CurrencyTo   string          `json:"currency_to"`
	Rate         decimal.Decimal `json:"rate"`
	ChangedBy    string          `json:"changed_by"`
}

type ExchangeRateUpdateResponse struct {
	Rate     ExchangeRate       `json:"rate"`
	Change   ExchangeRateChange `json:"change"`
	Recalc   RecalcResult       `json:"recalc"`
	Warnings []string           `json:"warnings,omitempty"`
}

type RecalcRequest struct {
	CurrencyFrom string           `json:"currency_from"`
	CurrencyTo   string           `json:"currency_to"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
}

type RecalcResult struct {
	CurrencyFrom        Currency        `json:"currency_from"`
	CurrencyTo          Currency        `json:"currency_to"`
	Rate                decimal.Decimal `json:"rate"`
	UpdatedSaleProducts int             `json:"updated_sale_products"`
	UpdatedCostProducts int             `json:"updated_cost_products"`
	Timestamp           time.Time       `json:"timestamp"`
}

type DailyRevenue struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
}

type ProductQuantity struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type LowStockEntry struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	Stock        int    `json:"stock"`
	StockMinimum int    `json:"stock_minimum"`
}

type Dashboard struct {
	LocationID     string            `json:"location_id,omitempty"`
	TotalRevenue   decimal.Decimal   `json:"total_revenue"`
	SalesCount     int               `json:"sales_count"`
	UnitsSold      int               `json:"units_sold"`
	InventoryTotal int               `json:"inventory_total"`
	LowStock       []LowStockEntry   `json:"low_stock"`
	RevenueByDay   []DailyRevenue    `json:"revenue_by_day"`
	TopProducts    []ProductQuantity `json:"top_products"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
