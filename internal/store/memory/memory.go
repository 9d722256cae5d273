package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tiendapos/internal/domain"
	"tiendapos/internal/pricing"
	"tiendapos/internal/store"
	"tiendapos/internal/xid"
)

type inventoryKey struct {
	productID  string
	locationID string
}

type ratePair struct {
	from domain.Currency
	to   domain.Currency
}

// Store keeps every table in maps guarded by a single mutex, so each
// repository call is atomic with respect to every other.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	locations       map[string]domain.Location
	inventory       map[inventoryKey]domain.InventoryItem
	sales           []domain.Sale
	salesByID       map[string]int
	salesByIdem     map[string]int
	rates           map[ratePair]domain.ExchangeRate
	rateHistory     []domain.ExchangeRateChange
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		locations:       make(map[string]domain.Location),
		inventory:       make(map[inventoryKey]domain.InventoryItem),
		salesByID:       make(map[string]int),
		salesByIdem:     make(map[string]int),
		rates:           make(map[ratePair]domain.ExchangeRate),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// when unset, dev defaults are used and a warning is logged.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var seedRate = decimal.NewFromInt(120)

// NewSeeded returns a store with the three reference locations, a USD->CUP
// rate of 120, a small catalog and the dev user accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, loc := range []domain.Location{
		{ID: "loc_main_wh", Name: "Almacén Central", Type: domain.LocationWarehouse},
		{ID: "loc_store_1", Name: "Tienda 1", Type: domain.LocationStore},
		{ID: "loc_store_2", Name: "Tienda 2", Type: domain.LocationStore},
	} {
		s.locations[loc.ID] = loc
	}

	s.rates[ratePair{domain.CurrencyUSD, domain.CurrencyCUP}] = domain.ExchangeRate{
		CurrencyFrom: domain.CurrencyUSD,
		CurrencyTo:   domain.CurrencyCUP,
		Rate:         seedRate,
		UpdatedAt:    now,
	}

	type seed struct {
		id, name, category, unit string
		sale                     string
		saleCurrency             domain.Currency
		cost                     string
		costCurrency             domain.Currency
		minimum                  int
		stock                    map[string]int
	}
	for _, p := range []seed{
		{"prd-arroz", "Arroz 1kg", "Alimentos", "kg", "250", domain.CurrencyCUP, "180", domain.CurrencyCUP, 10, map[string]int{"loc_main_wh": 200, "loc_store_1": 40, "loc_store_2": 25}},
		{"prd-aceite", "Aceite 1L", "Alimentos", "l", "4.50", domain.CurrencyUSD, "3.20", domain.CurrencyUSD, 8, map[string]int{"loc_main_wh": 80, "loc_store_1": 12, "loc_store_2": 6}},
		{"prd-cafe", "Café molido 250g", "Alimentos", "u", "900", domain.CurrencyCUP, "5", domain.CurrencyUSD, 5, map[string]int{"loc_main_wh": 50, "loc_store_1": 9}},
		{"prd-olla", "Olla arrocera", "Electrodomésticos", "u", "35", domain.CurrencyUSD, "24", domain.CurrencyUSD, 2, map[string]int{"loc_main_wh": 10, "loc_store_1": 2}},
		{"prd-cargador", "Cargador USB-C", "Tecnología", "u", "12", domain.CurrencyUSD, "7.5", domain.CurrencyUSD, 3, map[string]int{"loc_store_1": 15, "loc_store_2": 4}},
		{"prd-camiseta", "Camiseta algodón", "Ropa", "u", "1500", domain.CurrencyCUP, "900", domain.CurrencyCUP, 4, map[string]int{"loc_store_2": 20}},
	} {
		product := domain.Product{
			ID:                p.id,
			Name:              p.name,
			Category:          p.category,
			UnitOfMeasure:     p.unit,
			SalePriceAmount:   decimal.RequireFromString(p.sale),
			SalePriceCurrency: p.saleCurrency,
			CostPriceAmount:   decimal.RequireFromString(p.cost),
			CostPriceCurrency: p.costCurrency,
			StockMinimum:      p.minimum,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := pricing.ApplyLegacyPrices(&product, seedRate); err != nil {
			panic(fmt.Sprintf("seed product %s: %v", p.id, err))
		}
		s.products[product.ID] = product
		for locationID, stock := range p.stock {
			s.inventory[inventoryKey{product.ID, locationID}] = domain.InventoryItem{
				ProductID:  product.ID,
				LocationID: locationID,
				Stock:      stock,
				UpdatedAt:  now,
			}
		}
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	if filter.Limit > 0 && len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, locationID string, initialStock int) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || initialStock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}
	if _, ok := s.locations[locationID]; !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrInvalidLocation, locationID)
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.inventory[inventoryKey{product.ID, locationID}] = domain.InventoryItem{
		ProductID:  product.ID,
		LocationID: locationID,
		Stock:      initialStock,
		UpdatedAt:  now,
	}

	created := product
	return &created, nil
}

// UpdateProduct merges patch into the stored product under the write lock,
// so legacy prices come from the rate held at that moment.
func (s *Store) UpdateProduct(_ context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	err := store.ApplyPatch(&product, patch, func() (decimal.Decimal, error) {
		rate, ok := s.rates[ratePair{domain.CurrencyUSD, domain.BaseCurrency}]
		if !ok {
			return decimal.Zero, store.ErrNotFound
		}
		return rate.Rate, nil
	})
	if err != nil {
		return nil, err
	}
	if !patch.Empty() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[id] = product

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.products, id)
	for key := range s.inventory {
		if key.productID == id {
			delete(s.inventory, key)
		}
	}
	return &product, nil
}

func (s *Store) RepriceProducts(_ context.Context, from domain.Currency, rate decimal.Decimal, at time.Time) (int, int, error) {
	if !rate.IsPositive() {
		return 0, 0, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saleUpdated, costUpdated := 0, 0
	for id, p := range s.products {
		sale, cost := pricing.Reprice(&p, from, rate, at)
		if !sale && !cost {
			continue
		}
		if sale {
			saleUpdated++
		}
		if cost {
			costUpdated++
		}
		p.UpdatedAt = at.UTC()
		s.products[id] = p
	}
	return saleUpdated, costUpdated, nil
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	slices.SortFunc(out, func(a, b domain.Location) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loc, nil
}

func (s *Store) GetStock(_ context.Context, productID string, locationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory[inventoryKey{productID, locationID}].Stock, nil
}

func (s *Store) ListInventory(_ context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryItem, 0, len(s.inventory))
	for key, item := range s.inventory {
		if filter.ProductID != "" && key.productID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && key.locationID != filter.LocationID {
			continue
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b domain.InventoryItem) int {
		if a.ProductID == b.ProductID {
			return strings.Compare(a.LocationID, b.LocationID)
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out, nil
}

func (s *Store) SetStock(_ context.Context, productID string, locationID string, stock int) error {
	if stock < 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.locations[locationID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrInvalidLocation, locationID)
	}
	s.inventory[inventoryKey{productID, locationID}] = domain.InventoryItem{
		ProductID:  productID,
		LocationID: locationID,
		Stock:      stock,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, locationID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey{productID, locationID}
	item, ok := s.inventory[key]
	if !ok || item.Stock < qty {
		return 0, store.ErrInsufficientStock
	}
	item.Stock -= qty
	item.UpdatedAt = time.Now().UTC()
	s.inventory[key] = item
	return item.Stock, nil
}

func (s *Store) TransferStock(_ context.Context, productID string, fromLocationID string, toLocationID string, qty int) (int, int, error) {
	if qty < 1 {
		return 0, 0, store.ErrValidation
	}
	if fromLocationID == toLocationID {
		return 0, 0, fmt.Errorf("%w: source and destination are the same", store.ErrInvalidLocation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[fromLocationID]; !ok {
		return 0, 0, fmt.Errorf("%w: %s", store.ErrInvalidLocation, fromLocationID)
	}
	if _, ok := s.locations[toLocationID]; !ok {
		return 0, 0, fmt.Errorf("%w: %s", store.ErrInvalidLocation, toLocationID)
	}
	if _, ok := s.products[productID]; !ok {
		return 0, 0, store.ErrNotFound
	}

	srcKey := inventoryKey{productID, fromLocationID}
	src, ok := s.inventory[srcKey]
	if !ok || src.Stock < qty {
		return 0, 0, store.ErrInsufficientStock
	}

	now := time.Now().UTC()
	dstKey := inventoryKey{productID, toLocationID}
	dst, ok := s.inventory[dstKey]
	if !ok {
		dst = domain.InventoryItem{ProductID: productID, LocationID: toLocationID}
	}
	src.Stock -= qty
	src.UpdatedAt = now
	dst.Stock += qty
	dst.UpdatedAt = now
	s.inventory[srcKey] = src
	s.inventory[dstKey] = dst

	return src.Stock, dst.Stock, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if idx, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			existing := cloneSale(s.sales[idx])
			return &existing, nil
		}
	}
	if _, ok := s.locations[sale.LocationID]; !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrInvalidLocation, sale.LocationID)
	}

	// Check every line before touching any stock so a failure leaves no partial debit.
	needed := make(map[string]int, len(sale.Items))
	for _, line := range sale.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		needed[line.ProductID] += line.Quantity
	}
	for productID, qty := range needed {
		if s.inventory[inventoryKey{productID, sale.LocationID}].Stock < qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
		}
	}

	now := time.Now().UTC()
	for productID, qty := range needed {
		key := inventoryKey{productID, sale.LocationID}
		item := s.inventory[key]
		item.Stock -= qty
		item.UpdatedAt = now
		s.inventory[key] = item
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale = cloneSale(sale)
	s.sales = append(s.sales, sale)
	s.salesByID[sale.ID] = len(s.sales) - 1
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = len(s.sales) - 1
	}

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.LocationID != "" && sale.LocationID != filter.LocationID {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, cloneSale(sale))
	}

	slices.SortStableFunc(out, func(a, b domain.Sale) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if filter.Ascending {
			return c
		}
		return -c
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) GetExchangeRate(_ context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[ratePair{from, to}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rate, nil
}

func (s *Store) UpdateExchangeRate(_ context.Context, rate domain.ExchangeRate, changedBy string) (*domain.ExchangeRateChange, error) {
	if !rate.Rate.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	pair := ratePair{rate.CurrencyFrom, rate.CurrencyTo}
	change := domain.ExchangeRateChange{
		ID:           xid.New("rate"),
		CurrencyFrom: rate.CurrencyFrom,
		CurrencyTo:   rate.CurrencyTo,
		NewRate:      rate.Rate,
		ChangedBy:    changedBy,
		CreatedAt:    now,
	}
	if previous, ok := s.rates[pair]; ok {
		change.OldRate = decimal.NewNullDecimal(previous.Rate)
	}
	s.rateHistory = append(s.rateHistory, change)

	rate.UpdatedAt = now
	s.rates[pair] = rate
	return &change, nil
}

func (s *Store) ListExchangeRateHistory(_ context.Context, from domain.Currency, to domain.Currency, limit int) ([]domain.ExchangeRateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExchangeRateChange, 0, len(s.rateHistory))
	for i := len(s.rateHistory) - 1; i >= 0; i-- {
		entry := s.rateHistory[i]
		if entry.CurrencyFrom != from || entry.CurrencyTo != to {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = append([]domain.SaleLine(nil), src.Items...)
	return dst
}
