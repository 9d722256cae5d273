package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
	"tiendapos/internal/store"
	"tiendapos/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	return &Store{db: db}, nil
}

// EnsureSchema creates missing tables and the reference locations. Every
// statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `
	id, name, description, category, unit_of_measure,
	sale_price_amount, sale_price_currency, cost_price_amount, cost_price_currency,
	sale_price, cost_price, stock_minimum, imageurl, last_recalculated_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var saleCurrency, costCurrency string
	var imageURL sql.NullString
	var recalculatedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.UnitOfMeasure,
		&p.SalePriceAmount, &saleCurrency, &p.CostPriceAmount, &costCurrency,
		&p.SalePrice, &p.CostPrice, &p.StockMinimum, &imageURL, &recalculatedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.SalePriceCurrency = domain.Currency(saleCurrency)
	p.CostPriceCurrency = domain.Currency(costCurrency)
	if imageURL.Valid {
		p.ImageURL = imageURL.String
	}
	if recalculatedAt.Valid {
		at := recalculatedAt.Time.UTC()
		p.LastRecalculatedAt = &at
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := make([]any, 0, 3)
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND lower(category) = lower($%d)", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		query += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	query += " ORDER BY name ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, locationID string, initialStock int) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || initialStock < 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanProduct(tx.QueryRowContext(ctx, `
		INSERT INTO products (
			id, name, description, category, unit_of_measure,
			sale_price_amount, sale_price_currency, cost_price_amount, cost_price_currency,
			sale_price, cost_price, stock_minimum, imageurl, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		RETURNING `+productColumns,
		product.ID, product.Name, product.Description, product.Category, product.UnitOfMeasure,
		product.SalePriceAmount, string(product.SalePriceCurrency), product.CostPriceAmount, string(product.CostPriceCurrency),
		product.SalePrice, product.CostPrice, product.StockMinimum, nullIfEmpty(product.ImageURL),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, location_id, stock, updated_at)
		VALUES ($1,$2,$3,now())
	`, created.ID, locationID, initialStock)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrInvalidLocation, locationID)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProduct locks the row, merges the patch and writes back only the
// columns the patch names. Legacy prices are derived from the rate row read
// in the same transaction, so a concurrent rate change either waits for this
// edit or is seen by it.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanProduct(tx.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	err = store.ApplyPatch(&current, patch, func() (decimal.Decimal, error) {
		var rate decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			SELECT rate FROM exchange_rates
			WHERE currency_from = $1 AND currency_to = $2
			FOR SHARE
		`, string(domain.CurrencyUSD), string(domain.BaseCurrency)).Scan(&rate)
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, store.ErrNotFound
		}
		return rate, err
	})
	if err != nil {
		return nil, err
	}

	sets, args := patchAssignments(current, patch)
	if len(sets) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &current, nil
	}
	args = append(args, id)
	updated, err := scanProduct(tx.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE products SET %s, updated_at = now()
		WHERE id = $%d
		RETURNING `+productColumns, strings.Join(sets, ", "), len(args)), args...))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

// patchAssignments lists "column = $n" for every column patch touches, with
// values taken from the merged row.
func patchAssignments(merged domain.Product, patch domain.ProductPatch) ([]string, []any) {
	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		set("name", merged.Name)
	}
	if patch.Description != nil {
		set("description", merged.Description)
	}
	if patch.Category != nil {
		set("category", merged.Category)
	}
	if patch.UnitOfMeasure != nil {
		set("unit_of_measure", merged.UnitOfMeasure)
	}
	if patch.SalePriceAmount != nil {
		set("sale_price_amount", merged.SalePriceAmount)
	}
	if patch.SalePriceCurrency != nil {
		set("sale_price_currency", string(merged.SalePriceCurrency))
	}
	if patch.CostPriceAmount != nil {
		set("cost_price_amount", merged.CostPriceAmount)
	}
	if patch.CostPriceCurrency != nil {
		set("cost_price_currency", string(merged.CostPriceCurrency))
	}
	if patch.Repriced() {
		set("sale_price", merged.SalePrice)
		set("cost_price", merged.CostPrice)
	}
	if patch.StockMinimum != nil {
		set("stock_minimum", merged.StockMinimum)
	}
	if patch.ImageURL != nil {
		set("imageurl", nullIfEmpty(merged.ImageURL))
	}
	return sets, args
}

func (s *Store) DeleteProduct(ctx context.Context, id string) (*domain.Product, error) {
	// inventory rows go with the product through ON DELETE CASCADE.
	deleted, err := scanProduct(s.db.QueryRowContext(ctx, `
		DELETE FROM products WHERE id = $1 RETURNING `+productColumns, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &deleted, nil
}

func (s *Store) RepriceProducts(ctx context.Context, from domain.Currency, rate decimal.Decimal, at time.Time) (int, int, error) {
	if !rate.IsPositive() {
		return 0, 0, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// ROUND(numeric, 2) rounds half away from zero, the same rule pricing.Round uses.
	saleRes, err := tx.ExecContext(ctx, `
		UPDATE products
		SET sale_price = ROUND(sale_price_amount * $1::numeric, 2),
			last_recalculated_at = $3, updated_at = $3
		WHERE sale_price_currency = $2
	`, rate, string(from), at.UTC())
	if err != nil {
		return 0, 0, err
	}
	costRes, err := tx.ExecContext(ctx, `
		UPDATE products
		SET cost_price = ROUND(cost_price_amount * $1::numeric, 2),
			last_recalculated_at = $3, updated_at = $3
		WHERE cost_price_currency = $2
	`, rate, string(from), at.UTC())
	if err != nil {
		return 0, 0, err
	}

	saleUpdated, err := saleRes.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	costUpdated, err := costRes.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return int(saleUpdated), int(costUpdated), nil
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type FROM locations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Location, 0, 8)
	for rows.Next() {
		var loc domain.Location
		var typ string
		if err := rows.Scan(&loc.ID, &loc.Name, &typ); err != nil {
			return nil, err
		}
		loc.Type = domain.LocationType(typ)
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *Store) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	var typ string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, type FROM locations WHERE id = $1`, id).Scan(&loc.ID, &loc.Name, &typ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	loc.Type = domain.LocationType(typ)
	return &loc, nil
}

func (s *Store) GetStock(ctx context.Context, productID string, locationID string) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM inventory WHERE product_id = $1 AND location_id = $2
	`, productID, locationID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return stock, nil
}

func (s *Store) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	query := `SELECT product_id, location_id, stock, updated_at FROM inventory WHERE 1=1`
	args := make([]any, 0, 2)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		query += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	query += " ORDER BY product_id ASC, location_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ProductID, &item.LocationID, &item.Stock, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.UpdatedAt = item.UpdatedAt.UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) SetStock(ctx context.Context, productID string, locationID string, stock int) error {
	if stock < 0 {
		return store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, location_id, stock, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (product_id, location_id)
		DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()
	`, productID, locationID, stock)
	if err != nil {
		if isForeignKeyViolation(err) {
			return s.classifyMissingReference(ctx, productID, locationID)
		}
		return err
	}
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, productID string, locationID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrValidation
	}

	var left int
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory
		SET stock = stock - $3, updated_at = now()
		WHERE product_id = $1 AND location_id = $2 AND stock >= $3
		RETURNING stock
	`, productID, locationID, qty).Scan(&left)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrInsufficientStock
		}
		return 0, err
	}
	return left, nil
}

func (s *Store) TransferStock(ctx context.Context, productID string, fromLocationID string, toLocationID string, qty int) (int, int, error) {
	if qty < 1 {
		return 0, 0, store.ErrValidation
	}
	if fromLocationID == toLocationID {
		return 0, 0, fmt.Errorf("%w: source and destination are the same", store.ErrInvalidLocation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var known int
	if err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM locations WHERE id = ANY($1)
	`, []string{fromLocationID, toLocationID}).Scan(&known); err != nil {
		return 0, 0, err
	}
	if known != 2 {
		return 0, 0, fmt.Errorf("%w: %s -> %s", store.ErrInvalidLocation, fromLocationID, toLocationID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, location_id, stock, updated_at)
		VALUES ($1,$2,0,now())
		ON CONFLICT (product_id, location_id) DO NOTHING
	`, productID, toLocationID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, 0, store.ErrNotFound
		}
		return 0, 0, err
	}

	// Lock both rows in a fixed order so opposite transfers cannot deadlock.
	lockOrder := []string{fromLocationID, toLocationID}
	sort.Strings(lockOrder)
	rows, err := tx.QueryContext(ctx, `
		SELECT location_id FROM inventory
		WHERE product_id = $1 AND location_id = ANY($2)
		ORDER BY location_id
		FOR UPDATE
	`, productID, lockOrder)
	if err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		var locked string
		if err := rows.Scan(&locked); err != nil {
			_ = rows.Close()
			return 0, 0, err
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, 0, err
	}
	_ = rows.Close()

	var fromLeft int
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory
		SET stock = stock - $3, updated_at = now()
		WHERE product_id = $1 AND location_id = $2 AND stock >= $3
		RETURNING stock
	`, productID, fromLocationID, qty).Scan(&fromLeft)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, store.ErrInsufficientStock
		}
		return 0, 0, err
	}

	var toNow int
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory
		SET stock = stock + $3, updated_at = now()
		WHERE product_id = $1 AND location_id = $2
		RETURNING stock
	`, productID, toLocationID, qty).Scan(&toNow)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return fromLeft, toNow, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	needed := make(map[string]int, len(sale.Items))
	for _, line := range sale.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		needed[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(needed))
	for id := range needed {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var insertedID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (id, created_at, location_id, items, total, cashier, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, sale.ID, sale.CreatedAt, sale.LocationID, string(items), sale.Total, sale.Cashier,
		nullIfEmpty(sale.IdempotencyKey)).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrInvalidLocation, sale.LocationID)
		}
		return nil, err
	}

	// Debit in product id order; any short line rolls back the sale row too.
	for _, productID := range productIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET stock = stock - $3, updated_at = now()
			WHERE product_id = $1 AND location_id = $2 AND stock >= $3
		`, productID, sale.LocationID, needed[productID])
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

const saleColumns = `id, created_at, location_id, items, total, cashier, idempotency_key`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var items []byte
	var idem sql.NullString
	if err := row.Scan(&sale.ID, &sale.CreatedAt, &sale.LocationID, &items, &sale.Total, &sale.Cashier, &idem); err != nil {
		return domain.Sale{}, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return domain.Sale{}, fmt.Errorf("decode sale %s items: %w", sale.ID, err)
	}
	if idem.Valid {
		sale.IdempotencyKey = idem.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	sale, err := scanSale(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sales WHERE %s = $1`, saleColumns, column), value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
	args := make([]any, 0, 4)
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		query += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if filter.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *Store) GetExchangeRate(ctx context.Context, from domain.Currency, to domain.Currency) (*domain.ExchangeRate, error) {
	rate := domain.ExchangeRate{CurrencyFrom: from, CurrencyTo: to}
	err := s.db.QueryRowContext(ctx, `
		SELECT rate, updated_at FROM exchange_rates WHERE currency_from = $1 AND currency_to = $2
	`, string(from), string(to)).Scan(&rate.Rate, &rate.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rate.UpdatedAt = rate.UpdatedAt.UTC()
	return &rate, nil
}

func (s *Store) UpdateExchangeRate(ctx context.Context, rate domain.ExchangeRate, changedBy string) (*domain.ExchangeRateChange, error) {
	if !rate.Rate.IsPositive() {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	change := domain.ExchangeRateChange{
		ID:           xid.New("rate"),
		CurrencyFrom: rate.CurrencyFrom,
		CurrencyTo:   rate.CurrencyTo,
		NewRate:      rate.Rate,
		ChangedBy:    changedBy,
		CreatedAt:    time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE currency_from = $1 AND currency_to = $2
		FOR UPDATE
	`, string(rate.CurrencyFrom), string(rate.CurrencyTo)).Scan(&change.OldRate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exchange_rates_history (id, currency_from, currency_to, old_rate, new_rate, changed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, change.ID, string(change.CurrencyFrom), string(change.CurrencyTo), change.OldRate, change.NewRate,
		change.ChangedBy, change.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exchange_rates (currency_from, currency_to, rate, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (currency_from, currency_to)
		DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at
	`, string(rate.CurrencyFrom), string(rate.CurrencyTo), rate.Rate, change.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *Store) ListExchangeRateHistory(ctx context.Context, from domain.Currency, to domain.Currency, limit int) ([]domain.ExchangeRateChange, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, currency_from, currency_to, old_rate, new_rate, changed_by, created_at
		FROM exchange_rates_history
		WHERE currency_from = $1 AND currency_to = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, string(from), string(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ExchangeRateChange, 0, limit)
	for rows.Next() {
		var entry domain.ExchangeRateChange
		var fromRaw, toRaw string
		if err := rows.Scan(&entry.ID, &fromRaw, &toRaw, &entry.OldRate, &entry.NewRate, &entry.ChangedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CurrencyFrom = domain.Currency(fromRaw)
		entry.CurrencyTo = domain.Currency(toRaw)
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) classifyMissingReference(ctx context.Context, productID string, locationID string) error {
	if _, err := s.GetLocation(ctx, locationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", store.ErrInvalidLocation, locationID)
		}
		return err
	}
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return err
	}
	return store.ErrValidation
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
