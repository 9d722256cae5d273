// Package cart holds the per-session shopping cart of a cashier. A cart lives
// only in process memory; it is discarded on successful checkout or when the
// session abandons it.
package cart

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tiendapos/internal/domain"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrStockExhausted     = errors.New("stock exhausted for product")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrItemNotInCart      = errors.New("product is not in the cart")
	ErrCartNotFound       = errors.New("cart not found")
)

type State string

const (
	StateEmpty       State = "empty"
	StateBuilding    State = "building"
	StateCheckingOut State = "checking_out"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Item is the catalog view a line is built from: current base-currency price
// and the stock available at the cart's location.
type Item struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Stock     int
}

type Line struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int             `json:"quantity"`
	StockAtAddTime int             `json:"stock_at_add_time"`
}

type View struct {
	ID         string          `json:"id"`
	LocationID string          `json:"location_id"`
	Owner      string          `json:"owner"`
	State      State           `json:"state"`
	Lines      []Line          `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	ItemCount  int             `json:"item_count"`
	LastSaleID string          `json:"last_sale_id,omitempty"`
}

type Cart struct {
	mu         sync.Mutex
	id         string
	locationID string
	owner      string
	state      State
	lines      []Line
	lastSaleID string
	touchedAt  time.Time
}

func New(id string, locationID string, owner string) *Cart {
	return &Cart{
		id:         id,
		locationID: locationID,
		owner:      owner,
		state:      StateEmpty,
		touchedAt:  time.Now(),
	}
}

func (c *Cart) ID() string         { return c.id }
func (c *Cart) LocationID() string { return c.locationID }
func (c *Cart) Owner() string      { return c.owner }

func (c *Cart) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AddItem inserts a new line with quantity 1 or increments an existing one.
// It returns ErrStockExhausted, leaving the cart unchanged, when the product
// has no stock or the line already holds all of it.
func (c *Cart) AddItem(item Item) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCheckingOut {
		return Line{}, ErrCheckoutInProgress
	}

	idx := c.indexOf(item.ProductID)
	if idx < 0 {
		if item.Stock <= 0 {
			return Line{}, ErrStockExhausted
		}
		line := Line{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       1,
			StockAtAddTime: item.Stock,
		}
		c.lines = append(c.lines, line)
		c.afterMutation()
		return line, nil
	}

	line := &c.lines[idx]
	line.StockAtAddTime = item.Stock
	if line.Quantity >= item.Stock {
		return *line, ErrStockExhausted
	}
	line.Quantity++
	c.afterMutation()
	return *line, nil
}

// SetQuantity removes the line when n <= 0 and otherwise clamps n to
// [1, stock at add time].
func (c *Cart) SetQuantity(productID string, n int) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCheckingOut {
		return Line{}, ErrCheckoutInProgress
	}
	idx := c.indexOf(productID)
	if idx < 0 {
		return Line{}, ErrItemNotInCart
	}
	if n <= 0 {
		removed := c.lines[idx]
		removed.Quantity = 0
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		c.afterMutation()
		return removed, nil
	}

	line := &c.lines[idx]
	if n > line.StockAtAddTime {
		n = line.StockAtAddTime
	}
	if n < 1 {
		n = 1
	}
	line.Quantity = n
	c.afterMutation()
	return *line, nil
}

// RefreshStock updates the stock bound of an existing line without changing
// its quantity.
func (c *Cart) RefreshStock(productID string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(productID); idx >= 0 {
		c.lines[idx].StockAtAddTime = stock
	}
}

func (c *Cart) RemoveItem(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCheckingOut {
		return ErrCheckoutInProgress
	}
	if idx := c.indexOf(productID); idx >= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		c.afterMutation()
	}
	return nil
}

// Total is recomputed from the lines on every call.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return total(c.lines)
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// BeginCheckout moves the cart into CheckingOut and returns the lines to be
// sold. A cart that is already checking out rejects a second attempt.
func (c *Cart) BeginCheckout() ([]Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCheckingOut {
		return nil, ErrCheckoutInProgress
	}
	if len(c.lines) == 0 {
		return nil, ErrEmptyCart
	}
	c.state = StateCheckingOut
	c.touchedAt = time.Now()
	return append([]Line(nil), c.lines...), nil
}

// CompleteCheckout clears the cart after the sale has been recorded.
func (c *Cart) CompleteCheckout(saleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.lastSaleID = saleID
	c.state = StateCompleted
	c.touchedAt = time.Now()
}

func (c *Cart) LastSaleID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaleID
}

// FailCheckout keeps the lines so the operator can retry.
func (c *Cart) FailCheckout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	c.touchedAt = time.Now()
}

func (c *Cart) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return View{
		ID:         c.id,
		LocationID: c.locationID,
		Owner:      c.owner,
		State:      c.state,
		Lines:      append([]Line{}, c.lines...),
		Total:      total(c.lines),
		ItemCount:  count,
		LastSaleID: c.lastSaleID,
	}
}

// SaleLines converts cart lines into immutable sale snapshots.
func SaleLines(lines []Line) []domain.SaleLine {
	out := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.SaleLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.Price,
			Quantity:  line.Quantity,
		})
	}
	return out
}

func (c *Cart) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touchedAt, c.state == StateCheckingOut
}

func (c *Cart) indexOf(productID string) int {
	for i, line := range c.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) afterMutation() {
	c.touchedAt = time.Now()
	if len(c.lines) == 0 {
		c.state = StateEmpty
		return
	}
	c.state = StateBuilding
}

func total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return sum
}
