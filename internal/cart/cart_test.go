package cart

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, price string, stock int) Item {
	return Item{ProductID: id, Name: "product " + id, Price: decimal.RequireFromString(price), Stock: stock}
}

func TestAddItemInsertsAndIncrements(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	assert.Equal(t, StateEmpty, c.State())

	line, err := c.AddItem(item("p1", "5.00", 3))
	require.NoError(t, err)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, StateBuilding, c.State())

	line, err = c.AddItem(item("p1", "5.00", 3))
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
}

func TestAddItemNeverExceedsStock(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	for i := 0; i < 2; i++ {
		_, err := c.AddItem(item("p1", "5.00", 2))
		require.NoError(t, err)
	}

	line, err := c.AddItem(item("p1", "5.00", 2))
	assert.ErrorIs(t, err, ErrStockExhausted)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, 2, c.Lines()[0].Quantity)
}

func TestAddItemRejectsOutOfStockProduct(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")

	_, err := c.AddItem(item("p1", "5.00", 0))
	assert.ErrorIs(t, err, ErrStockExhausted)
	assert.Empty(t, c.Lines())
	assert.Equal(t, StateEmpty, c.State())
}

func TestSetQuantityClampsAndRemoves(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	_, err := c.AddItem(item("p1", "5.00", 4))
	require.NoError(t, err)

	line, err := c.SetQuantity("p1", 10)
	require.NoError(t, err)
	assert.Equal(t, 4, line.Quantity)

	line, err = c.SetQuantity("p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)

	_, err = c.SetQuantity("p1", 0)
	require.NoError(t, err)
	assert.Empty(t, c.Lines())
	assert.Equal(t, StateEmpty, c.State())

	_, err = c.SetQuantity("missing", 1)
	assert.ErrorIs(t, err, ErrItemNotInCart)
}

func TestRemoveItemIsUnconditional(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	_, _ = c.AddItem(item("p1", "5.00", 4))
	_, _ = c.AddItem(item("p2", "3.00", 4))

	require.NoError(t, c.RemoveItem("p1"))
	require.NoError(t, c.RemoveItem("not-there"))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "p2", lines[0].ProductID)
}

func TestTotalIsRecomputed(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	_, _ = c.AddItem(item("p1", "5.00", 5))
	_, _ = c.AddItem(item("p1", "5.00", 5))
	_, _ = c.AddItem(item("p2", "3.00", 5))

	assert.True(t, decimal.RequireFromString("13.00").Equal(c.Total()))

	_, err := c.SetQuantity("p2", 3)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("19.00").Equal(c.Total()))
}

func TestCheckoutStateMachine(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")

	_, err := c.BeginCheckout()
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, _ = c.AddItem(item("p1", "5.00", 5))
	lines, err := c.BeginCheckout()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, StateCheckingOut, c.State())

	_, err = c.BeginCheckout()
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = c.AddItem(item("p1", "5.00", 5))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	c.FailCheckout()
	assert.Equal(t, StateFailed, c.State())
	assert.Len(t, c.Lines(), 1, "failed checkout keeps the cart")

	_, err = c.BeginCheckout()
	require.NoError(t, err)
	c.CompleteCheckout("sale-1")

	view := c.Snapshot()
	assert.Equal(t, StateCompleted, view.State)
	assert.Empty(t, view.Lines)
	assert.Equal(t, "sale-1", view.LastSaleID)
	assert.True(t, view.Total.IsZero())

	_, err = c.AddItem(item("p2", "3.00", 1))
	require.NoError(t, err)
	assert.Equal(t, StateBuilding, c.State())
}

func TestSaleLinesCopiesSnapshot(t *testing.T) {
	c := New("cart-1", "loc_store_1", "cashier")
	_, _ = c.AddItem(item("p1", "5.00", 5))
	_, _ = c.SetQuantity("p1", 2)

	lines := SaleLines(c.Lines())
	require.Len(t, lines, 1)
	assert.Equal(t, "p1", lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("10").Equal(lines[0].Subtotal()))
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(time.Minute)
	c := reg.Open("loc_store_1", "cashier")

	got, err := reg.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, _ = c.AddItem(item("p1", "5.00", 5))
	_, err = c.BeginCheckout()
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Discard(c.ID()), ErrCheckoutInProgress)

	c.FailCheckout()
	require.NoError(t, reg.Discard(c.ID()))
	_, err = reg.Get(c.ID())
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestRegistrySweepsIdleCarts(t *testing.T) {
	reg := NewRegistry(time.Minute)
	idle := reg.Open("loc_store_1", "cashier")
	busy := reg.Open("loc_store_1", "cashier")
	_, _ = busy.AddItem(item("p1", "5.00", 5))
	_, err := busy.BeginCheckout()
	require.NoError(t, err)

	reg.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, reg.Sweep())

	_, err = reg.Get(idle.ID())
	assert.ErrorIs(t, err, ErrCartNotFound)
	_, err = reg.Get(busy.ID())
	assert.NoError(t, err)
}
