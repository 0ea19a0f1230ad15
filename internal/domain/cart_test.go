package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id int, price string) Product {
	return Product{ID: id, Name: "p", Price: decimal.RequireFromString(price)}
}

// ============================================================================
// Add
// ============================================================================

func TestAdd_DistinctProducts(t *testing.T) {
	var c Cart
	prices := []string{"9.99", "4.99", "7.99", "19.99"}
	want := decimal.Zero
	for i, p := range prices {
		c.Add(product(i+1, p))
		want = want.Add(decimal.RequireFromString(p))
	}

	assert.Equal(t, len(prices), c.ItemCount())
	assert.True(t, want.Equal(c.Total()), "total %s", c.Total())
	assert.Equal(t, len(prices), c.Len())
}

func TestAdd_SameProductTwice(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	c.Add(product(1, "9.99"))

	require.Equal(t, 1, c.Len())
	assert.Equal(t, 2, c.Lines()[0].Quantity)
	assert.Equal(t, "19.98", c.Total().StringFixed(2))
}

func TestAdd_KeepsFirstSnapshot(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	c.Add(product(1, "1.00")) // catalog price changed after the first add

	assert.Equal(t, "9.99", c.Lines()[0].Price.StringFixed(2))
	assert.Equal(t, "19.98", c.Total().StringFixed(2))
}

func TestAdd_StopsAtQuantityLimit(t *testing.T) {
	c, _ := NewCart([]CartLine{{Product: product(1, "9.99"), Quantity: MaxLineQuantity - 1}})

	require.NoError(t, c.Add(product(1, "9.99")))
	assert.Equal(t, MaxLineQuantity, c.ItemCount())

	err := c.Add(product(1, "9.99"))
	assert.ErrorIs(t, err, ErrQuantityLimit)
	assert.Equal(t, MaxLineQuantity, c.ItemCount())
	assert.True(t, c.Total().IsPositive())
}

// ============================================================================
// Remove / SetQuantity
// ============================================================================

func TestSetQuantity_Total(t *testing.T) {
	var c Cart
	c.Add(product(2, "4.99"))

	assert.True(t, c.SetQuantity(2, 3))
	assert.Equal(t, "14.97", c.Total().StringFixed(2))
}

func TestSetQuantity_NonPositiveRemoves(t *testing.T) {
	for _, qty := range []int{0, -5} {
		var c Cart
		c.Add(product(1, "9.99"))
		c.Add(product(2, "4.99"))

		assert.True(t, c.SetQuantity(1, qty))
		assert.Equal(t, -1, c.Find(1), "qty %d", qty)
		assert.Equal(t, 1, c.Len())
	}
}

func TestSetQuantity_AbsentIsNoop(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))

	assert.False(t, c.SetQuantity(9, 4))
	assert.Equal(t, 1, c.ItemCount())
}

func TestSetQuantity_AboveLimitIsIgnored(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))

	assert.False(t, c.SetQuantity(1, MaxLineQuantity+1))
	assert.True(t, c.SetQuantity(1, MaxLineQuantity))
	assert.Equal(t, MaxLineQuantity, c.ItemCount())
}

func TestRemove_AbsentLeavesCartUnchanged(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	before := c.Lines()

	assert.False(t, c.Remove(42))
	assert.Equal(t, before, c.Lines())
}

func TestRemove_FirstOfTwo(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	c.Add(product(2, "4.99"))
	c.Add(product(2, "4.99"))

	assert.True(t, c.Remove(1))
	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].ID)
	assert.Equal(t, lines[0].Quantity, c.ItemCount())
}

// ============================================================================
// Clear / derived values
// ============================================================================

func TestClear(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	c.Add(product(3, "7.99"))
	c.Clear()

	assert.Equal(t, 0, c.ItemCount())
	assert.True(t, c.Total().IsZero())
}

func TestEmptyCart(t *testing.T) {
	var c Cart
	assert.Equal(t, 0, c.ItemCount())
	assert.True(t, c.Total().IsZero())
	assert.Empty(t, c.Lines())
}

func TestClone_Independent(t *testing.T) {
	var c Cart
	c.Add(product(1, "9.99"))
	snap := c.Clone()

	c.Add(product(1, "9.99"))
	c.Add(product(2, "4.99"))

	assert.Equal(t, 1, snap.ItemCount())
	assert.Equal(t, 3, c.ItemCount())
}

// ============================================================================
// NewCart
// ============================================================================

func TestNewCart_DropsInvalidLines(t *testing.T) {
	lines := []CartLine{
		{Product: product(1, "9.99"), Quantity: 2},
		{Product: product(2, "4.99"), Quantity: 0},
		{Product: product(3, "-1.00"), Quantity: 1},
		{Product: product(1, "1.00"), Quantity: 5},
		{Product: product(4, "19.99"), Quantity: 1},
		{Product: product(5, "1.00"), Quantity: MaxLineQuantity + 1},
	}

	c, dropped := NewCart(lines)

	assert.Equal(t, 4, dropped)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Lines()[0].Quantity)
	assert.Equal(t, "9.99", c.Lines()[0].Price.StringFixed(2))
	assert.Equal(t, 4, c.Lines()[1].ID)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$9.99", FormatPrice(decimal.RequireFromString("9.99")))
	assert.Equal(t, "$2.50", FormatPrice(decimal.RequireFromString("2.5")))
	assert.Equal(t, "$0.00", FormatPrice(decimal.Zero))
	assert.Equal(t, "USD", Currency.String())
}
