package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity is the most units one cart line may hold.
const MaxLineQuantity = 9999

// ErrQuantityLimit is returned when an add would take a line past
// MaxLineQuantity.
var ErrQuantityLimit = errors.New("cart line quantity limit reached")

// ChangeKind names the mutation that produced a cart change.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
	ChangeCleared ChangeKind = "cleared"
)

// CartLine is a snapshot of a product taken when it was first added, plus
// the quantity held. The snapshot is never refreshed from the catalog.
type CartLine struct {
	Product
	Quantity int `json:"quantity"`
}

// Subtotal is the snapshot price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered sequence of lines, unique by product ID, each with a
// quantity of at least one.
type Cart struct {
	lines []CartLine
}

// NewCart builds a cart from previously stored lines. Lines with a quantity
// outside 1..MaxLineQuantity or a negative price are dropped, as is any line
// whose product ID already appeared earlier. It reports how many lines were
// dropped.
func NewCart(lines []CartLine) (Cart, int) {
	c := Cart{lines: make([]CartLine, 0, len(lines))}
	dropped := 0
	for _, l := range lines {
		if l.Quantity < 1 || l.Quantity > MaxLineQuantity || l.Price.IsNegative() || c.Find(l.ID) >= 0 {
			dropped++
			continue
		}
		c.lines = append(c.lines, l)
	}
	return c, dropped
}

// Find returns the index of the line holding productID, or -1.
func (c *Cart) Find(productID int) int {
	for i := range c.lines {
		if c.lines[i].ID == productID {
			return i
		}
	}
	return -1
}

// Add increments the quantity of an existing line or appends a snapshot of p
// with quantity one. A line already at MaxLineQuantity is left unchanged and
// ErrQuantityLimit returned.
func (c *Cart) Add(p Product) error {
	if i := c.Find(p.ID); i >= 0 {
		if c.lines[i].Quantity >= MaxLineQuantity {
			return ErrQuantityLimit
		}
		c.lines[i].Quantity++
		return nil
	}
	c.lines = append(c.lines, CartLine{Product: p, Quantity: 1})
	return nil
}

// Remove deletes the line for productID and reports whether one existed.
func (c *Cart) Remove(productID int) bool {
	i := c.Find(productID)
	if i < 0 {
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return true
}

// SetQuantity sets the quantity of an existing line; qty <= 0 removes it and
// qty above MaxLineQuantity is ignored. It reports whether the cart changed.
func (c *Cart) SetQuantity(productID, qty int) bool {
	if qty <= 0 {
		return c.Remove(productID)
	}
	i := c.Find(productID)
	if i < 0 || qty > MaxLineQuantity || c.lines[i].Quantity == qty {
		return false
	}
	c.lines[i].Quantity = qty
	return true
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = c.lines[:0]
}

// Total is the exact sum of every line subtotal.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount is the sum of quantities.
func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Len is the number of distinct lines.
func (c Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the lines in order.
func (c Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Clone returns an independent copy.
func (c Cart) Clone() Cart {
	return Cart{lines: c.Lines()}
}
