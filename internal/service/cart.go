package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Change describes one successful cart mutation.
type Change struct {
	Kind      domain.ChangeKind
	ProductID int
	Lines     []domain.CartLine
	ItemCount int
	Total     decimal.Decimal
}

// CartListener is told about every successful mutation, after the write.
type CartListener interface {
	CartChanged(ctx context.Context, change Change)
}

// CartListenerFunc adapts a function to CartListener.
type CartListenerFunc func(ctx context.Context, change Change)

func (f CartListenerFunc) CartChanged(ctx context.Context, change Change) { f(ctx, change) }

// CartStore owns one page's cart and is the only reader and writer of its
// cart slot. It is not safe for concurrent use; callers serialize access on
// the page's loop.
type CartStore struct {
	slots     repository.SlotStore
	cart      domain.Cart
	listeners []CartListener
	logger    *slog.Logger
	metrics   *Metrics
}

// CartOption configures a CartStore.
type CartOption func(*CartStore)

// WithListener subscribes l to cart changes.
func WithListener(l CartListener) CartOption {
	return func(s *CartStore) { s.listeners = append(s.listeners, l) }
}

// WithMetrics records mutation counters on m.
func WithMetrics(m *Metrics) CartOption {
	return func(s *CartStore) { s.metrics = m }
}

// HydrateCart loads the cart from the cart slot. An absent, unreadable or
// malformed slot yields an empty cart; the failure is logged, never returned.
func HydrateCart(ctx context.Context, slots repository.SlotStore, logger *slog.Logger, opts ...CartOption) *CartStore {
	s := &CartStore{slots: slots, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NopMetrics()
	}

	raw, err := slots.Get(ctx, repository.SlotCart)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "cart slot unreadable, starting empty", slog.String("error", err.Error()))
			s.metrics.HydrateFallbacks.WithLabelValues("read_error").Inc()
		}
		return s
	}

	lines, skipped, err := decodeLines(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "cart slot malformed, starting empty", slog.String("error", err.Error()))
		s.metrics.HydrateFallbacks.WithLabelValues("malformed").Inc()
		return s
	}

	cart, dropped := domain.NewCart(lines)
	if n := skipped + dropped; n > 0 {
		s.logger.WarnContext(ctx, "dropped invalid cart lines", slog.Int("dropped", n))
		s.metrics.DroppedLines.Add(float64(n))
	}
	s.cart = cart
	return s
}

// Subscribe adds a listener after construction.
func (s *CartStore) Subscribe(l CartListener) {
	s.listeners = append(s.listeners, l)
}

// AddItem adds one unit of p, snapshotting it if it is not yet in the cart.
func (s *CartStore) AddItem(ctx context.Context, p domain.Product) error {
	if p.Price.IsNegative() {
		return apperrors.InvalidInput("price must not be negative")
	}
	var addErr error
	err := s.mutate(ctx, domain.ChangeAdded, p.ID, func(c *domain.Cart) bool {
		addErr = c.Add(p)
		return addErr == nil
	})
	if errors.Is(addErr, domain.ErrQuantityLimit) {
		return apperrors.InvalidInput(fmt.Sprintf("quantity cannot exceed %d", domain.MaxLineQuantity))
	}
	return err
}

// RemoveItem deletes the line for productID. An absent ID is a no-op.
func (s *CartStore) RemoveItem(ctx context.Context, productID int) error {
	return s.mutate(ctx, domain.ChangeRemoved, productID, func(c *domain.Cart) bool {
		return c.Remove(productID)
	})
}

// UpdateQuantity sets the quantity of an existing line; qty <= 0 removes it.
// An absent ID is a no-op.
func (s *CartStore) UpdateQuantity(ctx context.Context, productID, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, productID)
	}
	if qty > domain.MaxLineQuantity {
		return apperrors.InvalidInput(fmt.Sprintf("quantity cannot exceed %d", domain.MaxLineQuantity))
	}
	return s.mutate(ctx, domain.ChangeUpdated, productID, func(c *domain.Cart) bool {
		return c.SetQuantity(productID, qty)
	})
}

// Clear empties the cart.
func (s *CartStore) Clear(ctx context.Context) error {
	return s.mutate(ctx, domain.ChangeCleared, 0, func(c *domain.Cart) bool {
		c.Clear()
		return true
	})
}

// Total is the cart total at snapshot prices.
func (s *CartStore) Total() decimal.Decimal { return s.cart.Total() }

// ItemCount is the number of units in the cart.
func (s *CartStore) ItemCount() int { return s.cart.ItemCount() }

// Lines returns a copy of the cart lines.
func (s *CartStore) Lines() []domain.CartLine { return s.cart.Lines() }

// mutate applies fn and writes the cart through. When the write fails the
// previous cart is restored, so memory and storage never disagree.
func (s *CartStore) mutate(ctx context.Context, kind domain.ChangeKind, productID int, fn func(*domain.Cart) bool) error {
	prev := s.cart.Clone()
	if !fn(&s.cart) {
		return nil
	}
	if err := s.persist(ctx); err != nil {
		s.cart = prev
		s.metrics.PersistFailures.Inc()
		s.logger.ErrorContext(ctx, "cart write failed, rolled back",
			slog.String("kind", string(kind)),
			slog.Int("product_id", productID),
			slog.String("error", err.Error()),
		)
		return apperrors.Unavailable("cart storage unavailable", err)
	}
	s.metrics.CartMutations.WithLabelValues(string(kind)).Inc()

	change := Change{
		Kind:      kind,
		ProductID: productID,
		Lines:     s.cart.Lines(),
		ItemCount: s.cart.ItemCount(),
		Total:     s.cart.Total(),
	}
	for _, l := range s.listeners {
		l.CartChanged(ctx, change)
	}
	return nil
}

// persist writes the full line sequence to the cart slot.
func (s *CartStore) persist(ctx context.Context) error {
	raw, err := encodeLines(s.cart.Lines())
	if err != nil {
		return err
	}
	return s.slots.Set(ctx, repository.SlotCart, raw)
}
