package view

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/service"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// DefaultNotificationTTL is how long a notification stays up.
const DefaultNotificationTTL = 3 * time.Second

// Scheduler is the page loop as seen by the binder.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *loop.Timer
	Now() time.Time
}

// AddToCartFunc handles one activation of a product card.
type AddToCartFunc func(ctx context.Context) error

type mounted struct {
	domain.Notification
	timer *loop.Timer
}

// Binder keeps a page's display elements in step with its cart and raises
// notifications. Render failures are logged and swallowed; they never reach
// the cart. A Binder belongs to one page loop.
type Binder struct {
	surface  Surface
	renderer *Renderer
	cart     *service.CartStore
	sched    Scheduler
	logger   *slog.Logger
	metrics  *service.Metrics
	ttl      time.Duration
	newID    func() string

	handlers      map[int]AddToCartFunc
	notifications []*mounted
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithNotificationTTL overrides the notification lifetime.
func WithNotificationTTL(d time.Duration) BinderOption {
	return func(b *Binder) {
		if d > 0 {
			b.ttl = d
		}
	}
}

// WithBinderMetrics counts raised notifications on m.
func WithBinderMetrics(m *service.Metrics) BinderOption {
	return func(b *Binder) { b.metrics = m }
}

// NewBinder binds cart to surface and subscribes to its changes.
func NewBinder(surface Surface, renderer *Renderer, cart *service.CartStore, sched Scheduler, logger *slog.Logger, opts ...BinderOption) *Binder {
	b := &Binder{
		surface:  surface,
		renderer: renderer,
		cart:     cart,
		sched:    sched,
		logger:   logger,
		ttl:      DefaultNotificationTTL,
		newID:    uuid.NewString,
		handlers: make(map[int]AddToCartFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = service.NopMetrics()
	}
	cart.Subscribe(b)
	return b
}

// CartChanged repaints the derived cart state and confirms additions.
func (b *Binder) CartChanged(_ context.Context, change service.Change) {
	b.RenderItemCount()
	b.RenderCartSummary()
	if change.Kind == domain.ChangeAdded {
		b.Notify(domain.MessageAddedToCart)
	}
}

// RenderItemCount writes the unit count into the cart counter.
func (b *Binder) RenderItemCount() {
	b.guard("item count", func() error {
		b.surface.SetText(ElementCartCount, strconv.Itoa(b.cart.ItemCount()))
		return nil
	})
}

// RenderFeaturedProducts paints product cards and registers one add-to-cart
// handler per card. The handler carries the product record itself.
func (b *Binder) RenderFeaturedProducts(products []domain.Product) {
	if !b.surface.HasElement(ElementFeaturedProducts) {
		return
	}
	b.guard("featured products", func() error {
		html, err := b.renderer.Fragment("product-cards", products)
		if err != nil {
			return err
		}
		b.surface.SetHTML(ElementFeaturedProducts, html)
		b.handlers = make(map[int]AddToCartFunc, len(products))
		for _, p := range products {
			b.handlers[p.ID] = func(ctx context.Context) error {
				return b.cart.AddItem(ctx, p)
			}
		}
		return nil
	})
}

// Activate runs the add-to-cart handler of a rendered product card.
func (b *Binder) Activate(ctx context.Context, productID int) error {
	h, ok := b.handlers[productID]
	if !ok {
		return apperrors.NotFound("product card", strconv.Itoa(productID))
	}
	return h(ctx)
}

// Rendered reports whether a card for productID is on the page.
func (b *Binder) Rendered(productID int) bool {
	_, ok := b.handlers[productID]
	return ok
}

// RenderCartSummary writes the cart lines and the formatted total.
func (b *Binder) RenderCartSummary() {
	if b.surface.HasElement(ElementCartItems) {
		b.guard("cart items", func() error {
			html, err := b.renderer.Fragment("cart-items", b.cart.Lines())
			if err != nil {
				return err
			}
			b.surface.SetHTML(ElementCartItems, html)
			return nil
		})
	}
	b.guard("cart total", func() error {
		b.surface.SetText(ElementCartTotal, domain.FormatPrice(b.cart.Total()))
		return nil
	})
}

// contactView is the data of the contact form fragment.
type contactView struct {
	State    domain.ContactState
	Label    string
	Disabled bool
	Draft    *domain.ContactMessage
}

// RenderContactForm paints the contact form in its current state.
func (b *Binder) RenderContactForm(form *service.ContactForm) {
	if !b.surface.HasElement(ElementContactForm) {
		return
	}
	b.guard("contact form", func() error {
		s := form.State()
		html, err := b.renderer.Fragment("contact-form", contactView{
			State:    s,
			Label:    s.ButtonLabel(),
			Disabled: s.ButtonDisabled(),
			Draft:    form.Draft(),
		})
		if err != nil {
			return err
		}
		b.surface.SetHTML(ElementContactForm, html)
		return nil
	})
}

// Notify mounts a notification that dismisses itself after the TTL.
func (b *Binder) Notify(message string) domain.Notification {
	now := b.sched.Now()
	n := &mounted{Notification: domain.Notification{
		ID:        b.newID(),
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}}
	id := n.ID
	n.timer = b.sched.AfterFunc(b.ttl, func() { b.unmount(id) })
	b.notifications = append(b.notifications, n)
	b.metrics.Notifications.Inc()
	return n.Notification
}

// Restore remounts a notification carried over from a previous page for the
// rest of its lifetime. An expired notification is ignored.
func (b *Binder) Restore(n domain.Notification) bool {
	remaining := n.ExpiresAt.Sub(b.sched.Now())
	if remaining <= 0 {
		return false
	}
	m := &mounted{Notification: n}
	id := n.ID
	m.timer = b.sched.AfterFunc(remaining, func() { b.unmount(id) })
	b.notifications = append(b.notifications, m)
	return true
}

// Dismiss removes a notification before it expires. It reports whether the
// notification was still visible.
func (b *Binder) Dismiss(id string) bool {
	for _, n := range b.notifications {
		if n.ID == id {
			n.timer.Stop()
			return b.unmount(id)
		}
	}
	return false
}

func (b *Binder) unmount(id string) bool {
	for i, n := range b.notifications {
		if n.ID == id {
			b.notifications = append(b.notifications[:i], b.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// Notifications lists the visible notifications, oldest first.
func (b *Binder) Notifications() []domain.Notification {
	out := make([]domain.Notification, len(b.notifications))
	for i, n := range b.notifications {
		out[i] = n.Notification
	}
	return out
}

// guard runs a render step, logging an error or a panic instead of
// propagating it.
func (b *Binder) guard(what string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("render panicked",
				slog.String("fragment", what),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := fn(); err != nil {
		b.logger.Error("render failed",
			slog.String("fragment", what),
			slog.String("error", err.Error()),
		)
	}
}

var (
	_ service.CartListener = (*Binder)(nil)
	_ Surface              = (*Document)(nil)
	_ service.ClassList    = (*Document)(nil)
)
