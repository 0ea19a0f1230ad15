// Package page hosts the live storefront pages. A page owns an event loop and
// everything that runs on it: the hydrated cart, the display document, the
// view binder, the consent popup and the contact form.
package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/view"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Config holds the page timings.
type Config struct {
	NotificationTTL time.Duration
	FeaturedCount   int
	Consent         service.ConsentConfig
	Contact         service.ContactConfig
}

// DefaultConfig mirrors the storefront widget's timings.
func DefaultConfig() Config {
	return Config{
		NotificationTTL: view.DefaultNotificationTTL,
		FeaturedCount:   catalog.DefaultFeaturedCount,
		Consent:         service.DefaultConsentConfig(),
		Contact:         service.DefaultContactConfig(),
	}
}

// Deps are the collaborators shared by every page.
type Deps struct {
	Slots    repository.SlotStore
	Catalog  *catalog.Catalog
	Renderer *view.Renderer
	Metrics  *service.Metrics
	Activity *event.ActivityPublisher
	Clock    loop.Clock
	Logger   *slog.Logger
	Config   Config
}

// Page is one live page of one browser session.
type Page struct {
	sessionID string
	flavor    view.Flavor
	catalog   *catalog.Catalog
	renderer  *view.Renderer
	loop      *loop.Loop
	logger    *slog.Logger
	lastSeen  atomic.Int64

	doc     *view.Document
	cart    *service.CartStore
	binder  *view.Binder
	consent *service.ConsentPopup
	contact *service.ContactForm
}

// Open builds a page: it hydrates the cart, paints the initial state and
// runs the consent check, all on the page's new loop.
func Open(ctx context.Context, sessionID string, flavor view.Flavor, deps Deps) (*Page, error) {
	clock := deps.Clock
	if clock == nil {
		clock = loop.RealClock()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = service.NopMetrics()
	}
	logger := deps.Logger.With(slog.String("session_id", sessionID), slog.String("page", string(flavor)))

	p := &Page{
		sessionID: sessionID,
		flavor:    flavor,
		catalog:   deps.Catalog,
		renderer:  deps.Renderer,
		loop:      loop.New(clock, logger),
		logger:    logger,
		doc:       view.NewDocument(flavor.Elements()...),
	}
	p.touch()

	slots := repository.Scope(deps.Slots, sessionID)
	err := p.loop.Do(ctx, func() {
		opts := []service.CartOption{service.WithMetrics(metrics)}
		if deps.Activity != nil {
			opts = append(opts, service.WithListener(deps.Activity.ForSession(sessionID)))
		}
		p.cart = service.HydrateCart(ctx, slots, logger, opts...)
		p.binder = view.NewBinder(p.doc, deps.Renderer, p.cart, p.loop, logger,
			view.WithNotificationTTL(deps.Config.NotificationTTL),
			view.WithBinderMetrics(metrics),
		)
		p.consent = service.LoadConsent(ctx, slots, p.doc, p.loop, deps.Config.Consent, logger, metrics)
		p.contact = service.NewContactForm(p.loop, deps.Config.Contact, logger, metrics)
		p.contact.OnChange(func(domain.ContactState) { p.binder.RenderContactForm(p.contact) })

		p.binder.RenderItemCount()
		p.binder.RenderFeaturedProducts(deps.Catalog.Featured(deps.Config.FeaturedCount))
		p.binder.RenderCartSummary()
		p.binder.RenderContactForm(p.contact)
		p.consent.Check()
	})
	if err != nil {
		p.loop.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

// SessionID is the owning session.
func (p *Page) SessionID() string { return p.sessionID }

// Flavor is the kind of page that was loaded.
func (p *Page) Flavor() view.Flavor { return p.flavor }

// LastSeen is the time of the last request served by the page.
func (p *Page) LastSeen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

func (p *Page) touch() {
	p.lastSeen.Store(p.loop.Now().UnixNano())
}

// do runs fn on the page loop and returns its error.
func (p *Page) do(ctx context.Context, fn func() error) error {
	p.touch()
	var err error
	if loopErr := p.loop.Do(ctx, func() { err = fn() }); loopErr != nil {
		return apperrors.Unavailable("page unavailable", loopErr)
	}
	return err
}

// CartView is the rendered state of the cart.
type CartView struct {
	Lines     []domain.CartLine `json:"lines"`
	ItemCount int               `json:"item_count"`
	Total     decimal.Decimal   `json:"total"`
	Formatted string            `json:"formatted_total"`
}

func (p *Page) cartView() CartView {
	total := p.cart.Total()
	return CartView{
		Lines:     p.cart.Lines(),
		ItemCount: p.cart.ItemCount(),
		Total:     total,
		Formatted: domain.FormatPrice(total),
	}
}

// Cart returns the current cart.
func (p *Page) Cart(ctx context.Context) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		v = p.cartView()
		return nil
	})
	return v, err
}

// Activate is an add-to-cart click on the card of productID. When no card
// for the product is on the page the catalog record is added instead.
func (p *Page) Activate(ctx context.Context, productID int) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		if p.binder.Rendered(productID) {
			if err := p.binder.Activate(ctx, productID); err != nil {
				return err
			}
		} else if err := p.addProduct(ctx, productID); err != nil {
			return err
		}
		v = p.cartView()
		return nil
	})
	return v, err
}

// AddProduct adds one unit of a catalog product.
func (p *Page) AddProduct(ctx context.Context, productID int) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		if err := p.addProduct(ctx, productID); err != nil {
			return err
		}
		v = p.cartView()
		return nil
	})
	return v, err
}

func (p *Page) addProduct(ctx context.Context, productID int) error {
	product, ok := p.catalog.ByID(productID)
	if !ok {
		return apperrors.NotFound("product", strconv.Itoa(productID))
	}
	return p.cart.AddItem(ctx, product)
}

// UpdateQuantity sets the quantity of a line; qty <= 0 removes it.
func (p *Page) UpdateQuantity(ctx context.Context, productID, qty int) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		if err := p.cart.UpdateQuantity(ctx, productID, qty); err != nil {
			return err
		}
		v = p.cartView()
		return nil
	})
	return v, err
}

// RemoveItem deletes the line for productID.
func (p *Page) RemoveItem(ctx context.Context, productID int) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		if err := p.cart.RemoveItem(ctx, productID); err != nil {
			return err
		}
		v = p.cartView()
		return nil
	})
	return v, err
}

// ClearCart empties the cart.
func (p *Page) ClearCart(ctx context.Context) (CartView, error) {
	var v CartView
	err := p.do(ctx, func() error {
		if err := p.cart.Clear(ctx); err != nil {
			return err
		}
		v = p.cartView()
		return nil
	})
	return v, err
}

// Dismiss closes a notification early.
func (p *Page) Dismiss(ctx context.Context, id string) error {
	return p.do(ctx, func() error {
		if !p.binder.Dismiss(id) {
			return apperrors.NotFound("notification", id)
		}
		return nil
	})
}

// Notifications lists the visible notifications.
func (p *Page) Notifications(ctx context.Context) ([]domain.Notification, error) {
	var notes []domain.Notification
	err := p.do(ctx, func() error {
		notes = p.binder.Notifications()
		return nil
	})
	return notes, err
}

// carry is the state a reload inherits from the page it replaces.
type carry struct {
	notes   []domain.Notification
	consent service.ConsentHandoff
}

// retire closes the page and returns what its replacement inherits. The
// loop has exited when the state is read, so no task can change it.
func (p *Page) retire() carry {
	p.loop.Close()
	return carry{notes: p.binder.Notifications(), consent: p.consent.Handoff()}
}

// adopt continues the notifications and consent timeline of a replaced page.
func (p *Page) adopt(ctx context.Context, c carry) error {
	return p.do(ctx, func() error {
		for _, n := range c.notes {
			p.binder.Restore(n)
		}
		p.consent.Resume(c.consent)
		return nil
	})
}

// Decide records the consent answer.
func (p *Page) Decide(ctx context.Context, accepted bool) (domain.Decision, error) {
	var d domain.Decision
	err := p.do(ctx, func() error {
		var err error
		if accepted {
			err = p.consent.Accept(ctx)
		} else {
			err = p.consent.Decline(ctx)
		}
		d = p.consent.Decision()
		return err
	})
	return d, err
}

// ResetConsent forgets the consent decision and restarts the popup delay.
func (p *Page) ResetConsent(ctx context.Context) (domain.Decision, error) {
	var d domain.Decision
	err := p.do(ctx, func() error {
		err := p.consent.Reset(ctx)
		d = p.consent.Decision()
		return err
	})
	return d, err
}

// SubmitContact hands a message to the contact form.
func (p *Page) SubmitContact(ctx context.Context, msg domain.ContactMessage) (domain.ContactState, error) {
	var s domain.ContactState
	err := p.do(ctx, func() error {
		err := p.contact.Submit(ctx, msg)
		s = p.contact.State()
		return err
	})
	return s, err
}

// Snapshot is the client view of a page: its fragments and notifications.
type Snapshot struct {
	SessionID     string                   `json:"session_id"`
	Page          view.Flavor              `json:"page"`
	Fragments     map[string]view.Fragment `json:"fragments"`
	Notifications []domain.Notification    `json:"notifications"`
	Cart          CartView                 `json:"cart"`
	Consent       string                   `json:"consent"`
	PopupVisible  bool                     `json:"popup_visible"`
	Contact       domain.ContactState      `json:"contact_state"`
}

// Snapshot captures the page state.
func (p *Page) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := p.do(ctx, func() error {
		s = Snapshot{
			SessionID:     p.sessionID,
			Page:          p.flavor,
			Fragments:     p.doc.Fragments(),
			Notifications: p.binder.Notifications(),
			Cart:          p.cartView(),
			Consent:       p.consent.Decision().String(),
			PopupVisible:  p.consent.Visible(),
			Contact:       p.contact.State(),
		}
		return nil
	})
	return s, err
}

// Render writes the full HTML page.
func (p *Page) Render(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	err := p.do(ctx, func() error {
		return p.renderer.Page(&buf, p.flavor, view.PageData{
			Title:         p.flavor.Title(),
			Doc:           p.doc,
			Notifications: p.binder.Notifications(),
		})
	})
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

// PendingTimers is the number of scheduled continuations on the page.
func (p *Page) PendingTimers() int {
	return p.loop.PendingTimers()
}

// Close stops the page loop and its timers.
func (p *Page) Close() {
	p.loop.Close()
}
