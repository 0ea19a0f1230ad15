package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/page"
	"github.com/utafrali/storefront/internal/view"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ServiceName labels the HTTP metrics and spans.
const ServiceName = "storefront"

// RouterDeps are the collaborators of the HTTP surface.
type RouterDeps struct {
	Pages             *page.Registry
	Catalog           *catalog.Catalog
	FeaturedCount     int
	Health            *health.Registry
	Metrics           *middleware.HTTPMetrics
	Gatherer          prometheus.Gatherer
	RateLimiter       *middleware.RateLimiter
	SecureCookies     bool
	CORS              middleware.CORSConfig
	CatalogMaxAge     int // Cache-Control max-age of catalog reads in seconds; zero sends none
	PprofAllowedCIDRs []string
	Logger            *slog.Logger
}

// NewRouter creates the chi router with every storefront route registered.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(d.Logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Handler)
	}
	r.Use(middleware.Tracing(ServiceName))

	// Health check endpoints
	r.Get("/health/live", d.Health.LivenessHandler())
	r.Get("/health/ready", d.Health.ReadinessHandler())
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if len(d.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, d.PprofAllowedCIDRs, d.Logger)
	}

	pages := NewPageHandler(d.Pages, d.Logger)
	api := NewAPIHandler(d.Pages, d.Catalog, d.FeaturedCount, d.Logger)
	limit := func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Handler)
		}
	}

	r.Group(func(r chi.Router) {
		r.Use(Session(d.SecureCookies))
		r.Use(middleware.RequestLogger(d.Logger, SessionCookie))

		r.Get("/", pages.Page(view.FlavorHome))
		r.Get("/cart", pages.Page(view.FlavorCart))
		r.Get("/contact", pages.Page(view.FlavorContact))

		r.Group(func(r chi.Router) {
			limit(r)
			r.Post("/cart/items", pages.AddToCart)
			r.Post("/cart/clear", pages.ClearCart)
			r.Post("/consent", pages.Consent)
			r.Post("/contact", pages.Contact)
			r.Post("/notifications/{id}/dismiss", pages.Dismiss)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(d.CORS))
		r.Use(ContentTypeJSON)

		// Catalog reads are shared across sessions and carry no cookie.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestLogger(d.Logger, SessionCookie))
			if d.CatalogMaxAge > 0 {
				r.Use(middleware.CacheControl(d.CatalogMaxAge))
			}
			r.Get("/products", api.ListProducts)
			r.Get("/products/featured", api.FeaturedProducts)
		})

		r.Group(func(r chi.Router) {
			r.Use(Session(d.SecureCookies))
			r.Use(middleware.RequestLogger(d.Logger, SessionCookie))

			r.Get("/cart", api.GetCart)
			r.Get("/page", api.GetPage)

			r.Group(func(r chi.Router) {
				limit(r)
				r.Delete("/cart", api.ClearCart)
				r.Post("/cart/items", api.AddItem)
				r.Put("/cart/items/{productId}", api.UpdateItemQuantity)
				r.Delete("/cart/items/{productId}", api.RemoveItem)
				r.Delete("/notifications/{id}", api.DismissNotification)
				r.Post("/consent", api.Consent)
				r.Delete("/consent", api.ResetConsent)
				r.Post("/contact", api.Contact)
			})
		})
	})

	return r
}
