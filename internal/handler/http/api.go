package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/page"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/pkg/validator"
)

const maxBodyBytes = 1 << 20

// APIHandler serves the JSON API.
type APIHandler struct {
	pages         *page.Registry
	catalog       *catalog.Catalog
	featuredCount int
	logger        *slog.Logger
}

// NewAPIHandler creates the JSON API handler.
func NewAPIHandler(pages *page.Registry, cat *catalog.Catalog, featuredCount int, logger *slog.Logger) *APIHandler {
	if featuredCount <= 0 {
		featuredCount = catalog.DefaultFeaturedCount
	}
	return &APIHandler{pages: pages, catalog: cat, featuredCount: featuredCount, logger: logger}
}

// --- Request DTOs ---

// AddItemRequest is the body of POST /api/v1/cart/items.
type AddItemRequest struct {
	ProductID int `json:"product_id" validate:"required,gt=0"`
}

// UpdateQuantityRequest is the body of PUT /api/v1/cart/items/{productId}.
// A quantity of zero or less removes the line. The upper bound is
// domain.MaxLineQuantity.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,lte=9999"`
}

// ConsentRequest is the body of POST /api/v1/consent.
type ConsentRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// ConsentResponse reports the stored decision.
type ConsentResponse struct {
	Decision string `json:"decision"`
}

// ContactResponse reports the contact form state.
type ContactResponse struct {
	State       domain.ContactState `json:"state"`
	ButtonLabel string              `json:"button_label"`
}

// --- Catalog ---

// ListProducts handles GET /api/v1/products[?q=&page=&per_page=]. The
// response is a page object rather than the data envelope.
func (h *APIHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	httputil.WriteJSON(w, http.StatusOK, pagination.Slice(h.catalog.Search(q), pagination.FromRequest(r)))
}

// FeaturedProducts handles GET /api/v1/products/featured.
func (h *APIHandler) FeaturedProducts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.catalog.Featured(h.featuredCount))
}

// --- Cart ---

// GetCart handles GET /api/v1/cart.
func (h *APIHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	v, err := p.Cart(r.Context())
	h.respond(w, r, http.StatusOK, v, err)
}

// ClearCart handles DELETE /api/v1/cart.
func (h *APIHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	v, err := p.ClearCart(r.Context())
	h.respond(w, r, http.StatusOK, v, err)
}

// AddItem handles POST /api/v1/cart/items.
func (h *APIHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req, maxBodyBytes); err != nil {
		h.badRequest(w, r, err)
		return
	}
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	v, err := p.AddProduct(r.Context(), req.ProductID)
	h.respond(w, r, http.StatusOK, v, err)
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{productId}.
func (h *APIHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseIntParam(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}
	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req, maxBodyBytes); err != nil {
		h.badRequest(w, r, err)
		return
	}
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	v, err := p.UpdateQuantity(r.Context(), id, *req.Quantity)
	h.respond(w, r, http.StatusOK, v, err)
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}.
func (h *APIHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseIntParam(w, "productId", chi.URLParam(r, "productId"))
	if !ok {
		return
	}
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	v, err := p.RemoveItem(r.Context(), id)
	h.respond(w, r, http.StatusOK, v, err)
}

// --- Page state ---

// GetPage handles GET /api/v1/page.
func (h *APIHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	snap, err := p.Snapshot(r.Context())
	h.respond(w, r, http.StatusOK, snap, err)
}

// DismissNotification handles DELETE /api/v1/notifications/{id}.
func (h *APIHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	if err := p.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Consent handles POST /api/v1/consent.
func (h *APIHandler) Consent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if err := validator.DecodeAndValidate(r, &req, maxBodyBytes); err != nil {
		h.badRequest(w, r, err)
		return
	}
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	d, err := p.Decide(r.Context(), *req.Accepted)
	h.respond(w, r, http.StatusOK, ConsentResponse{Decision: d.String()}, err)
}

// ResetConsent handles DELETE /api/v1/consent. The popup shows again after
// the usual delay.
func (h *APIHandler) ResetConsent(w http.ResponseWriter, r *http.Request) {
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	d, err := p.ResetConsent(r.Context())
	h.respond(w, r, http.StatusOK, ConsentResponse{Decision: d.String()}, err)
}

// Contact handles POST /api/v1/contact.
func (h *APIHandler) Contact(w http.ResponseWriter, r *http.Request) {
	var req domain.ContactMessage
	if err := validator.DecodeAndValidate(r, &req, maxBodyBytes); err != nil {
		h.badRequest(w, r, err)
		return
	}
	p, ok := h.page(w, r)
	if !ok {
		return
	}
	s, err := p.SubmitContact(r.Context(), req)
	h.respond(w, r, http.StatusAccepted, ContactResponse{State: s, ButtonLabel: s.ButtonLabel()}, err)
}

// --- Helpers ---

func (h *APIHandler) page(w http.ResponseWriter, r *http.Request) (*page.Page, bool) {
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return nil, false
	}
	return p, true
}

func (h *APIHandler) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, status, data)
}

// badRequest reports a body that failed to decode or validate.
func (h *APIHandler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{Error: &httputil.ErrorResponse{
		Code:    "INVALID_INPUT",
		Message: "invalid request body: " + err.Error(),
	}})
}
