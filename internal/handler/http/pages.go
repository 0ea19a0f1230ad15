package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/page"
	"github.com/utafrali/storefront/internal/view"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// PageHandler serves the server-rendered pages and their HTML forms.
type PageHandler struct {
	pages  *page.Registry
	logger *slog.Logger
}

// NewPageHandler creates the page handler.
func NewPageHandler(pages *page.Registry, logger *slog.Logger) *PageHandler {
	return &PageHandler{pages: pages, logger: logger}
}

// Page returns the handler of a full page load of flavor.
func (h *PageHandler) Page(flavor view.Flavor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.pages.Load(r.Context(), sessionID(r), flavor)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := p.Render(r.Context(), w); err != nil {
			h.fail(w, r, err)
		}
	}
}

// AddToCart handles POST /cart/items from a product card.
func (h *PageHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PostFormValue("product_id"))
	if err != nil || id <= 0 {
		h.fail(w, r, apperrors.InvalidInput("product_id must be a positive integer"))
		return
	}
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := p.Activate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	redirectBack(w, r)
}

// ClearCart handles POST /cart/clear.
func (h *PageHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := p.ClearCart(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	redirectBack(w, r)
}

// Consent handles the accept and decline buttons of the cookie popup.
func (h *PageHandler) Consent(w http.ResponseWriter, r *http.Request) {
	accepted, err := strconv.ParseBool(r.PostFormValue("accepted"))
	if err != nil {
		h.fail(w, r, apperrors.InvalidInput("accepted must be true or false"))
		return
	}
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := p.Decide(r.Context(), accepted); err != nil {
		h.fail(w, r, err)
		return
	}
	redirectBack(w, r)
}

// Contact handles the contact form. The live page is rendered in place;
// reloading it would reset the form's feedback state.
func (h *PageHandler) Contact(w http.ResponseWriter, r *http.Request) {
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := domain.ContactMessage{
		Name:    strings.TrimSpace(r.PostFormValue("name")),
		Email:   strings.TrimSpace(r.PostFormValue("email")),
		Message: strings.TrimSpace(r.PostFormValue("message")),
	}
	if _, err := p.SubmitContact(r.Context(), msg); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := p.Render(r.Context(), w); err != nil {
		h.fail(w, r, err)
	}
}

// Dismiss handles the close button of a notification.
func (h *PageHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	p, err := h.pages.Get(r.Context(), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := p.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	redirectBack(w, r)
}

func (h *PageHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() {
			l = h.logger
		}
		l.ErrorContext(r.Context(), "page request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	http.Error(w, http.StatusText(status), status)
}

// redirectBack sends the browser to the path it came from. Only the path of
// the referer is used, so the redirect never leaves the site.
func redirectBack(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if ref, err := url.Parse(r.Referer()); err == nil && strings.HasPrefix(ref.Path, "/") && !strings.HasPrefix(ref.Path, "//") {
		target = ref.Path
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
