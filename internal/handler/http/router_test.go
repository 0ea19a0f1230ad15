package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/page"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	"github.com/utafrali/storefront/internal/view"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ============================================================================
// Test helpers
// ============================================================================

type testServer struct {
	handler http.Handler
	clock   *loop.ManualClock
	pages   *page.Registry
	cookie  *http.Cookie
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	return newTestServerWithSlots(t, limiter, memory.NewSlotStore())
}

func newTestServerWithSlots(t *testing.T, limiter *middleware.RateLimiter, slots repository.SlotStore) *testServer {
	t.Helper()
	clock := loop.NewManualClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	log := logger.Discard()
	pages := page.NewRegistry(page.Deps{
		Slots:    slots,
		Catalog:  catalog.Default(),
		Renderer: view.MustRenderer(),
		Clock:    clock,
		Logger:   log,
		Config:   page.DefaultConfig(),
	}, time.Hour, reg)
	t.Cleanup(pages.Close)

	h := NewRouter(RouterDeps{
		Pages:       pages,
		Catalog:     catalog.Default(),
		Health:      health.NewRegistry(time.Second),
		Metrics:     middleware.NewHTTPMetrics(reg, ServiceName),
		Gatherer:    reg,
		RateLimiter: limiter,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"https://shop.example"},
			AllowCredentials: true,
			Environment:      "production",
		},
		CatalogMaxAge: 60,
		Logger:        log,
	})
	return &testServer{handler: h, clock: clock, pages: pages}
}

// load performs a full page load and keeps the issued session cookie.
func (s *testServer) load(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			s.cookie = c
		}
	}
	return rec
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) form(t *testing.T, path string, values url.Values, referer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type cartBody struct {
	Lines []struct {
		ID       int `json:"id"`
		Quantity int `json:"quantity"`
	} `json:"lines"`
	ItemCount int    `json:"item_count"`
	Formatted string `json:"formatted_total"`
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) cartBody {
	t.Helper()
	env := decode(t, rec)
	require.Nil(t, env.Error)
	var c cartBody
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c
}

// ============================================================================
// Pages
// ============================================================================

func TestHomePage_IssuesSessionAndRenders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.load(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.cookie)
	assert.True(t, s.cookie.HttpOnly)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `id="cart-count"`)
	assert.Contains(t, body, "PUBG Premium Battle Pass")
	assert.Contains(t, body, `id="cookie-popup"`)
}

func TestSession_KeepsValidCookieAndReplacesInvalid(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	first := s.cookie.Value

	rec := s.load(t, "/cart")
	assert.Empty(t, rec.Result().Cookies(), "valid cookie must not be reissued")
	assert.Equal(t, first, s.cookie.Value)

	s.cookie = &http.Cookie{Name: SessionCookie, Value: "not-a-uuid"}
	s.load(t, "/")
	assert.NotEqual(t, "not-a-uuid", s.cookie.Value)
}

func TestFormAddToCart_RedirectsBack(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	rec := s.form(t, "/cart/items", url.Values{"product_id": {"2"}}, "http://shop.example/contact?x=1")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/contact", rec.Header().Get("Location"))

	home := s.load(t, "/")
	assert.Contains(t, home.Body.String(), `text-dark">1</span>`)
	assert.Contains(t, home.Body.String(), "Product added to cart!")
}

func TestFormAddToCart_RejectsBadID(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	rec := s.form(t, "/cart/items", url.Values{"product_id": {"abc"}}, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedirectBack_KeepsOnlyRefererPath(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	rec := s.form(t, "/consent", url.Values{"accepted": {"false"}}, "")
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = s.form(t, "/cart/clear", nil, "https://evil.example/cart")
	assert.Equal(t, "/cart", rec.Header().Get("Location"))
}

func TestFormContact_RendersSendingState(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/contact")

	rec := s.form(t, "/contact", url.Values{
		"name":    {"Ada"},
		"email":   {"ada@example.com"},
		"message": {"Hello there"},
	}, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sending...")
}

// ============================================================================
// Cart API
// ============================================================================

func TestAPI_CartLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	c := decodeCart(t, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`))
	assert.Equal(t, 1, c.ItemCount)
	c = decodeCart(t, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`))
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, "$19.98", c.Formatted)
	require.Len(t, c.Lines, 1)

	c = decodeCart(t, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":2}`))
	c = decodeCart(t, s.do(t, http.MethodPut, "/api/v1/cart/items/2", `{"quantity":3}`))
	assert.Equal(t, 5, c.ItemCount)

	c = decodeCart(t, s.do(t, http.MethodDelete, "/api/v1/cart/items/1", ""))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 2, c.Lines[0].ID)
	assert.Equal(t, "$14.97", c.Formatted)

	c = decodeCart(t, s.do(t, http.MethodPut, "/api/v1/cart/items/2", `{"quantity":0}`))
	assert.Empty(t, c.Lines)

	decodeCart(t, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":4}`))
	c = decodeCart(t, s.do(t, http.MethodDelete, "/api/v1/cart", ""))
	assert.Zero(t, c.ItemCount)
	assert.Equal(t, "$0.00", c.Formatted)

	c = decodeCart(t, s.do(t, http.MethodGet, "/api/v1/cart", ""))
	assert.Zero(t, c.ItemCount)
}

func TestAPI_AddItemValidation(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"missing product", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative product", `{"product_id":-1}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", `{"product_id":1,"price":0}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed", `{`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown product", `{"product_id":99}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/cart/items", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			env := decode(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.err, env.Error.Code)
		})
	}
}

func TestAPI_UpdateQuantityRequiresQuantity(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	rec := s.do(t, http.MethodPut, "/api/v1/cart/items/1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", decode(t, rec).Error.Fields["quantity"])

	rec = s.do(t, http.MethodPut, "/api/v1/cart/items/abc", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decode(t, rec).Error.Code)
}

func TestAPI_QuantityCannotOverflow(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`).Code)

	rec := s.do(t, http.MethodPut, "/api/v1/cart/items/1", `{"quantity":9223372036854775807}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "must be less than or equal to 9999", env.Error.Fields["quantity"])

	c := decodeCart(t, s.do(t, http.MethodPut, "/api/v1/cart/items/1", `{"quantity":9999}`))
	assert.Equal(t, 9999, c.ItemCount)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Error.Code)

	c = decodeCart(t, s.do(t, http.MethodGet, "/api/v1/cart", ""))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 9999, c.Lines[0].Quantity)
	assert.Equal(t, "$99890.01", c.Formatted)
}

func TestAPI_RejectsNonJSONBody(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("product_id=1"))
	req.Header.Set("Content-Type", "text/plain")
	req.AddCookie(s.cookie)
	rec := httptest.NewRecorder()

	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Catalog API
// ============================================================================

func TestAPI_Products(t *testing.T) {
	s := newTestServer(t, nil)

	var all []struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, s.do(t, http.MethodGet, "/api/v1/products", "")).Data, &all))
	assert.Len(t, all, 6)

	var found []struct {
		ID    int    `json:"id"`
		Price string `json:"price"`
	}
	require.NoError(t, json.Unmarshal(decode(t, s.do(t, http.MethodGet, "/api/v1/products?q=PUBG", "")).Data, &found))
	require.Len(t, found, 2)
	assert.Equal(t, 1, found[0].ID)
	assert.Equal(t, "9.99", found[0].Price)

	var featured []struct {
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, s.do(t, http.MethodGet, "/api/v1/products/featured", "")).Data, &featured))
	assert.Len(t, featured, 3)

	var none []json.RawMessage
	require.NoError(t, json.Unmarshal(decode(t, s.do(t, http.MethodGet, "/api/v1/products?q=zzz", "")).Data, &none))
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAPI_ProductsArePaginatedAndCacheable(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/products?page=2&per_page=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Result().Cookies(), "catalog reads must not issue a session")

	var page struct {
		Data []struct {
			ID int `json:"id"`
		} `json:"data"`
		TotalCount int  `json:"total_count"`
		Page       int  `json:"page"`
		PerPage    int  `json:"per_page"`
		TotalPages int  `json:"total_pages"`
		HasNext    bool `json:"has_next"`
		HasPrev    bool `json:"has_prev"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
	assert.Equal(t, 5, page.Data[0].ID)
	assert.Equal(t, 6, page.TotalCount)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 4, page.PerPage)
	assert.Equal(t, 2, page.TotalPages)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)

	rec = s.do(t, http.MethodGet, "/api/v1/products/featured", "")
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))

	s.load(t, "/")
	rec = s.do(t, http.MethodGet, "/api/v1/cart", "")
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestAPI_CORS(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/items", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.load(t, "/")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "pages are same-origin only")
}

// ============================================================================
// Page state, notifications, consent, contact
// ============================================================================

type pageBody struct {
	Fragments map[string]struct {
		HTML    string   `json:"html"`
		Classes []string `json:"classes"`
	} `json:"fragments"`
	Notifications []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"notifications"`
	Consent      string `json:"consent"`
	PopupVisible bool   `json:"popup_visible"`
	Contact      string `json:"contact_state"`
}

func (s *testServer) pageState(t *testing.T) pageBody {
	t.Helper()
	env := decode(t, s.do(t, http.MethodGet, "/api/v1/page", ""))
	require.Nil(t, env.Error)
	var p pageBody
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestAPI_PageAndNotifications(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":3}`)

	p := s.pageState(t)
	assert.Equal(t, "1", p.Fragments["cart-count"].HTML)
	require.Len(t, p.Notifications, 1)
	assert.Equal(t, "Product added to cart!", p.Notifications[0].Message)

	rec := s.do(t, http.MethodDelete, "/api/v1/notifications/"+p.Notifications[0].ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/notifications/"+p.Notifications[0].ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, s.pageState(t).Notifications)
}

func TestAPI_ConsentFlow(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")

	s.clock.Advance(2 * time.Second)
	p := s.pageState(t)
	assert.True(t, p.PopupVisible)
	assert.Contains(t, p.Fragments["cookie-popup"].Classes, "show")

	rec := s.do(t, http.MethodPost, "/api/v1/consent", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decode(t, s.do(t, http.MethodPost, "/api/v1/consent", `{"accepted":false}`))
	require.Nil(t, env.Error)
	assert.JSONEq(t, `{"decision":"declined"}`, string(env.Data))

	s.load(t, "/")
	s.clock.Advance(3 * time.Second)
	p = s.pageState(t)
	assert.False(t, p.PopupVisible)
	assert.Equal(t, "declined", p.Consent)

	env = decode(t, s.do(t, http.MethodDelete, "/api/v1/consent", ""))
	require.Nil(t, env.Error)
	assert.JSONEq(t, `{"decision":"undecided"}`, string(env.Data))
	s.clock.Advance(2 * time.Second)
	assert.True(t, s.pageState(t).PopupVisible)
}

func TestReload_KeepsVisibleConsentPopup(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	s.clock.Advance(5 * time.Second)

	rec := s.load(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="cookie-popup show"`)
}

func TestReload_KeepsConsentDelay(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/")
	s.clock.Advance(1500 * time.Millisecond)
	rec := s.load(t, "/contact")
	assert.NotContains(t, rec.Body.String(), `class="cookie-popup show"`)

	s.clock.Advance(500 * time.Millisecond)

	assert.Contains(t, s.load(t, "/").Body.String(), `class="cookie-popup show"`)
}

func TestConsent_StoredUnknownValueSuppressesPopup(t *testing.T) {
	slots := memory.NewSlotStore()
	s := newTestServerWithSlots(t, nil, slots)
	s.load(t, "/")
	require.NoError(t, slots.Set(context.Background(),
		repository.Scope(slots, s.cookie.Value).Key(repository.SlotConsent), "yes"))

	s.load(t, "/")
	s.clock.Advance(5 * time.Second)

	p := s.pageState(t)
	assert.False(t, p.PopupVisible)
	assert.Equal(t, "recorded", p.Consent)
	assert.NotContains(t, s.load(t, "/").Body.String(), `class="cookie-popup show"`)
}

func TestAPI_ContactFlow(t *testing.T) {
	s := newTestServer(t, nil)
	s.load(t, "/contact")
	body := `{"name":"Ada","email":"ada@example.com","message":"Hi"}`

	rec := s.do(t, http.MethodPost, "/api/v1/contact", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"state":"sending","button_label":"Sending..."}`, string(decode(t, rec).Data))

	rec = s.do(t, http.MethodPost, "/api/v1/contact", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.clock.Advance(4500 * time.Millisecond)
	assert.Equal(t, "idle", s.pageState(t).Contact)

	rec = s.do(t, http.MethodPost, "/api/v1/contact", `{"name":"Ada","email":"nope","message":"Hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Error.Fields, "email")
}

// ============================================================================
// Infrastructure routes
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "").Code)

	s.load(t, "/")
	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_active_pages 1")
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRateLimit_MutationsOnly(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(0.001, 1, logger.Discard()))
	s.load(t, "/")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`).Code)
	rec := s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, rec).Error.Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/cart", "").Code)
}
