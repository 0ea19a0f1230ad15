package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsHandler(cfg CORSConfig) http.Handler {
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/cart", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		origin     string
		wantOrigin string
		wantVary   string
	}{
		{"development wildcard", CORSConfig{Environment: "development"}, "https://evil.example", "*", ""},
		{"wildcard listed", CORSConfig{AllowedOrigins: []string{"https://shop.example", "*"}, Environment: "production"}, "https://any.example", "*", ""},
		{"allowed origin", CORSConfig{AllowedOrigins: []string{"https://shop.example", "https://admin.example"}, Environment: "production"}, "https://admin.example", "https://admin.example", "Origin"},
		{"rejected origin", CORSConfig{AllowedOrigins: []string{"https://shop.example"}, Environment: "production"}, "https://evil.example", "", ""},
		{"no origin", CORSConfig{AllowedOrigins: []string{"https://shop.example"}, Environment: "production"}, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			corsHandler(tt.cfg).ServeHTTP(rec, corsRequest(http.MethodGet, tt.origin))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantVary, rec.Header().Get("Vary"))
		})
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	reached := false
	h := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, corsRequest(http.MethodOptions, "https://shop.example"))

	assert.False(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Accept, Content-Type, X-Correlation-ID", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "X-Correlation-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_CredentialsOnlyForListedOrigin(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins:   []string{"https://shop.example"},
		AllowCredentials: true,
		MaxAge:           600,
		Environment:      "production",
	}

	rec := httptest.NewRecorder()
	corsHandler(cfg).ServeHTTP(rec, corsRequest(http.MethodGet, "https://shop.example"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	rec = httptest.NewRecorder()
	corsHandler(cfg).ServeHTTP(rec, corsRequest(http.MethodGet, "https://evil.example"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCacheControl(t *testing.T) {
	h := CacheControl(60)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	for method, want := range map[string]string{
		http.MethodGet:  "public, max-age=60",
		http.MethodHead: "public, max-age=60",
		http.MethodPost: "",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/api/v1/products", nil))
		assert.Equal(t, want, rec.Header().Get("Cache-Control"), method)
	}
}
