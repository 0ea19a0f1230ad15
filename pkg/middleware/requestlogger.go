package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/pkg/logger"
)

// RequestLogger stores a logger enriched with correlation_id, session_id,
// trace_id and span_id in the request context. The session ID is read from
// sessionCookie when the request carries it.
//
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger, sessionCookie string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sessionCookie != "" && logger.SessionIDFromContext(ctx) == "" {
				if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
					ctx = logger.WithSessionID(ctx, c.Value)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
