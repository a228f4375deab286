package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
)

// RequestID echoes the caller's X-Request-Id (or mints one) and opens the
// request's root span. Both ids ride on the logger context from here on.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx, span := tracing.Start(r.Context(), "http "+r.Method,
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("request_id", id),
			)
			defer span.End()

			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
				ctx = logg.WithTraceID(ctx, tracing.TraceID(ctx))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
