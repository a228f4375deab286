package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

// CORS applies the allowed-origin policy. A "*" entry opens the API to any
// origin but then drops credentialed requests, which browsers refuse to pair
// with a wildcard anyway.
func CORS(origins []string) func(http.Handler) http.Handler {
	cleaned := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			cleaned = append(cleaned, o)
		}
	}
	wildcard := slices.Contains(cleaned, "*")

	return cors.Handler(cors.Options{
		AllowedOrigins:   cleaned,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
}
