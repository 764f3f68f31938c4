package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CollectCORS allows storefront pages on any origin to post pixel events.
// Collection never relies on cookies so credentials stay disabled.
func CollectCORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           600,
	}).Handler
}
