package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// WidgetCORS opens the widget API to the embedding sites. The widget sends no
// cookies, so credentialed cross-origin requests are never allowed.
func WidgetCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
