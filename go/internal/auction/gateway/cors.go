package gateway

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser clients on any origin to reach the gateway. The
// actor headers are listed so the state endpoint can be called with them.
func CORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "X-Actor-Id"},
		MaxAge:         86400,
	}).Handler(next)
}
