package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig configures cross-origin access for browser front-ends.
type CORSConfig struct {
	// AllowedOrigins lists exact origins; "*" allows any origin. An empty
	// list allows any origin in development and none elsewhere.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string

	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int

	Environment string
}

// DefaultCORSConfig allows a local web client to call the API with bearer
// tokens and read the correlation and trace headers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", CorrelationHeader, "Traceparent"},
		ExposedHeaders: []string{CorrelationHeader, "Traceparent"},
		MaxAge:         600,
		Environment:    "development",
	}
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Credentials travel in the Authorization header, so cookies are
// never allowed.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: cfg.AllowedMethods,
		AllowedHeaders: cfg.AllowedHeaders,
		ExposedHeaders: cfg.ExposedHeaders,
		MaxAge:         cfg.MaxAge,
	}
	if len(cfg.AllowedOrigins) == 0 {
		if cfg.Environment == "development" {
			opts.AllowedOrigins = []string{"*"}
		} else {
			opts.AllowOriginFunc = func(string) bool { return false }
		}
	}
	return cors.New(opts).Handler
}
