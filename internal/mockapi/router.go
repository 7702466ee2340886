package mockapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/campusfeed/pkg/health"
	"github.com/utafrali/campusfeed/pkg/middleware"
)

const serviceName = "mockapi"

// NewRouter creates a chi router with all backend routes registered.
func NewRouter(s *Server, healthHandler *health.Handler) http.Handler {
	r := chi.NewRouter()
	logger := s.logger

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.cfg.CORSOrigins
	corsConfig.Environment = s.cfg.Environment

	// Global middleware
	r.Use(middleware.CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.MountProfiler(r, s.cfg.PprofCIDRs, logger)

	r.Get("/media/{name}", s.Media.ServeHTTP)

	validate := s.Tokens.Validator()
	authHandler := NewAuthHandler(s.Store, s.Tokens, s.Media, s.cfg.AutoVerify, logger)
	postHandler := NewPostHandler(s.Store, s.Media, logger)
	commentHandler := NewCommentHandler(s.Store, logger)
	adminHandler := NewAdminHandler(s.Store, logger)

	r.Route("/api", func(r chi.Router) {
		// Token endpoints (public)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Post("/auth/register/", authHandler.Register)
			r.Post("/auth/token/", authHandler.Token)
			r.Post("/auth/token/refresh/", authHandler.Refresh)
		})

		// Readable anonymously; the viewer's likes are filled in when a token is sent.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(validate))
			r.Use(middleware.RequestLogger(logger))
			r.Get("/auth/profile/{id}/", authHandler.Profile)
			r.Get("/core/posts/", postHandler.List)
			r.Get("/core/posts/{id}/", postHandler.Get)
			r.Get("/comments/", commentHandler.List)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(validate))
			r.Use(middleware.RequestLogger(logger))

			r.With(middleware.NoStore).Get("/auth/me/", authHandler.Me)
			r.With(middleware.NoStore).Patch("/auth/me/", authHandler.UpdateMe)

			r.Post("/core/posts/", postHandler.Create)
			r.Put("/core/posts/{id}/", postHandler.Update)
			r.Delete("/core/posts/{id}/", postHandler.Delete)
			r.Post("/core/posts/{id}/toggle_like/", postHandler.ToggleLike)

			r.Post("/comments/", commentHandler.Create)
			r.Delete("/comments/{id}/", commentHandler.Delete)

			r.With(middleware.RequireStaff()).Post("/admin/users/{id}/verify/", adminHandler.Verify)
		})
	})

	return r
}
