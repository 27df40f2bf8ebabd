package api

import (
	"net/http"
	"time"

	"consentido_auth/internal/api/handler"
	"consentido_auth/internal/app/service"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultRequestTimeout bounds a request when RouterConfig.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

type RouterConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	// RequestTimeout cancels the request context of slow handlers.
	RequestTimeout time.Duration
	// AccessLog turns on chi's request logger.
	AccessLog bool
}

func (c RouterConfig) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

func NewRouter(authService *service.AuthService, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(cfg.requestTimeout()))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: cfg.AllowCredentials,
			MaxAge:           3600,
		}))
	}

	// Public health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(api chi.Router) {
		authHandler := handler.NewAuthHandler(authService)
		api.Route("/auth", authHandler.RegisterRoutes)
	})

	return r
}
