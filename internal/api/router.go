package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/leadboard-be/internal/api/handlers"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/config"
	"github.com/isdelr/leadboard-be/internal/services"
	"github.com/isdelr/leadboard-be/internal/websocket"
)

// Dependencies are the collaborators the router wires into handlers.
type Dependencies struct {
	Guard  *auth.Guard
	Tokens handlers.TokenManager
	Users  services.UserServiceProvider
	Leads  services.LeadServiceProvider
	Events services.EventServiceProvider
	Hub    *websocket.Hub
	Stats  handlers.StatsSource
}

// NewRouter creates and configures a new Chi router.
func NewRouter(cfg *config.Config, deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	metrics := NewMetrics()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	leadHandler := handlers.NewLeadHandler(deps.Leads)
	authHandler := handlers.NewAuthHandler(deps.Users, deps.Tokens, cfg.IsProduction())
	eventHandler := handlers.NewEventHandler(deps.Events)
	healthHandler := handlers.NewHealthHandler(deps.Stats)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.Guard, cfg.CORSOrigins)
	publicLimit := NewRateLimiter(cfg.PublicRatePerSec, cfg.PublicRateBurst)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		// WebSocket connection endpoint, authenticated inside the handler
		r.Get("/ws", wsHandler.Serve)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(deps.Guard.Middleware)
				r.Post("/logout", authHandler.Logout)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Get("/me", authHandler.GetMe)
			})
		})

		r.Route("/leads", func(r chi.Router) {
			// Public form submissions; a valid token makes the caller the owner.
			r.With(publicLimit.Middleware, deps.Guard.Optional).Post("/", leadHandler.Create)

			r.Group(func(r chi.Router) {
				r.Use(deps.Guard.Middleware)
				r.Get("/", leadHandler.List)
				r.Get("/{id}", leadHandler.Get)
				r.Put("/{id}", leadHandler.Update)
				r.Delete("/{id}", leadHandler.Delete)
			})
		})

		r.With(deps.Guard.Middleware).Get("/events", eventHandler.GetRecent)
	})

	return r
}
