package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	httphandlers "finmirror/internal/interfaces/http"
	"finmirror/internal/shared/config"
	"finmirror/internal/shared/middleware"
	"finmirror/internal/shared/telemetry"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logging)
	router.Use(middleware.Tracing)
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	router.Get("/health", httphandlers.HandleHealth(deps.DB))
	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsPort == "" {
		router.Handle("/metrics", telemetry.MetricsHandler())
	}

	authMiddleware := middleware.Auth(deps.JWT)

	router.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/create", deps.UserHandler.HandleCreate)
			r.Post("/sign_in", deps.UserHandler.HandleSignIn)
			r.Post("/sign_out", deps.UserHandler.HandleSignOut)
			r.Get("/list", deps.UserHandler.HandleList)
			r.With(authMiddleware).Get("/get_my_info", deps.UserHandler.HandleGetMyInfo)
			r.With(authMiddleware).Delete("/delete", deps.UserHandler.HandleDelete)
		})

		r.Route("/banks", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/list", deps.BankHandler.HandleList)
			r.Post("/deactivate", deps.BankHandler.HandleDeactivate)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/sync", deps.TransactionHandler.HandleSync)
			r.Get("/list", deps.TransactionHandler.HandleList)
			r.Delete("/delete/{txnId}", deps.TransactionHandler.HandleDelete)
		})

		r.Post("/webhooks/provider", deps.WebhookHandler.HandleProvider)
	})

	var handler http.Handler = router
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}
