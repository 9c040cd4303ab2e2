package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wallet-custody/config"
	"wallet-custody/internal/origin"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(CORSMiddleware(origin.NewPolicy(), corsOrigins(cfg.Gate.WhitelistedOrigins, cfg.Gate.DashboardOrigins)))
	r.Use(MetricsMiddleware)

	// Health check
	r.Get(cfg.Gate.HealthPath, h.HandleHealth)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.GateMiddleware)

		// Challenges and sign-up
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signature-message", h.HandleSignatureMessage)
			r.Post("/signature-message/external", h.HandleSignatureMessage)
			r.With(h.SignatureMiddleware).Post("/sign-up/external", h.HandleSignUpExternal)
		})

		// Everything below acts on behalf of a signed-in user
		r.Group(func(r chi.Router) {
			r.Use(h.BearerMiddleware)

			r.Get("/transactions/{id}", h.HandleGetTransaction)

			r.Group(func(r chi.Router) {
				r.Use(h.SignatureMiddleware)

				r.Post("/wallets", h.HandleCreateWallet)
				r.Post("/wallets/import", h.HandleImportWallet)
				r.Post("/multisig", h.HandleCreateMultisig)
				r.Post("/transactions/multisig", h.HandleInitTransaction)
				r.Post("/transactions/{id}/sign", h.HandleSignTransaction)
				r.Post("/transactions/{id}/reject", h.HandleRejectTransaction)
			})
		})
	})

	return r
}
