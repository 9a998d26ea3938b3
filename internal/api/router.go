/**
 * @description
 * HTTP router setup for the campaign-service using go-chi/chi. Every route lives under
 * /api. Webhook routes read the raw body themselves and sit outside authentication;
 * background task triggers require the internal API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Routing and standard middleware.
 * - github.com/go-chi/cors: CORS for the web frontend.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	AccessTokenSecret string
	InternalAPIKey    string
	FrontendURL       string
	RequestTimeout    time.Duration
}

// NewRouter creates a new Chi router and registers campaign-service routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	origins := []string{"https://*", "http://*"}
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Campaign service is healthy"))
	})

	authenticated := AccessTokenMiddleware(cfg.AccessTokenSecret)
	optional := OptionalAccessTokenMiddleware(cfg.AccessTokenSecret)
	owners := RequireRoles(RoleUser, RoleCallCenterAgent, RoleCampaignReviewer, RoleAdmin, RoleSuperAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Route("/donation", func(r chi.Router) {
			r.Post("/verify", h.handleRegionalWebhook)
			r.Get("/verify/{txRef}", h.handleVerifyDonation)
			r.Post("/guest/{campaignId}", h.handleGuestDonate)
			r.With(authenticated).Get("/me", h.handleListMyDonations)
			r.With(authenticated).Post("/{campaignId}", h.handleDonate)
			r.Get("/{campaignId}", h.handleListCampaignDonations)
		})

		r.Route("/stripe", func(r chi.Router) {
			r.Post("/webhook", h.handleCardWebhook)
			r.With(optional).Post("/create-checkout-session", h.handleCreateCheckoutSession)
		})

		r.Route("/campaign", func(r chi.Router) {
			r.Get("/", h.handleListCampaigns)
			r.Get("/{id}", h.handleGetCampaign)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.With(RequireRoles(RoleCampaignReviewer, RoleAdmin, RoleSuperAdmin)).Patch("/{id}/status", h.handleUpdateCampaignStatus)
				r.With(owners).Post("/{id}/close-code", h.handleSendCloseCode)
				r.With(owners).Post("/{id}/verify-code", h.handleVerifyCloseCode)
				r.With(owners).Patch("/{id}/close", h.handleCloseCampaign)
				r.With(RequireRoles(RoleUser, RoleCallCenterAgent)).Delete("/{id}", h.handleDeleteCampaign)
			})
		})

		r.Get("/currency/latest", h.handleGetCurrencyRate)

		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
			r.Post("/scheduler/close-campaigns", h.handleTriggerDeadlineSweep)
			r.Post("/currency/latest", h.handleRefreshCurrencyRate)
		})
	})

	return r
}
