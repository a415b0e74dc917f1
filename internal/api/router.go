/**
 * @description
 * This file sets up the HTTP router for the payments-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication.
 *
 * Route groups:
 * - Public: campaign browsing, contribution creation and status polling, the
 *   provider webhook and direct invoice utilities. Contributors do not need an
 *   account to pledge.
 * - Authenticated: campaign management, contribution cancellation and wallet
 *   introspection.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payments service.
func PaymentRoutes(h *PaymentHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhook. Authenticated by HMAC signature, not bearer token.
	r.Post("/webhooks/lnbits", h.WebhookHandler)

	// Public endpoints.
	r.Group(func(r chi.Router) {
		r.Use(OptionalAuth(jwtSecret))

		r.Get("/campaigns", h.ListCampaignsHandler)
		r.Get("/campaigns/{campaignID}", h.GetCampaignHandler)
		r.Get("/campaigns/{campaignID}/contributions", h.ListCampaignContributionsHandler)

		r.Post("/contributions", h.CreateContributionHandler)
		r.Get("/contributions", h.ListContributionsHandler)
		r.Get("/contributions/{contributionID}", h.GetContributionHandler)
		r.Get("/contributions/{contributionID}/status", h.ContributionStatusHandler)

		r.Post("/payments/invoice", h.CreateInvoiceHandler)
		r.Get("/payments/invoice/{paymentHash}", h.InvoiceStatusHandler)
		r.Post("/payments/decode", h.DecodeInvoiceHandler)
		r.Get("/payments/health", h.PaymentsHealthHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(jwtSecret))

		r.Post("/campaigns", h.CreateCampaignHandler)
		r.Put("/campaigns/{campaignID}", h.UpdateCampaignHandler)
		r.Delete("/campaigns/{campaignID}", h.DeleteCampaignHandler)

		r.Post("/contributions/{contributionID}/cancel", h.CancelContributionHandler)

		r.Get("/payments/wallet/balance", h.WalletBalanceHandler)
		r.Get("/payments/wallet/payments", h.WalletPaymentsHandler)
	})

	return r
}
