/**
 * @description
 * This file sets up the HTTP router for the banking-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: Metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BankRoutes creates and returns the router for the banking service.
func BankRoutes(h *BankHandlers, jwtSecret string) http.Handler {
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

	r.Handle("/metrics", promhttp.Handler())

	// Gateway-invoked callbacks carry no bearer token; the provider is
	// authenticated by the callback URL registration instead.
	r.Post("/callback/collection", h.CollectionCallbackHandler)
	r.Post("/callback/disbursement", h.DisbursementCallbackHandler)
	r.Post("/callback/disbursement/timeout", h.DisbursementTimeoutHandler)

	// Called by the frontend right after identity-provider signup.
	r.Post("/register", h.RegisterProfileHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/deposit/initiate", h.DepositInitiationHandler)
		r.Post("/withdraw/initiate", h.WithdrawalInitiationHandler)
		r.Post("/deposit/direct", h.DirectDepositHandler)
		r.Post("/withdraw/direct", h.DirectWithdrawHandler)

		r.Get("/account/profile", h.ProfileHandler)
		r.Get("/account/balance", h.BalanceHandler)
		r.Get("/account/transactions", h.TransactionListHandler)
		r.Get("/account/transactions/{transactionID}", h.TransactionDetailHandler)

		r.Get("/status/{transactionID}", h.GatewayStatusHandler)
	})

	return r
}
