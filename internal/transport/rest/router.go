package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/storiesoff/backend/internal/authvk"
	"github.com/storiesoff/backend/internal/billing"
	"github.com/storiesoff/backend/internal/ocr"
	"github.com/storiesoff/backend/internal/transport/middleware"
	"github.com/storiesoff/backend/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, billingHandler *billing.Handler, webhookHandler *billing.WebhookHandler, vkHandler *authvk.Handler, ocrHandler *ocr.Handler, jwtSecret string, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve the OpenAPI document at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if billingHandler != nil {
			r.Route("/premium", func(sr chi.Router) {
				sr.Get("/plans", billingHandler.GetPlans)
				sr.Post("/payment", billingHandler.CreatePayment)
				sr.Post("/confirm/{paymentID}", billingHandler.ConfirmPayment)

				if webhookHandler != nil {
					sr.Post("/webhook", webhookHandler.HandleWebhook)
				}
			})
		}

		if vkHandler != nil {
			r.Route("/auth/vk", func(sr chi.Router) {
				sr.Get("/start", vkHandler.Start)
				sr.Get("/callback", vkHandler.Callback)
				sr.Post("/native-login", vkHandler.NativeLogin)
			})
		}

		if ocrHandler != nil {
			r.Get("/ocr", ocrHandler.Probe)
			// Recognition is the one endpoint gated on a Supabase session
			r.Group(func(pr chi.Router) {
				pr.Use(middleware.SupabaseAuth(jwtSecret, logger))
				pr.Post("/ocr", ocrHandler.Recognize)
			})
		}
	})
}
