// Package callinapi предоставляет маршруты и сборку приложения call-in API.
package callinapi

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/http/handlers/callin/health"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/http/handlers/callin/subscribe"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/http/handlers/callin/unsubscribe"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/http/middlewarectx"
	callinservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/callin"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, callinService *callinservice.CallinService) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.New(logger).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/subscriptions", subscribe.New(logger, callinService).ServeHTTP)
			r.Delete("/subscriptions", unsubscribe.New(logger, callinService).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
}
