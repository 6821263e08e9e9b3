package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stackvest/strategy-sagas/internal/gateway/httpx/middlewares"
)

// NewRouter assembles the gateway routes with the shared middleware
// stack, wrapped in otelhttp so every request carries a server span.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/plans/execute", handler.ExecutePlan)
	r.Get("/flows/{planID}", handler.GetFlow)
	r.Get("/audit", handler.GetAuditTrail)
	r.Get("/audit/users/{userID}", handler.GetUserAuditTrail)
	r.Get("/health", handler.GetHealth)

	return otelhttp.NewHandler(r, "gateway")
}
