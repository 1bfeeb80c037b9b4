package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/metrics"
)

// NewRouter mounts the API on a chi router with the standard middleware chain.
func NewRouter(s *Server, apiKeys []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(log))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(log))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sources", s.IngestSource)
		r.Get("/sources/{id}", s.GetSource)
		r.Delete("/sources/{id}", s.DeleteSource)
		r.Post("/sources/{id}/reembed", s.ReembedSource)

		r.Post("/ask", s.Ask)
		r.Post("/chat/{session_id}/messages", s.ChatMessage)
		r.Get("/chat/{session_id}/turns", s.ChatTurns)
		r.Delete("/chat/{session_id}", s.DeleteChat)

		r.Get("/models", s.ListModels)
		r.Get("/usage", s.GetUsage)
	})
	return r
}
