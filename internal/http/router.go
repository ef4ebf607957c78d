package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/handlers"
	"docqa-ai/internal/rag"
	"docqa-ai/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	ChatService service.ConversationalService
	RAGEngine   rag.Engine

	Documents      handlers.DocumentPipeline
	DocumentLister handlers.DocumentLister
	Integrity      handlers.IntegrityVerifier
	Coverage       handlers.CoverageReporter
	SearchStats    handlers.StatsSource

	// ChunkingDefaults seeds rechunk requests.
	ChunkingDefaults chunking.Options

	HealthChecks []handlers.HealthCheck
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(CORS)

	healthHandler := handlers.NewHealthHandler(deps.HealthChecks...)
	askHandler := handlers.NewAskHandler(deps.RAGEngine, deps.Coverage)
	chatHandler := handlers.NewChatHandler(deps.ChatService)
	statsHandler := handlers.NewStatsHandler(deps.SearchStats, deps.Coverage)
	docsHandler := handlers.NewDocumentsHandler(deps.Documents, deps.DocumentLister, deps.Integrity, deps.ChunkingDefaults)

	r.Method(http.MethodGet, HealthPath, healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireUser)

		r.Method(http.MethodPost, "/ask", askHandler)
		r.Method(http.MethodPost, "/chat", chatHandler)
		r.Method(http.MethodGet, "/search/stats", statsHandler)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docsHandler.Upload)
			r.Get("/", docsHandler.List)
			r.Delete("/{id}", docsHandler.Delete)
			r.Post("/{id}/rechunk", docsHandler.Rechunk)
			r.Get("/{id}/integrity", docsHandler.Integrity)
		})
	})

	return r
}
