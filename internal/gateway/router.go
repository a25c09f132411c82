package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the gateway's HTTP surface. The rate limiter runs after
// RealIP so per-IP windows key on the real client address behind proxies.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)
	r.Use(g.instrument)
	r.Use(g.rateLimit)

	r.Get("/", g.handleRoot)
	r.Get("/health", g.handleHealth)
	r.Get("/metrics", g.metrics.Handler().ServeHTTP)
	r.Get("/ws", g.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", g.handleHealth)
		r.Get("/status", g.handleSystemStatus)

		// Node management, used by workers and the admin dashboard.
		r.Post("/nodes/register", g.handleRegisterNode)
		r.Get("/nodes", g.handleListNodes)
		r.Get("/nodes/{id}", g.handleGetNode)
		r.Delete("/nodes/{id}", g.handleUnregisterNode)
		r.Post("/nodes/{id}/heartbeat", g.handleHeartbeat)
		r.Post("/nodes/{id}/command", g.handleNodeCommand)

		// Synthesis.
		r.Post("/synthesize", g.handleSynthesize)
		r.Post("/batch_synthesize", g.handleBatchSynthesize)
		r.Post("/extract_voice", g.handleExtractVoice)

		// Announcements.
		r.Get("/announcements", g.handleListAnnouncements)
		r.Post("/announcements", g.handleCreateAnnouncement)
		r.Delete("/announcements/{id}", g.handleDeleteAnnouncement)
	})

	return r
}
