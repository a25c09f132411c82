package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/websocket"
)

// handleRoot is GET /, a plain service banner for probes and humans.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "voicegrid",
		"version": g.version,
	})
}

// handleHealth serves GET /health and GET /api/health. The gateway is
// healthy with at least one ready node, degraded with online nodes that
// are not ready, and unhealthy with none at all.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := g.registry.Stats()

	status := "healthy"
	if stats.ReadyNodes == 0 {
		status = "unhealthy"
		if stats.OnlineNodes > 0 {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, types.HealthCheck{
		Status:        status,
		Version:       g.version,
		UptimeSeconds: time.Since(g.startTime).Seconds(),
		Timestamp:     types.Now(),
		Components: map[string]any{
			"registry": map[string]int{
				"total_nodes":  stats.TotalNodes,
				"online_nodes": stats.OnlineNodes,
				"ready_nodes":  stats.ReadyNodes,
			},
			"limiter": g.limiter.Stats(),
		},
	})
}

// handleSystemStatus is GET /api/status: the cluster overview with
// active announcements.
func (g *Gateway) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.systemStatus())
}

// handleListAnnouncements is GET /api/announcements.
func (g *Gateway) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	active := g.announcements.Active()
	if active == nil {
		active = []types.Announcement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"announcements": active})
}

// handleCreateAnnouncement is POST /api/announcements. The new
// announcement is pushed to connected dashboards immediately.
func (g *Gateway) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var a types.Announcement
	if !decodeJSON(w, r, &a) {
		return
	}
	if a.Title == "" && a.Message == "" {
		writeError(w, http.StatusBadRequest, "title or message is required", types.CodeInvalidRequest)
		return
	}

	stored := g.announcements.Add(a)
	g.broadcaster.NotifyAnnouncement(stored)
	g.logger.Info("announcement published",
		zap.String("id", stored.ID),
		zap.String("type", string(stored.Type)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": stored.ID})
}

// handleDeleteAnnouncement is DELETE /api/announcements/{id}.
func (g *Gateway) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	g.announcements.Remove(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleWS upgrades GET /ws to the status feed.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.NewClient(g.hub, w, r, g.systemStatus, g.logger)
	if err != nil {
		// Upgrade failures already wrote the HTTP error.
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	go func() {
		client.Run()
		g.syncGauges()
	}()
	g.syncGauges()
}
