package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/registry"
	"github.com/voicegrid/voicegrid/internal/types"
)

// handleRegisterNode is POST /api/nodes/register, called by workers on
// startup and whenever a heartbeat reveals the gateway lost the record.
func (g *Gateway) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var node types.Node
	if !decodeJSON(w, r, &node) {
		return
	}
	if node.NodeID == "" || node.Host == "" || node.Port == 0 {
		writeError(w, http.StatusBadRequest, "node_id, host and port are required", types.CodeInvalidRequest)
		return
	}
	if _, err := types.ParseEngine(string(node.Engine)); err != nil {
		writeDomainError(w, err)
		return
	}

	nodeID := g.registry.Register(node)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "node_id": nodeID})
}

// handleUnregisterNode is DELETE /api/nodes/{id}. Unknown nodes report
// success false rather than an error: the worker is gone either way.
func (g *Gateway) handleUnregisterNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	ok := g.registry.Unregister(nodeID)
	writeJSON(w, http.StatusOK, map[string]any{"success": ok})
}

// handleHeartbeat is POST /api/nodes/{id}/heartbeat. An unknown node gets
// a 404, which tells the worker to re-register.
func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")

	var metrics types.Metrics
	if !decodeJSON(w, r, &metrics) {
		return
	}

	if !g.registry.Heartbeat(nodeID, &metrics) {
		writeDomainError(w, types.NodeNotFound(nodeID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleListNodes is GET /api/nodes with optional engine and status
// query filters.
func (g *Gateway) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var filter registry.Filter

	if v := r.URL.Query().Get("engine"); v != "" {
		engine, err := types.ParseEngine(v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Engine = engine
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := types.ParseStatus(v)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Status = status
	}

	nodes := g.registry.List(filter)
	if nodes == nil {
		nodes = []types.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

// handleGetNode is GET /api/nodes/{id}.
func (g *Gateway) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := g.registry.Node(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleNodeCommand is POST /api/nodes/{id}/command. The command is
// forwarded to the worker's control endpoint; the registry record is
// updated optimistically for activate and standby so dashboards reflect
// the transition before the next heartbeat lands.
func (g *Gateway) handleNodeCommand(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")

	var cmd types.Command
	if !decodeJSON(w, r, &cmd) {
		return
	}
	if cmd.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required", types.CodeInvalidRequest)
		return
	}

	if err := g.registry.SendCommand(r.Context(), nodeID, cmd); err != nil {
		var domain *types.Error
		if errors.As(err, &domain) && domain.Code == types.CodeNodeNotFound {
			writeDomainError(w, err)
			return
		}
		g.logger.Error("node command failed",
			zap.String("node_id", nodeID),
			zap.String("command", cmd.Command),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}

	switch cmd.Command {
	case "activate", "load_model":
		g.registry.UpdateStatus(nodeID, types.StatusLoading)
	case "standby", "unload_model":
		g.registry.UpdateStatus(nodeID, types.StatusStandby)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
