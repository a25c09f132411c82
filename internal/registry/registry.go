// Package registry maintains the in-memory registry of worker nodes.
//
// Workers register over HTTP when they start and send periodic heartbeats
// carrying a metrics snapshot. The gateway uses this registry to discover
// nodes, select one per request, and push lifecycle commands back to a
// node's local control endpoint.
//
// All state is in-memory and intentionally non-persistent: if the gateway
// restarts, workers re-register automatically via their heartbeat loop.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

// Selection strategies accepted by Select.
const (
	StrategyRoundRobin = "round_robin"
	StrategyLeastLoad  = "least_load"
	StrategyRandom     = "random"
)

// Filter narrows List results. Zero values mean no filtering.
type Filter struct {
	Engine        types.Engine
	Status        types.Status
	AvailableOnly bool
}

// Registry is the in-memory registry of worker nodes. It is safe for
// concurrent use by multiple goroutines (HTTP handlers, the sweeper and
// the status broadcaster all run concurrently).
//
// The zero value is not usable — create instances with New.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node

	// engineIndex keeps node ids per engine in registration order, which
	// makes round-robin selection deterministic.
	engineIndex map[types.Engine][]string
	rrCounters  map[types.Engine]int

	deadThreshold time.Duration

	onOnline       func(types.Node)
	onOffline      func(types.Node)
	onStatusChange func(node types.Node, from, to types.Status)

	client *http.Client
	logger *zap.Logger
}

// New creates a Registry. deadThreshold is how long a node may go without
// a heartbeat before the sweeper marks it offline.
func New(deadThreshold time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		nodes:         make(map[string]*types.Node),
		engineIndex:   make(map[types.Engine][]string),
		rrCounters:    make(map[types.Engine]int),
		deadThreshold: deadThreshold,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger.Named("registry"),
	}
}

// ─── Event callbacks ─────────────────────────────────────────────────────────

// OnNodeOnline sets the callback fired when a node registers for the first
// time. Must be set before the registry starts receiving traffic.
func (r *Registry) OnNodeOnline(fn func(types.Node)) { r.onOnline = fn }

// OnNodeOffline sets the callback fired when a node unregisters or is
// marked offline by the sweeper.
func (r *Registry) OnNodeOffline(fn func(types.Node)) { r.onOffline = fn }

// OnNodeStatusChange sets the callback fired when a node's status changes
// via heartbeat or an explicit update.
func (r *Registry) OnNodeStatusChange(fn func(node types.Node, from, to types.Status)) {
	r.onStatusChange = fn
}

// ─── Registration ────────────────────────────────────────────────────────────

// Register adds a node or refreshes an existing record. Re-registration of
// a live node updates the record in place without firing the online event,
// so a worker restarting its heartbeat loop does not spam dashboards. A
// node coming back from offline counts as coming online again.
func (r *Registry) Register(node types.Node) string {
	now := types.Now()
	node.RegisteredAt = now
	node.LastHeartbeat = now

	r.mu.Lock()
	prev, exists := r.nodes[node.NodeID]
	cameBack := exists && prev.Status == types.StatusOffline && node.Status != types.StatusOffline
	if exists {
		node.RegisteredAt = prev.RegisteredAt
		// A node re-registering under a new engine moves buckets; an id
		// must never sit in two engine indices at once.
		if prev.Engine != node.Engine {
			r.engineIndex[prev.Engine] = remove(r.engineIndex[prev.Engine], node.NodeID)
		}
	}
	stored := node
	r.nodes[node.NodeID] = &stored

	if !contains(r.engineIndex[node.Engine], node.NodeID) {
		r.engineIndex[node.Engine] = append(r.engineIndex[node.Engine], node.NodeID)
	}
	total := len(r.nodes)
	r.mu.Unlock()

	if exists && !cameBack {
		r.logger.Debug("node re-registered", zap.String("node_id", node.NodeID))
		return node.NodeID
	}

	r.logger.Info("node registered",
		zap.String("node_id", node.NodeID),
		zap.String("engine", string(node.Engine)),
		zap.String("address", node.Address()),
		zap.Int("total_nodes", total),
	)
	if r.onOnline != nil {
		r.onOnline(node)
	}
	return node.NodeID
}

// Unregister removes a node. Returns false if the node is unknown, which
// can happen when a stop command races the sweeper.
func (r *Registry) Unregister(nodeID string) bool {
	r.mu.Lock()
	node, exists := r.nodes[nodeID]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.nodes, nodeID)
	r.engineIndex[node.Engine] = remove(r.engineIndex[node.Engine], nodeID)
	gone := *node
	r.mu.Unlock()

	r.logger.Info("node unregistered", zap.String("node_id", nodeID))
	if r.onOffline != nil {
		r.onOffline(gone)
	}
	return true
}

// ─── Heartbeats ──────────────────────────────────────────────────────────────

// Heartbeat records a heartbeat from a node, copying the metrics snapshot
// onto its record. Returns false for unknown nodes so the worker knows to
// re-register.
func (r *Registry) Heartbeat(nodeID string, metrics *types.Metrics) bool {
	var (
		changed  bool
		snapshot types.Node
		from, to types.Status
	)

	r.mu.Lock()
	node, exists := r.nodes[nodeID]
	if !exists {
		r.mu.Unlock()
		return false
	}
	node.LastHeartbeat = types.Now()

	if metrics != nil {
		node.CPUPercent = metrics.CPUPercent
		node.MemoryPercent = metrics.MemoryPercent
		node.GPUPercent = metrics.GPUPercent
		node.GPUMemoryPercent = metrics.GPUMemoryPercent
		node.CurrentConcurrent = metrics.CurrentConcurrent
		node.RequestCount = metrics.RequestCount
		node.ErrorCount = metrics.ErrorCount
		node.AvgResponseTimeMS = metrics.AvgResponseTimeMS

		if metrics.Status != "" && metrics.Status != node.Status {
			from, to = node.Status, metrics.Status
			node.Status = metrics.Status
			node.ModelLoaded = to == types.StatusReady || to == types.StatusBusy
			changed = true
		}
	}
	snapshot = *node
	r.mu.Unlock()

	if changed && r.onStatusChange != nil {
		r.onStatusChange(snapshot, from, to)
	}
	return true
}

// UpdateStatus sets a node's status explicitly, refreshing its heartbeat
// timestamp. Used by the node-control endpoints after a command completes.
func (r *Registry) UpdateStatus(nodeID string, status types.Status) bool {
	var (
		changed  bool
		snapshot types.Node
		from     types.Status
	)

	r.mu.Lock()
	node, exists := r.nodes[nodeID]
	if !exists {
		r.mu.Unlock()
		return false
	}
	from = node.Status
	node.Status = status
	node.LastHeartbeat = types.Now()
	changed = from != status
	snapshot = *node
	r.mu.Unlock()

	if changed {
		r.logger.Info("node status changed",
			zap.String("node_id", nodeID),
			zap.String("from", string(from)),
			zap.String("to", string(status)),
		)
		if r.onStatusChange != nil {
			r.onStatusChange(snapshot, from, status)
		}
	}
	return true
}

// ─── Discovery and selection ─────────────────────────────────────────────────

// Node returns a copy of a node's record.
func (r *Registry) Node(nodeID string) (types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, exists := r.nodes[nodeID]
	if !exists {
		return types.Node{}, types.NodeNotFound(nodeID)
	}
	return *node, nil
}

// List returns node copies matching the filter, in registration order.
func (r *Registry) List(f Filter) []types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(f)
}

func (r *Registry) listLocked(f Filter) []types.Node {
	engines := types.Engines()
	if f.Engine != "" {
		engines = []types.Engine{f.Engine}
	}

	var out []types.Node
	for _, engine := range engines {
		for _, id := range r.engineIndex[engine] {
			node := r.nodes[id]
			if f.Status != "" && node.Status != f.Status {
				continue
			}
			if f.AvailableOnly && !node.IsAvailable() {
				continue
			}
			out = append(out, *node)
		}
	}
	return out
}

// Select picks an available node for the engine using the given strategy.
// The round-robin counter is kept per engine and wraps modulo the current
// available count, so membership changes never skip nodes for long.
func (r *Registry) Select(engine types.Engine, strategy string) (types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.listLocked(Filter{Engine: engine, AvailableOnly: true})
	if len(available) == 0 {
		return types.Node{}, types.NoAvailableNode(engine)
	}

	switch strategy {
	case StrategyRoundRobin:
		counter := r.rrCounters[engine]
		node := available[counter%len(available)]
		r.rrCounters[engine] = (counter + 1) % len(available)
		return node, nil
	case StrategyLeastLoad:
		best := available[0]
		for _, n := range available[1:] {
			if n.CurrentConcurrent < best.CurrentConcurrent {
				best = n
			}
		}
		return best, nil
	case StrategyRandom:
		return available[rand.Intn(len(available))], nil
	default:
		return available[0], nil
	}
}

// ─── Node control ────────────────────────────────────────────────────────────

// SendCommand posts a lifecycle command to a node's local control endpoint.
func (r *Registry) SendCommand(ctx context.Context, nodeID string, cmd types.Command) error {
	node, err := r.Node(nodeID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	url := fmt.Sprintf("http://%s/command", node.Address())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("command send failed",
			zap.String("node_id", nodeID),
			zap.String("command", cmd.Command),
			zap.Error(err),
		)
		return fmt.Errorf("send command to %s: %w", nodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node %s rejected command %s: status %d", nodeID, cmd.Command, resp.StatusCode)
	}
	return nil
}

// ─── Liveness sweeper ────────────────────────────────────────────────────────

// RunSweeper periodically marks nodes offline when their last heartbeat is
// older than the dead threshold. Records are marked, never removed, so a
// recovering worker keeps its history. Blocks until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	r.logger.Info("sweeper started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := types.Now()
	var marked []types.Node

	r.mu.Lock()
	for _, node := range r.nodes {
		elapsed := now - node.LastHeartbeat
		if elapsed <= r.deadThreshold.Seconds() {
			continue
		}
		if node.Status == types.StatusOffline {
			continue
		}
		node.Status = types.StatusOffline
		node.ModelLoaded = false
		marked = append(marked, *node)
	}
	r.mu.Unlock()

	for _, node := range marked {
		r.logger.Warn("node marked offline",
			zap.String("node_id", node.NodeID),
			zap.Float64("since_heartbeat_secs", now-node.LastHeartbeat),
		)
		if r.onOffline != nil {
			r.onOffline(node)
		}
	}
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats summarises the registry per engine and in total.
func (r *Registry) Stats() types.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.RegistryStats{Engines: make(map[string]types.EngineStats)}
	for _, engine := range types.Engines() {
		var es types.EngineStats
		for _, id := range r.engineIndex[engine] {
			node := r.nodes[id]
			es.Total++
			if node.Status != types.StatusOffline {
				es.Online++
			}
			if node.IsAvailable() {
				es.Ready++
			}
		}
		stats.Engines[string(engine)] = es
		stats.TotalNodes += es.Total
		stats.OnlineNodes += es.Online
		stats.ReadyNodes += es.Ready
	}
	return stats
}

// SystemStatus builds the cluster overview pushed to dashboards. The
// average response time is averaged across nodes that have served at
// least one request.
func (r *Registry) SystemStatus() types.SystemStatus {
	stats := r.Stats()

	r.mu.RLock()
	var (
		totalRequests   int64
		totalConcurrent int64
		avgSum          float64
		activeNodes     int
	)
	for _, node := range r.nodes {
		totalRequests += node.RequestCount
		totalConcurrent += node.CurrentConcurrent
		if node.RequestCount > 0 {
			avgSum += node.AvgResponseTimeMS
			activeNodes++
		}
	}
	r.mu.RUnlock()

	var avg float64
	if activeNodes > 0 {
		avg = avgSum / float64(activeNodes)
	}

	return types.SystemStatus{
		OnlineNodes:       stats.OnlineNodes,
		TotalNodes:        stats.TotalNodes,
		TotalRequests:     totalRequests,
		CurrentConcurrent: totalConcurrent,
		AvgResponseTimeMS: avg,
		Engines:           stats.Engines,
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
