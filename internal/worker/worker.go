// Package worker implements the worker node runtime: the lifecycle state
// machine around an engine, the local HTTP control surface, and the
// registration and heartbeat loops that keep the gateway informed.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/engine"
	"github.com/voicegrid/voicegrid/internal/metrics"
	"github.com/voicegrid/voicegrid/internal/types"
)

// Options configures a Worker.
type Options struct {
	// NodeID is the cluster-wide identifier. Generated from the engine
	// type when empty.
	NodeID string

	// Host and Port are what the worker advertises to the gateway; the
	// gateway forwards synthesis traffic to this address.
	Host string
	Port int

	// GatewayURL enables registration and heartbeats when non-empty.
	GatewayURL string

	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
}

// Worker hosts one engine and manages its lifecycle. All state transitions
// go through the mutex; counters are atomics so the request path never
// contends with lifecycle operations.
type Worker struct {
	nodeID     string
	engine     engine.Engine
	host       string
	port       int
	gatewayURL string

	heartbeatInterval time.Duration
	stopTimeout       time.Duration

	mu          sync.Mutex
	status      types.Status
	modelLoaded bool

	startTime time.Time

	requestCount      atomic.Int64
	errorCount        atomic.Int64
	currentConcurrent atomic.Int64

	respMu          sync.Mutex
	totalResponseMS float64

	// stopRequested is closed when a stop command arrives, signalling the
	// serving layer to begin graceful shutdown.
	stopRequested chan struct{}
	stopOnce      sync.Once

	collector *metrics.Collector
	client    *http.Client
	logger    *zap.Logger
}

// New creates a Worker around eng.
func New(eng engine.Engine, collector *metrics.Collector, opts Options, logger *zap.Logger) *Worker {
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = fmt.Sprintf("%s-%s", eng.Type(), types.NewID())
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}

	return &Worker{
		nodeID:            nodeID,
		engine:            eng,
		host:              opts.Host,
		port:              opts.Port,
		gatewayURL:        opts.GatewayURL,
		heartbeatInterval: opts.HeartbeatInterval,
		stopTimeout:       opts.StopTimeout,
		status:            types.StatusStandby,
		startTime:         time.Now(),
		stopRequested:     make(chan struct{}),
		collector:         collector,
		client:            &http.Client{Timeout: 10 * time.Second},
		logger:            logger.Named("worker").With(zap.String("node_id", nodeID)),
	}
}

// NodeID returns the worker's cluster identifier.
func (w *Worker) NodeID() string { return w.nodeID }

// Status returns the current lifecycle state.
func (w *Worker) Status() types.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// StopRequested is closed when a stop command arrives over the control
// endpoint. The serving layer selects on it to trigger shutdown.
func (w *Worker) StopRequested() <-chan struct{} { return w.stopRequested }

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Start registers with the gateway. The heartbeat loop is run separately
// via RunHeartbeat so the caller controls its lifetime.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker starting", zap.String("engine", string(w.engine.Type())))
	if w.gatewayURL != "" {
		w.register(ctx)
	}
}

// Activate loads the engine's model. Idempotent: an already loaded worker
// just reasserts ready.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.modelLoaded {
		w.status = types.StatusReady
		w.mu.Unlock()
		return nil
	}
	w.status = types.StatusLoading
	w.mu.Unlock()

	if err := w.engine.Load(ctx); err != nil {
		w.logger.Error("activate failed", zap.Error(err))
		w.setStatus(types.StatusError, false)
		return err
	}

	w.setStatus(types.StatusReady, true)
	w.logger.Info("worker activated")
	return nil
}

// Standby unloads the model. A worker with no model loaded is already on
// standby.
func (w *Worker) Standby(ctx context.Context) error {
	w.mu.Lock()
	if !w.modelLoaded {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.engine.Unload(ctx); err != nil {
		w.logger.Error("standby failed", zap.Error(err))
		return err
	}

	w.setStatus(types.StatusStandby, false)
	w.logger.Info("worker on standby")
	return nil
}

// Stop drains in-flight requests, unloads the model and unregisters from
// the gateway. Draining waits at most half the stop timeout, polling every
// 500ms, then proceeds regardless.
func (w *Worker) Stop(ctx context.Context) {
	w.logger.Info("worker stopping", zap.Duration("timeout", w.stopTimeout))

	deadline := time.Now().Add(w.stopTimeout / 2)
drain:
	for w.currentConcurrent.Load() > 0 && time.Now().Before(deadline) {
		w.logger.Info("waiting for in-flight requests",
			zap.Int64("in_flight", w.currentConcurrent.Load()))
		select {
		case <-ctx.Done():
			break drain
		case <-time.After(500 * time.Millisecond):
		}
	}
	if n := w.currentConcurrent.Load(); n > 0 {
		w.logger.Warn("force stopping with requests in progress", zap.Int64("in_flight", n))
	}

	w.mu.Lock()
	loaded := w.modelLoaded
	w.mu.Unlock()
	if loaded {
		if err := w.engine.Unload(ctx); err != nil {
			w.logger.Warn("unload during stop failed", zap.Error(err))
		}
	}

	if w.gatewayURL != "" {
		w.unregister(ctx)
	}

	w.setStatus(types.StatusOffline, false)
	w.logger.Info("worker stopped")
}

// requestStop signals the serving layer that a stop command arrived.
func (w *Worker) requestStop() {
	w.stopOnce.Do(func() { close(w.stopRequested) })
}

func (w *Worker) setStatus(status types.Status, loaded bool) {
	w.mu.Lock()
	w.status = status
	w.modelLoaded = loaded
	w.mu.Unlock()
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// NodeInfo builds the registration record advertised to the gateway.
func (w *Worker) NodeInfo() types.Node {
	w.mu.Lock()
	status, loaded := w.status, w.modelLoaded
	w.mu.Unlock()

	host := w.collector.Collect()
	return types.Node{
		NodeID:            w.nodeID,
		Engine:            w.engine.Type(),
		Host:              w.host,
		Port:              w.port,
		Status:            status,
		ModelLoaded:       loaded,
		CPUPercent:        host.CPUPercent,
		MemoryPercent:     host.MemoryPercent,
		RequestCount:      w.requestCount.Load(),
		ErrorCount:        w.errorCount.Load(),
		CurrentConcurrent: w.currentConcurrent.Load(),
	}
}

// Metrics builds the heartbeat snapshot.
func (w *Worker) Metrics() types.Metrics {
	w.mu.Lock()
	status := w.status
	w.mu.Unlock()

	host := w.collector.Collect()

	requests := w.requestCount.Load()
	var avg float64
	if requests > 0 {
		w.respMu.Lock()
		avg = w.totalResponseMS / float64(requests)
		w.respMu.Unlock()
	}

	return types.Metrics{
		NodeID:            w.nodeID,
		Timestamp:         types.Now(),
		Status:            status,
		CPUPercent:        host.CPUPercent,
		MemoryPercent:     host.MemoryPercent,
		MemoryUsedMB:      host.MemoryUsedMB,
		GPUPercent:        host.GPUPercent,
		GPUMemoryPercent:  host.GPUMemoryPercent,
		GPUMemoryUsedMB:   host.GPUMemoryUsedMB,
		CurrentConcurrent: w.currentConcurrent.Load(),
		RequestCount:      requests,
		ErrorCount:        w.errorCount.Load(),
		AvgResponseTimeMS: avg,
	}
}

func (w *Worker) recordResponse(elapsedMS float64) {
	w.requestCount.Add(1)
	w.respMu.Lock()
	w.totalResponseMS += elapsedMS
	w.respMu.Unlock()
}

// ─── Gateway communication ───────────────────────────────────────────────────

// RunHeartbeat posts a metrics snapshot to the gateway on a fixed interval
// until ctx is cancelled. A 404 from the gateway means it restarted and
// lost the registration; the worker re-registers and carries on.
func (w *Worker) RunHeartbeat(ctx context.Context) {
	if w.gatewayURL == "" {
		return
	}
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

func (w *Worker) register(ctx context.Context) {
	body, err := json.Marshal(w.NodeInfo())
	if err != nil {
		w.logger.Error("marshal registration", zap.Error(err))
		return
	}

	url := w.gatewayURL + "/api/nodes/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("build registration request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("registration failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		w.logger.Info("registered with gateway", zap.String("gateway", w.gatewayURL))
	} else {
		w.logger.Warn("registration rejected", zap.Int("status", resp.StatusCode))
	}
}

func (w *Worker) unregister(ctx context.Context) {
	url := fmt.Sprintf("%s/api/nodes/%s", w.gatewayURL, w.nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("unregister failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	w.logger.Info("unregistered from gateway")
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	body, err := json.Marshal(w.Metrics())
	if err != nil {
		return
	}

	url := fmt.Sprintf("%s/api/nodes/%s/heartbeat", w.gatewayURL, w.nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug("heartbeat failed", zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Gateway restarted and lost the registration.
		w.logger.Info("gateway lost registration, re-registering")
		w.register(ctx)
	}
}
