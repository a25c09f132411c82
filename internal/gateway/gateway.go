// Package gateway implements the cluster front door: the public HTTP API,
// the rate-limit middleware, the node registry endpoints, synthesis
// forwarding to worker nodes and the WebSocket status feed.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/config"
	"github.com/voicegrid/voicegrid/internal/limiter"
	"github.com/voicegrid/voicegrid/internal/registry"
	"github.com/voicegrid/voicegrid/internal/telemetry"
	"github.com/voicegrid/voicegrid/internal/types"
	"github.com/voicegrid/voicegrid/internal/websocket"
)

// Gateway owns the control-plane components and the HTTP surface tying
// them together. Construct with New, then call Run.
type Gateway struct {
	cfg     config.Config
	version string

	registry      *registry.Registry
	limiter       *limiter.Limiter
	hub           *websocket.Hub
	broadcaster   *websocket.Broadcaster
	announcements *AnnouncementStore
	metrics       *telemetry.Metrics

	// client forwards synthesis traffic to workers. Per-request deadlines
	// come from the request context, not the client timeout.
	client *http.Client

	startTime time.Time
	logger    *zap.Logger
}

// New wires the gateway components together. The registry's lifecycle
// callbacks feed the WebSocket broadcaster so dashboards see node events
// as they happen.
func New(cfg config.Config, version string, logger *zap.Logger) *Gateway {
	log := logger.Named("gateway")

	reg := registry.New(cfg.Gateway.DeadNodeThreshold(), logger)
	hub := websocket.NewHub(logger)

	g := &Gateway{
		cfg:           cfg,
		version:       version,
		registry:      reg,
		limiter:       limiter.New(cfg.Limits.GlobalRPM, cfg.Limits.IPRPM, cfg.Limits.ConcurrentLimit, nil, logger),
		hub:           hub,
		announcements: NewAnnouncementStore(),
		metrics:       telemetry.New(),
		client:        &http.Client{},
		startTime:     time.Now(),
		logger:        log,
	}
	g.broadcaster = websocket.NewBroadcaster(hub, g.systemStatus, cfg.Gateway.BroadcastInterval(), logger)

	reg.OnNodeOnline(func(node types.Node) {
		g.broadcaster.NotifyNodeOnline(node)
		g.syncGauges()
	})
	reg.OnNodeOffline(func(node types.Node) {
		g.broadcaster.NotifyNodeOffline(node.NodeID)
		g.syncGauges()
	})
	reg.OnNodeStatusChange(func(node types.Node, from, to types.Status) {
		g.broadcaster.NotifyNodeStatusChanged(node.NodeID, from, to)
	})

	return g
}

// Registry exposes the node registry, mainly for in-process composition
// in standalone mode.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Run starts the background loops and serves HTTP until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	go g.hub.Run(ctx)
	go g.registry.RunSweeper(ctx, g.cfg.Gateway.SweepInterval())
	go g.broadcaster.Run(ctx)

	scheduler, err := g.startHousekeeping()
	if err != nil {
		return fmt.Errorf("start housekeeping: %w", err)
	}
	defer func() { _ = scheduler.Shutdown() }()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port),
		Handler: g.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.logger.Info("gateway shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// systemStatus builds the cluster snapshot served on /api/status and
// pushed over the WebSocket feed, with active announcements attached.
func (g *Gateway) systemStatus() types.SystemStatus {
	status := g.registry.SystemStatus()
	status.Announcements = g.announcements.Active()
	return status
}

// syncGauges refreshes the Prometheus gauges that track cluster state.
func (g *Gateway) syncGauges() {
	g.metrics.NodesOnline.Set(float64(g.registry.Stats().OnlineNodes))
	g.metrics.WSClients.Set(float64(g.hub.ConnectedCount()))
}

// defaultEngine resolves the engine for requests that do not name one.
func (g *Gateway) defaultEngine() types.Engine {
	if engine, err := types.ParseEngine(g.cfg.Gateway.DefaultEngine); err == nil {
		return engine
	}
	return types.EngineXTTS
}
