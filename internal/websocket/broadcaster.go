package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

// Broadcaster pushes periodic cluster snapshots and node lifecycle events
// to all connected clients. The notify methods are wired to the registry's
// event callbacks during gateway setup.
type Broadcaster struct {
	hub      *Hub
	status   StatusFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewBroadcaster creates a Broadcaster pushing snapshots every interval.
func NewBroadcaster(hub *Hub, status StatusFunc, interval time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		hub:      hub,
		status:   status,
		interval: interval,
		logger:   logger.Named("broadcaster"),
	}
}

// Run broadcasts the system status on a fixed interval until ctx is
// cancelled. Snapshot work is skipped while no client is connected.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("status broadcaster started", zap.Duration("interval", b.interval))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("status broadcaster stopped")
			return
		case <-ticker.C:
			if b.hub.ConnectedCount() == 0 {
				continue
			}
			b.hub.Broadcast(NewEvent(EventSystemStatus, b.status()))
		}
	}
}

// NotifyNodeOnline broadcasts a node coming online.
func (b *Broadcaster) NotifyNodeOnline(node types.Node) {
	b.hub.Broadcast(NewEvent(EventNodeOnline, node))
}

// NotifyNodeOffline broadcasts a node going offline.
func (b *Broadcaster) NotifyNodeOffline(nodeID string) {
	b.hub.Broadcast(NewEvent(EventNodeOffline, map[string]string{"node_id": nodeID}))
}

// NotifyNodeStatusChanged broadcasts a node status transition.
func (b *Broadcaster) NotifyNodeStatusChanged(nodeID string, from, to types.Status) {
	b.hub.Broadcast(NewEvent(EventNodeStatusChanged, map[string]string{
		"node_id":    nodeID,
		"old_status": string(from),
		"new_status": string(to),
	}))
}

// NotifyAnnouncement broadcasts a newly published announcement.
func (b *Broadcaster) NotifyAnnouncement(a types.Announcement) {
	b.hub.Broadcast(NewEvent(EventAnnouncement, a))
}
