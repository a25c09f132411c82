// Package limiter implements the gateway's layered rate limiting: a
// global sliding window, per-IP windows, optional per-endpoint windows,
// and a concurrency gate for in-flight synthesis requests.
package limiter

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

// ipEvictionThreshold is the per-IP window count above which Cleanup wipes
// the whole map. Coarse, but bounded memory without per-entry bookkeeping.
const ipEvictionThreshold = 1000

// window is a sliding-window counter over a fixed duration.
type window struct {
	mu    sync.Mutex
	size  time.Duration
	limit int
	hits  []float64 // epoch seconds of admitted requests
}

func newWindow(size time.Duration, limit int) *window {
	return &window{size: size, limit: limit}
}

// allow admits the request if the window has capacity, recording it.
func (w *window) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := types.Now()
	w.prune(now)

	if len(w.hits) >= w.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// remaining returns how many requests the window can still admit.
func (w *window) remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(types.Now())
	if r := w.limit - len(w.hits); r > 0 {
		return r
	}
	return 0
}

// prune drops hits older than the window start. Caller holds the lock.
func (w *window) prune(now float64) {
	start := now - w.size.Seconds()
	i := 0
	for i < len(w.hits) && w.hits[i] < start {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Stats is the limiter summary embedded in the gateway health payload.
type Stats struct {
	TotalRequests     int64   `json:"total_requests"`
	RejectedRequests  int64   `json:"rejected_requests"`
	RejectionRate     float64 `json:"rejection_rate"`
	CurrentConcurrent int     `json:"current_concurrent"`
	ConcurrentLimit   int     `json:"concurrent_limit"`
	GlobalRPM         int     `json:"global_rpm"`
	IPRPM             int     `json:"ip_rpm"`
}

// Remaining reports a client's remaining quota across layers.
type Remaining struct {
	GlobalRemaining     int `json:"global_remaining"`
	IPRemaining         int `json:"ip_remaining"`
	ConcurrentAvailable int `json:"concurrent_available"`
}

// Limiter is the multi-layer rate limiter. Safe for concurrent use.
type Limiter struct {
	globalRPM       int
	ipRPM           int
	endpointRPM     map[string]int
	concurrentLimit int

	global *window

	mu        sync.Mutex
	ips       map[string]*window
	endpoints map[string]*window

	concurrent int

	totalRequests    int64
	rejectedRequests int64

	logger *zap.Logger
}

// New creates a Limiter. endpointRPM maps endpoint paths to their own
// per-minute limits; endpoints not listed are only subject to the global
// and per-IP layers.
func New(globalRPM, ipRPM, concurrentLimit int, endpointRPM map[string]int, logger *zap.Logger) *Limiter {
	return &Limiter{
		globalRPM:       globalRPM,
		ipRPM:           ipRPM,
		endpointRPM:     endpointRPM,
		concurrentLimit: concurrentLimit,
		global:          newWindow(time.Minute, globalRPM),
		ips:             make(map[string]*window),
		endpoints:       make(map[string]*window),
		logger:          logger.Named("limiter"),
	}
}

// Check admits or rejects a request through the window layers in order:
// global, per-IP, per-endpoint. Layers are checked sequentially, so an
// admitted request consumes quota in every layer it passed.
func (l *Limiter) Check(clientIP, endpoint string) error {
	l.mu.Lock()
	l.totalRequests++
	l.mu.Unlock()

	if !l.global.allow() {
		l.reject()
		l.logger.Warn("global rate limit exceeded")
		return types.RateLimited("global rate limit exceeded")
	}

	if !l.ipWindow(clientIP).allow() {
		l.reject()
		l.logger.Warn("ip rate limit exceeded", zap.String("client_ip", clientIP))
		return types.RateLimited(fmt.Sprintf("rate limit exceeded for IP: %s", clientIP))
	}

	if rpm, ok := l.endpointRPM[endpoint]; ok && endpoint != "" {
		if !l.endpointWindow(endpoint, rpm).allow() {
			l.reject()
			l.logger.Warn("endpoint rate limit exceeded", zap.String("endpoint", endpoint))
			return types.RateLimited(fmt.Sprintf("rate limit exceeded for endpoint: %s", endpoint))
		}
	}

	return nil
}

// AcquireConcurrent claims an in-flight slot, failing when the gate is
// saturated. Callers must pair a successful acquire with ReleaseConcurrent.
func (l *Limiter) AcquireConcurrent() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.concurrent >= l.concurrentLimit {
		l.rejectedRequests++
		return types.RateLimited(fmt.Sprintf("concurrent limit exceeded: %d", l.concurrentLimit))
	}
	l.concurrent++
	return nil
}

// ReleaseConcurrent returns an in-flight slot. Never goes below zero.
func (l *Limiter) ReleaseConcurrent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.concurrent > 0 {
		l.concurrent--
	}
}

// Stats returns the limiter summary for health reporting.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rate float64
	if l.totalRequests > 0 {
		rate = float64(l.rejectedRequests) / float64(l.totalRequests)
	}
	return Stats{
		TotalRequests:     l.totalRequests,
		RejectedRequests:  l.rejectedRequests,
		RejectionRate:     rate,
		CurrentConcurrent: l.concurrent,
		ConcurrentLimit:   l.concurrentLimit,
		GlobalRPM:         l.globalRPM,
		IPRPM:             l.ipRPM,
	}
}

// Remaining reports the quota a client has left. IPs that have not been
// seen yet report the full per-IP budget.
func (l *Limiter) Remaining(clientIP string) Remaining {
	l.mu.Lock()
	w := l.ips[clientIP]
	avail := l.concurrentLimit - l.concurrent
	l.mu.Unlock()

	rem := Remaining{
		GlobalRemaining: l.global.remaining(),
		IPRemaining:     l.ipRPM,
	}
	if w != nil {
		rem.IPRemaining = w.remaining()
	}
	if avail > 0 {
		rem.ConcurrentAvailable = avail
	}
	return rem
}

// Cleanup bounds per-IP window memory. Once the map exceeds the eviction
// threshold it is wiped wholesale; active clients simply start fresh
// windows. Intended to run from a periodic housekeeping job.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ips) > ipEvictionThreshold {
		l.logger.Info("evicting ip rate limiters", zap.Int("count", len(l.ips)))
		l.ips = make(map[string]*window)
	}
}

func (l *Limiter) reject() {
	l.mu.Lock()
	l.rejectedRequests++
	l.mu.Unlock()
}

func (l *Limiter) ipWindow(ip string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.ips[ip]
	if !ok {
		w = newWindow(time.Minute, l.ipRPM)
		l.ips[ip] = w
	}
	return w
}

func (l *Limiter) endpointWindow(endpoint string, rpm int) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.endpoints[endpoint]
	if !ok {
		w = newWindow(time.Minute, rpm)
		l.endpoints[endpoint] = w
	}
	return w
}
