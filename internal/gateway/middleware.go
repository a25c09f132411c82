package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// limiterBypassPaths are served without consuming rate-limit quota:
// health probes, dashboards, static assets and the WebSocket feed.
var limiterBypassPaths = []string{
	"/health",
	"/api/health",
	"/status",
	"/admin",
	"/playground",
	"/static",
	"/metrics",
	"/ws",
}

func bypassesLimiter(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range limiterBypassPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// rateLimit enforces the window layers and the concurrency gate on every
// API request. Rejections are flat 429 bodies so clients can back off on
// the code without parsing the message.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypassesLimiter(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientAddr(r)
		if err := g.limiter.Check(clientIP, r.URL.Path); err != nil {
			g.metrics.RateLimitedTotal.Inc()
			writeError(w, http.StatusTooManyRequests, err.Error(), "RATE_LIMIT_EXCEEDED")
			return
		}
		if err := g.limiter.AcquireConcurrent(); err != nil {
			g.metrics.RateLimitedTotal.Inc()
			writeError(w, http.StatusTooManyRequests, err.Error(), "RATE_LIMIT_EXCEEDED")
			return
		}
		defer g.limiter.ReleaseConcurrent()

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request with method, path, status and latency.
// Chi's middleware.RequestID runs before this so the id is in context.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// instrument records per-endpoint request counts and latency. The chi
// route pattern is used as the endpoint label so path parameters do not
// blow up cardinality.
func (g *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		g.metrics.RequestsTotal.WithLabelValues(endpoint, statusClass(ww.Status())).Inc()
		g.metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// clientAddr extracts the client IP, relying on chi's RealIP middleware
// having already rewritten RemoteAddr behind proxies.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
