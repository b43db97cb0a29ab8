package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/metrics"
)

// Probe and metrics endpoints are never limited
var exemptPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Middleware applies per-client rate limiting to an HTTP handler
type Middleware struct {
	limiter *Limiter
	logger  *logrus.Logger
	enabled bool
}

// NewMiddleware creates a rate limiting middleware from configuration
func NewMiddleware(logger *logrus.Logger, cfg *config.RateLimitConfig) *Middleware {
	m := &Middleware{
		logger:  logger,
		enabled: cfg.Enabled,
	}
	if cfg.Enabled {
		m.limiter = NewLimiter(logger, cfg)
		logger.WithFields(logrus.Fields{
			"rps":   cfg.RequestsPerSecond,
			"burst": cfg.Burst,
		}).Info("HTTP rate limiting enabled")
	}
	return m
}

// Wrap returns the handler guarded by the limiter. When limiting is
// disabled the handler is returned unchanged.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		if !m.limiter.Allow(key) {
			metrics.RecordRateLimited()
			m.logger.WithFields(logrus.Fields{
				"client": key,
				"path":   r.URL.Path,
			}).Debug("Request rate limited")

			if retry := m.limiter.RetryAfter(key); retry > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())+1))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close releases limiter resources
func (m *Middleware) Close() {
	if m.limiter != nil {
		m.limiter.Close()
	}
}

// clientKey identifies the caller, preferring the first forwarded address
// when the server sits behind a proxy.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
