package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/config"
)

// Limiter is a token bucket rate limiter keyed by client identity. A client
// that exhausts its bucket is blocked for a fixed penalty window so repeated
// upload attempts do not immediately refill and retry.
type Limiter struct {
	logger *logrus.Logger
	rate   float64
	burst  float64
	block  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stopChan chan struct{}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
	blockUntil time.Time
}

const bucketTTL = 10 * time.Minute

// NewLimiter creates a limiter from configuration and starts its janitor
func NewLimiter(logger *logrus.Logger, cfg *config.RateLimitConfig) *Limiter {
	l := &Limiter{
		logger:   logger,
		rate:     cfg.RequestsPerSecond,
		burst:    float64(cfg.Burst),
		block:    cfg.BlockDuration,
		buckets:  make(map[string]*bucket),
		stopChan: make(chan struct{}),
	}
	if l.burst < 1 {
		l.burst = 1
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from the given key may proceed
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastUpdate: now}
		l.buckets[key] = b
	}

	if now.Before(b.blockUntil) {
		return false
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	if l.block > 0 {
		b.blockUntil = now.Add(l.block)
		l.logger.WithFields(logrus.Fields{
			"client":         key,
			"block_duration": l.block,
		}).Warn("Client exceeded rate limit, blocking")
	}
	return false
}

// RetryAfter returns the remaining penalty for a blocked key, zero otherwise
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	remaining := time.Until(b.blockUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close stops the background janitor
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-bucketTTL)
			for key, b := range l.buckets {
				if b.lastUpdate.Before(cutoff) && time.Now().After(b.blockUntil) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
