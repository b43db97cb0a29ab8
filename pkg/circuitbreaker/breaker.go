package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/errors"
	"voxpipe-server/pkg/metrics"
)

// ErrOpen is returned when the breaker rejects a call without attempting it
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker guards an unreliable upstream. After failureThreshold consecutive
// failures it opens and rejects calls immediately until resetTimeout passes,
// then lets a single probe through before deciding to close or re-open.
type Breaker struct {
	name             string
	logger           *logrus.Logger
	failureThreshold int
	resetTimeout     time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. Threshold and timeout fall back to
// conservative defaults when non-positive.
func New(logger *logrus.Logger, name string, failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		logger:           logger,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// Allow reports whether a call may proceed. In the open state it admits a
// single probe once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	}
	return true
}

// RecordSuccess resets the breaker after a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts a failed call and opens the breaker at the threshold
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == StateHalfOpen {
		b.openedAt = time.Now()
		b.transition(StateOpen)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// caller holds b.mu
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	metrics.SetUpstreamBreakerOpen(to == StateOpen)
	b.logger.WithFields(logrus.Fields{
		"breaker": b.name,
		"from":    from.String(),
		"to":      to.String(),
	}).Info("Circuit breaker state change")
}
