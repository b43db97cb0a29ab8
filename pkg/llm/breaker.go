package llm

import (
	"context"

	"voxpipe-server/pkg/circuitbreaker"
)

// GuardedCompleter wraps a Completer with a circuit breaker. When the
// upstream is failing repeatedly, calls are rejected without waiting on the
// network so the analyzer degrades and the generator falls back immediately.
type GuardedCompleter struct {
	inner   Completer
	breaker *circuitbreaker.Breaker
}

// NewGuardedCompleter wraps the completer with the given breaker
func NewGuardedCompleter(inner Completer, breaker *circuitbreaker.Breaker) *GuardedCompleter {
	return &GuardedCompleter{inner: inner, breaker: breaker}
}

// Complete delegates to the wrapped completer when the breaker admits the call
func (g *GuardedCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	if !g.breaker.Allow() {
		return "", circuitbreaker.ErrOpen
	}

	reply, err := g.inner.Complete(ctx, messages)
	if err != nil {
		// Caller cancellation says nothing about upstream health
		if ctx.Err() == nil {
			g.breaker.RecordFailure()
		}
		return "", err
	}

	g.breaker.RecordSuccess()
	return reply, nil
}
