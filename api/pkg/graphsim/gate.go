package graphsim

import "context"

// concurrencyGate is a counting semaphore bounding in-flight fetches.
// A limit <= 0 means unbounded (Acquire never blocks).
type concurrencyGate struct {
	tokens  chan struct{}
	metrics *Metrics
}

func newConcurrencyGate(limit int) *concurrencyGate {
	if limit <= 0 {
		return &concurrencyGate{}
	}
	return &concurrencyGate{tokens: make(chan struct{}, limit)}
}

// withMetrics attaches a Metrics bundle the gate reports its in-flight
// gauge through. Returns g for chaining at construction time.
func (g *concurrencyGate) withMetrics(m *Metrics) *concurrencyGate {
	g.metrics = m
	return g
}

// acquire blocks until a permit is available or ctx is done.
func (g *concurrencyGate) acquire(ctx context.Context) error {
	if g.tokens == nil {
		g.metrics.inFlightInc()
		return nil
	}
	select {
	case g.tokens <- struct{}{}:
		g.metrics.inFlightInc()
		return nil
	case <-ctx.Done():
		return newError(KindCancelled, "", ctx.Err())
	}
}

// release returns a permit to the pool. Safe to call even on an
// unbounded gate.
func (g *concurrencyGate) release() {
	g.metrics.inFlightDec()
	if g.tokens == nil {
		return
	}
	<-g.tokens
}
