package graphsim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyGate_BoundsInFlight(t *testing.T) {
	gate := newConcurrencyGate(2)
	var current, max int32

	run := func() {
		gate.acquire(context.Background())
		defer gate.release()
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&max)
			if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			run()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if max > 2 {
		t.Fatalf("expected at most 2 concurrent holders, observed %d", max)
	}
}

func TestConcurrencyGate_UnboundedNeverBlocks(t *testing.T) {
	gate := newConcurrencyGate(0)
	for i := 0; i < 100; i++ {
		if err := gate.acquire(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestConcurrencyGate_CancelledContext(t *testing.T) {
	gate := newConcurrencyGate(1)
	gate.acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gate.acquire(ctx)
	if err == nil {
		t.Fatal("expected acquire to fail on a cancelled context while the gate is full")
	}
}
