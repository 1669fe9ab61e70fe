// Package admission implements the two gates every run passes before an
// execution record exists: the global drain gate and the per-user fairness
// gate. The gates are the only cross-connection shared mutable state in the
// orchestration layer.
package admission

import (
	"context"
	"sync"
	"time"
)

// DrainGate tracks in-flight executions and rejects new ones once a graceful
// shutdown has begun. Acquire/Release must pair exactly once on every exit
// path; callers defer the release immediately after a successful acquire.
type DrainGate struct {
	mu       sync.Mutex
	inFlight int
	draining bool
	idle     chan struct{}
}

// NewDrainGate creates a drain gate.
func NewDrainGate() *DrainGate {
	return &DrainGate{idle: make(chan struct{})}
}

// Acquire reserves one in-flight slot. It returns false once draining.
func (g *DrainGate) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.inFlight++
	return true
}

// Release frees one in-flight slot.
func (g *DrainGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	if g.draining && g.inFlight == 0 {
		select {
		case <-g.idle:
		default:
			close(g.idle)
		}
	}
}

// BeginDrain stops admitting new executions. In-flight runs may finish.
func (g *DrainGate) BeginDrain() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return
	}
	g.draining = true
	if g.inFlight == 0 {
		close(g.idle)
	}
}

// Draining reports whether drain has begun.
func (g *DrainGate) Draining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// InFlight returns the current in-flight count.
func (g *DrainGate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Wait blocks until all in-flight executions finish after BeginDrain, or
// until ctx expires. Calling Wait before BeginDrain waits forever (bounded by
// ctx), since idle is only reachable while draining.
func (g *DrainGate) Wait(ctx context.Context) error {
	select {
	case <-g.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is a convenience wrapper around Wait.
func (g *DrainGate) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.Wait(ctx)
}
