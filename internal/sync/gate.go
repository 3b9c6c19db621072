package sync

import (
	"context"
	"sync"
)

// Waiter is the cooperative suspension contract the monitor and scanner check
// before every batch.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Gate is a cooperative pause/resume signal. Pause flips it immediately;
// Resume releases every current waiter at once. The gate is advisory: callers
// that never call Wait are not excluded, which is an accepted scope limit of
// the design. Exclusivity between pausers is the pausers' own business — the
// last Resume releases everyone.
type Gate struct {
	mu     sync.Mutex
	paused bool
	wake   chan struct{}
}

func NewGate() *Gate {
	return &Gate{}
}

// Pause sets the gate to paused. Non-blocking and idempotent.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		// A fresh wake channel per pause cycle; closed on resume.
		g.wake = make(chan struct{})
	}
}

// Resume sets the gate to running and releases all waiters.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.wake)
		g.wake = nil
	}
}

// Paused reports the current state.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns immediately when running, otherwise blocks until the next
// Resume or until ctx is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	wake := g.wake
	g.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
