package lock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a one-shot latch. Waiters block until the gate is opened
// or their timeout elapses, after that every wait returns immediately.
type Gate struct {
	ch   chan struct{}
	once sync.Once
	open atomic.Bool
}

// NewGate returns a closed gate.
func NewGate() *Gate { return &Gate{ch: make(chan struct{})} }

// Open releases all current and future waiters. Safe to call many times.
func (g *Gate) Open() {
	g.once.Do(func() {
		g.open.Store(true)
		close(g.ch)
	})
}

// IsOpen reports whether Open was called.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// Wait blocks until the gate is opened.
func (g *Gate) Wait() { <-g.ch }

// WaitFor blocks at most for the given period of time.
// It returns true if the gate was opened in time.
func (g *Gate) WaitFor(d time.Duration) bool {
	if g.IsOpen() {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-g.ch:
		return true
	case <-t.C:
		return false
	}
}

// Done exposes the gate as a channel for select statements.
func (g *Gate) Done() <-chan struct{} { return g.ch }
