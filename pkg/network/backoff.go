package network

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitter       = 0.2
)

// Backoff produces exponentially growing delays between reconnect attempts.
// Each failure doubles the delay up to Max, every delay is spread by
// ±Jitter of itself, and Success resets it back to Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64

	mu      sync.Mutex
	current time.Duration
	attempt int
	rnd     func() float64
}

func NewBackoff(initial, max time.Duration, jitter float64) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < initial {
		max = initial
	}
	if jitter < 0 || jitter >= 1 {
		jitter = DefaultJitter
	}
	return &Backoff{Initial: initial, Max: max, Factor: 2, Jitter: jitter, current: initial, rnd: rand.Float64}
}

// Next returns the delay to wait before the next attempt and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	b.attempt++
	next := time.Duration(float64(b.current) * b.Factor)
	if next > b.Max || next <= 0 {
		next = b.Max
	}
	b.current = next

	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*b.rnd())
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Success resets the backoff after a successful attempt.
func (b *Backoff) Success() {
	b.mu.Lock()
	b.current = b.Initial
	b.attempt = 0
	b.mu.Unlock()
}

// Wait sleeps for the next delay or until done is closed.
// It returns false when interrupted.
func (b *Backoff) Wait(done <-chan struct{}) bool {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
