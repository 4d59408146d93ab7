// Package system provides the wall-clock implementations of the tracker
// Clock, Sleeper and Rand ports.
package system

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Clock implements tracker.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleeper implements tracker.Sleeper with a stoppable timer.
type Sleeper struct{}

// Sleep blocks for d or until ctx is done. It returns the context error when
// the wait was cut short.
func (Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep interrupted: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Rand is a goroutine-safe tracker.Rand backed by math/rand.
type Rand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand seeds a Rand. A zero seed uses the current time.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rand{rnd: rand.New(rand.NewSource(seed))} //nolint:gosec // scheduling jitter only
}

// Int63n returns a value in [0, n).
func (r *Rand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Int63n(n)
}

// Shuffle randomizes the order of n elements.
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(n, swap)
}
