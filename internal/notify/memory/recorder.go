// Package memory contains an in-memory notifier for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Recorder stores delivered alerts for inspection.
type Recorder struct {
	mu     sync.RWMutex
	alerts []tracker.Alert
	err    error
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Notify calls return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Notify records the alert.
func (r *Recorder) Notify(_ context.Context, alert tracker.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

// Alerts returns the recorded alerts.
func (r *Recorder) Alerts() []tracker.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracker.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
