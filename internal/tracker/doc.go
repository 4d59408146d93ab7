// Package tracker defines the tracked item model, fetch outcomes and the
// ports (repository, transport, notifier, clock, randomness) shared by the
// scheduler, fetch engine and management service.
package tracker
