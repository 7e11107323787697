// Package noop provides an EventStore that discards every event.
// It is the default when no event backend is configured.
package noop

import (
	"context"

	"github.com/stackinspect/inspectd/internal/inspection"
)

// EventStore drops all submission events.
type EventStore struct{}

// New returns a no-op EventStore.
func New() *EventStore {
	return &EventStore{}
}

// RecordSubmission discards the event.
func (*EventStore) RecordSubmission(context.Context, inspection.Event) error {
	return nil
}

// Close is a no-op.
func (*EventStore) Close() {}
