// Package notify publishes fire-and-forget sync lifecycle events for UI and
// badge-count consumers. Publishing never blocks the sync core and never
// surfaces consumer failures to it.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventSyncStarted    EventKind = "sync_started"
	EventSyncStopped    EventKind = "sync_stopped"
	EventBatchProcessed EventKind = "batch_processed"
)

// Event is one published lifecycle notification.
type Event struct {
	Kind EventKind
	At   time.Time

	// Outcome is set on sync_stopped events.
	Outcome string

	// Success, Failure and Skipped are set on batch_processed events.
	Success int64
	Failure int64
	Skipped int64
}

// Channel is one event consumer. Implementations must be safe for
// concurrent use and respect context cancellation.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string

	// Notify delivers one event. Errors are logged by the service, never
	// propagated to the publisher.
	Notify(ctx context.Context, event Event) error
}

// LogChannel writes events to the structured log. It is the default
// consumer when no UI is attached.
type LogChannel struct {
	Logger *slog.Logger
}

// Name implements Channel.
func (c *LogChannel) Name() string { return "log" }

// Notify implements Channel.
func (c *LogChannel) Notify(_ context.Context, event Event) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sync event",
		slog.String("kind", string(event.Kind)),
		slog.Time("at", event.At),
		slog.String("outcome", event.Outcome),
		slog.Int64("success", event.Success),
		slog.Int64("failure", event.Failure),
		slog.Int64("skipped", event.Skipped))
	return nil
}
