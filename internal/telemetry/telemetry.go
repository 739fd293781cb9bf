// Package telemetry emits fire-and-forget counter events to an
// analytics sink. Sink failures never propagate into engine control
// flow; when no API key is configured every call is a no-op.
package telemetry

import (
	"os"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/carebridge/syncengine/internal/logging"
)

// Counter event names emitted by the engine.
const (
	EventActionAdded     = "queue.action_added"
	EventActionProcessed = "queue.action_processed"
	EventActionFailed    = "queue.action_failed"
	EventSyncStart       = "sync.start"
	EventSyncSuccess     = "sync.success"
	EventSyncError       = "sync.error"
)

// Sink receives named counter events with structured properties.
type Sink interface {
	Count(name string, properties map[string]interface{})
	Close() error
}

// Noop discards all events.
type Noop struct{}

// Count does nothing.
func (Noop) Count(name string, properties map[string]interface{}) {}

// Close does nothing.
func (Noop) Close() error { return nil }

// PostHogAPIKey is set at build time via ldflags.
var PostHogAPIKey string

// Enabled reports whether events will actually be transmitted.
// Telemetry is opt-out: enabled when an API key was compiled in, unless
// CAREBRIDGE_TELEMETRY_ENABLED=false.
func Enabled() bool {
	return os.Getenv("CAREBRIDGE_TELEMETRY_ENABLED") != "false" && PostHogAPIKey != ""
}

// New returns a PostHog-backed sink when telemetry is enabled, and a
// Noop sink otherwise. distinctID groups events per device.
func New(distinctID string) Sink {
	if !Enabled() {
		return Noop{}
	}

	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:  "https://us.i.posthog.com",
		BatchSize: 100,
		Interval:  5 * time.Second,
	})
	if err != nil {
		logging.Warn("telemetry disabled: client init failed",
			map[string]interface{}{"error": err.Error()})
		return Noop{}
	}

	return &postHogSink{client: client, distinctID: distinctID}
}

// postHogSink wraps the PostHog SDK.
type postHogSink struct {
	client     posthog.Client
	distinctID string
}

// Count enqueues a capture event. Errors and panics from the SDK are
// contained here; the engine never observes them.
func (s *postHogSink) Count(name string, properties map[string]interface{}) {
	defer func() {
		_ = recover()
	}()

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	props.Set("timestamp", time.Now().Unix())

	_ = s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      name,
		Properties: props,
	})
}

// Close flushes buffered events.
func (s *postHogSink) Close() error {
	return s.client.Close()
}
