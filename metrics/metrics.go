// Package metrics holds the OpenTelemetry instruments recorded by the worker client.
// Instruments come from the global meter provider, so they are no-ops until the embedding
// application installs one.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskrouter-client"

// Metrics holds all client metric instruments.
type Metrics struct {
	Connects        metric.Int64Counter
	Disconnects     metric.Int64Counter
	Frames          metric.Int64Counter
	MalformedFrames metric.Int64Counter
	Commands        metric.Int64Counter
	CommandFailures metric.Int64Counter
	CommandLatency  metric.Float64Histogram
}

// New creates all metric instruments.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates the instruments on an explicit meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Connects, err = meter.Int64Counter("taskrouter.signaling.connects",
		metric.WithDescription("Push connections opened"))
	if err != nil {
		return nil, err
	}

	m.Disconnects, err = meter.Int64Counter("taskrouter.signaling.disconnects",
		metric.WithDescription("Push connections closed, including watchdog closes"))
	if err != nil {
		return nil, err
	}

	m.Frames, err = meter.Int64Counter("taskrouter.signaling.frames",
		metric.WithDescription("Inbound frames, keep-alives included"))
	if err != nil {
		return nil, err
	}

	m.MalformedFrames, err = meter.Int64Counter("taskrouter.signaling.malformed_frames",
		metric.WithDescription("Inbound frames that were not a valid envelope"))
	if err != nil {
		return nil, err
	}

	m.Commands, err = meter.Int64Counter("taskrouter.commands",
		metric.WithDescription("Command calls issued"))
	if err != nil {
		return nil, err
	}

	m.CommandFailures, err = meter.Int64Counter("taskrouter.commands.failed",
		metric.WithDescription("Command calls that returned an error"))
	if err != nil {
		return nil, err
	}

	m.CommandLatency, err = meter.Float64Histogram("taskrouter.commands.duration_seconds",
		metric.WithDescription("Command round-trip time in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Default returns instruments on the global meter, or nil when they cannot be created.
// All recording helpers accept a nil receiver.
func Default() *Metrics {
	m, err := New()
	if err != nil {
		return nil
	}
	return m
}

// Connected records an opened push connection.
func (m *Metrics) Connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connects.Add(ctx, 1)
}

// Disconnected records a closed push connection.
func (m *Metrics) Disconnected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Disconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Frame records an inbound frame.
func (m *Metrics) Frame(ctx context.Context, keepAlive bool) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("keep_alive", keepAlive)))
}

// Malformed records a frame that failed to parse.
func (m *Metrics) Malformed(ctx context.Context) {
	if m == nil {
		return
	}
	m.MalformedFrames.Add(ctx, 1)
}

// Command records one command round trip.
func (m *Metrics) Command(ctx context.Context, method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", method))
	m.Commands.Add(ctx, 1, attrs)
	m.CommandLatency.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.CommandFailures.Add(ctx, 1, attrs)
	}
}
