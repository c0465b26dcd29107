package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the workforce metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	BridgeEvents    metric.Int64Counter
	BroadcastErrors metric.Int64Counter
	TaskTerminal    metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	MemoryErrors    metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BridgeEvents, err = meter.Int64Counter("workforce.bridge.events",
		metric.WithDescription("Agent events handled by the event bridge"),
	)
	if err != nil {
		return nil, err
	}

	m.BroadcastErrors, err = meter.Int64Counter("workforce.bridge.broadcast.errors",
		metric.WithDescription("Broadcasts the notification sink rejected"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskTerminal, err = meter.Int64Counter("workforce.task.terminal",
		metric.WithDescription("Tasks reaching a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("workforce.task.duration",
		metric.WithDescription("Task wall-clock duration from creation to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MemoryErrors, err = meter.Int64Counter("workforce.memory.errors",
		metric.WithDescription("Failed episode or working-memory writes"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("workforce.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// BridgeEvent counts one handled agent event.
func (m *Metrics) BridgeEvent(ctx context.Context, stream, outcome string) {
	if m == nil {
		return
	}
	m.BridgeEvents.Add(ctx, 1, metric.WithAttributes(
		AttrStream.String(stream),
		AttrOutcome.String(outcome),
	))
}

// BroadcastError counts one failed broadcast.
func (m *Metrics) BroadcastError(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.BroadcastErrors.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic)))
}

// Terminal records a task reaching status after running for d.
func (m *Metrics) Terminal(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrStatus.String(status))
	m.TaskTerminal.Add(ctx, 1, attrs)
	if d > 0 {
		m.TaskDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// MemoryError counts one failed memory write.
func (m *Metrics) MemoryError(ctx context.Context, employeeID string) {
	if m == nil {
		return
	}
	m.MemoryErrors.Add(ctx, 1, metric.WithAttributes(AttrEmployeeID.String(employeeID)))
}

// Request records one gateway request.
func (m *Metrics) Request(ctx context.Context, method string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.Bool("error", failed),
	))
}
