package otel

import (
	"context"
	"testing"
	"time"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.BridgeEvents == nil || m.BroadcastErrors == nil || m.TaskTerminal == nil ||
		m.TaskDuration == nil || m.MemoryErrors == nil || m.RequestDuration == nil {
		t.Fatalf("missing instrument: %+v", m)
	}

	ctx := context.Background()
	m.BridgeEvent(ctx, "tool", "applied")
	m.BroadcastError(ctx, "task.progress")
	m.Terminal(ctx, "completed", 3*time.Second)
	m.MemoryError(ctx, "e1")
	m.Request(ctx, "task.get", time.Millisecond, false)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.BridgeEvent(ctx, "tool", "ignored")
	m.BroadcastError(ctx, "task.progress")
	m.Terminal(ctx, "failed", time.Second)
	m.MemoryError(ctx, "e1")
	m.Request(ctx, "task.get", time.Millisecond, true)
}

func TestNoopMetrics(t *testing.T) {
	if NoopMetrics() == nil {
		t.Fatal("expected non-nil noop metrics")
	}
}

func TestInit_MetricsDisabled(t *testing.T) {
	off := false
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", MetricsEnabled: &off})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())
	if _, err := NewMetrics(p.Meter); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
}
