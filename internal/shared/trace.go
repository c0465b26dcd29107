package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type taskIDKey struct{}
type employeeIDKey struct{}
type clientIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID extracts task_id from context. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithEmployeeID(ctx context.Context, employeeID string) context.Context {
	return context.WithValue(ctx, employeeIDKey{}, employeeID)
}

// EmployeeID extracts employee_id from context. Returns "" if absent.
func EmployeeID(ctx context.Context) string {
	if v, ok := ctx.Value(employeeIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientID tags the context with the gateway connection that issued
// the request.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey{}).(string); ok {
		return v
	}
	return ""
}

// LogAttrs returns the context's identifiers as slog key/value pairs,
// omitting empty ones. trace_id is always present.
func LogAttrs(ctx context.Context) []any {
	attrs := []any{"trace_id", TraceID(ctx)}
	if v := TaskID(ctx); v != "" {
		attrs = append(attrs, "task_id", v)
	}
	if v := EmployeeID(ctx); v != "" {
		attrs = append(attrs, "employee_id", v)
	}
	if v := ClientID(ctx); v != "" {
		attrs = append(attrs, "client_id", v)
	}
	return attrs
}
