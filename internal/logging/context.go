package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSourceKind names the receiver backend a record concerns.
	FieldSourceKind = "source_kind"
	// FieldBand names the library band being tuned.
	FieldBand = "band"
	// FieldRequestID is the standardized key for IPC request identifiers.
	FieldRequestID = "request_id"
	// FieldEventType classifies a record for filtering and the run journal.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	sourceKindKey contextKey = iota
	requestIDKey
)

// WithSourceKind records the active source kind on ctx.
func WithSourceKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, sourceKindKey, kind)
}

// WithRequestID records an IPC request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if kind, ok := ctx.Value(sourceKindKey).(string); ok && kind != "" {
		fields = append(fields, slog.String(FieldSourceKind, kind))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRequestID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
