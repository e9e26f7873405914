package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	diagramIDKey ctxKey = iota
	requestIDKey
	transportKey
)

// WithDiagramID returns a context with the diagram ID set.
func WithDiagramID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, diagramIDKey, id)
}

// WithRequestID returns a context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTransport returns a context tagged with the surface that received the
// call: "api", "mcp" or "cli".
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// DiagramID extracts the diagram ID from the context, or "" if absent.
func DiagramID(ctx context.Context) string {
	v, _ := ctx.Value(diagramIDKey).(string)
	return v
}

// RequestID extracts the request ID from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Transport extracts the transport tag from the context, or "" if absent.
func Transport(ctx context.Context) string {
	v, _ := ctx.Value(transportKey).(string)
	return v
}

// WithIDs sets all correlation values on the context at once.
func WithIDs(ctx context.Context, diagramID, requestID, transport string) context.Context {
	ctx = WithDiagramID(ctx, diagramID)
	ctx = WithRequestID(ctx, requestID)
	ctx = WithTransport(ctx, transport)
	return ctx
}

// correlationAttrs returns the non-empty correlation values of ctx.
func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := DiagramID(ctx); v != "" {
		attrs = append(attrs, slog.String("diagram_id", v))
	}
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v := Transport(ctx); v != "" {
		attrs = append(attrs, slog.String("transport", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
