package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", DiagramID(ctx))
	assert.Equal(t, "", RequestID(ctx))
	assert.Equal(t, "", Transport(ctx))

	ctx = WithDiagramID(ctx, "dg-123")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTransport(ctx, "api")

	// Round-trip.
	assert.Equal(t, "dg-123", DiagramID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "api", Transport(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "dg-abc", "req-x", "mcp")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "diagram_id=dg-abc")
	assert.Contains(t, output, "request_id=req-x")
	assert.Contains(t, output, "transport=mcp")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only the diagram ID is set.
	ctx := WithDiagramID(context.Background(), "dg-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "diagram_id=dg-only")
	assert.NotContains(t, output, "request_id")
	assert.NotContains(t, output, "transport")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "diagram_id")
	assert.NotContains(t, output, "request_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "dg-auto", "req-auto", "cli")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"diagram_id":"dg-auto"`)
	assert.Contains(t, output, `"request_id":"req-auto"`)
	assert.Contains(t, output, `"transport":"cli"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "diagram_id")
	assert.NotContains(t, output, "request_id")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "synth")}))

	ctx := WithDiagramID(context.Background(), "dg-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"diagram_id":"dg-attr"`)
	assert.Contains(t, output, `"component":"synth"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("store"))

	ctx := WithDiagramID(context.Background(), "dg-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "dg-grp")
	assert.Contains(t, output, "grouped")
}
