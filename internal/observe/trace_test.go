package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// tracedContext returns a context carrying a live span recorded into the
// returned in-memory exporter.
func tracedContext(t *testing.T) (context.Context, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")
	t.Cleanup(func() { span.End() })
	return ctx, exp
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("CorrelationID = %q, want empty without a span", got)
	}
}

func TestCorrelationIDIsTraceID(t *testing.T) {
	t.Parallel()

	ctx, _ := tracedContext(t)
	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32 hex digits", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Fatalf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestStartSpanUsesGlobalProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "session.turn")
	if CorrelationID(ctx) == "" {
		t.Fatal("StartSpan must put a trace ID on the context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.turn" {
		t.Fatalf("recorded spans = %+v, want one named session.turn", spans)
	}
}

func TestLoggerCarriesTraceAttributes(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, _ := tracedContext(t)
	Logger(ctx).Info("turn complete", "session", "p1")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Fatalf("log line missing trace attributes: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("no span here")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("log line must not invent a trace ID: %s", buf.String())
	}
}
