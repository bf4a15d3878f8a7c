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

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// and installs it as the global provider for the duration of the test.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })
	return tp, exp
}

// captureLogs routes the default slog logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	_, exp := newTestTracerProvider(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "roleplay.session")
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if want := spans[0].SpanContext.TraceID().String(); cid != want {
		t.Errorf("CorrelationID = %q, want %q", cid, want)
	}
}

func TestStartTurnSpan_Attributes(t *testing.T) {
	_, exp := newTestTracerProvider(t)

	_, span := StartTurnSpan(context.Background(), "roleplay.listen", "sess-1", 3, "B")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "roleplay.listen" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	want := map[string]string{
		"rolecall.session_id": "sess-1",
		"rolecall.turn":       "3",
		"rolecall.speaker":    "B",
	}
	got := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	traced, span := tp.Tracer("test").Start(context.Background(), "record")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		wantIDs bool
	}{
		{name: "inside span", ctx: traced, wantIDs: true},
		{name: "no span", ctx: context.Background(), wantIDs: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx).Info("attempt stored", "turn", 2)

			out := buf.String()
			for _, key := range []string{"trace_id=", "span_id="} {
				if strings.Contains(out, key) != tc.wantIDs {
					t.Errorf("%s present = %v, want %v in %q", key, !tc.wantIDs, tc.wantIDs, out)
				}
			}
			if !strings.Contains(out, "turn=2") {
				t.Errorf("log output lost attributes: %q", out)
			}
		})
	}
}
