package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented mounts h at pattern and wraps the mux in the middleware with
// private metric and trace pipelines. Tests using it must not run in
// parallel because the tracer provider is global.
func instrumented(t *testing.T, pattern string, h http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	return Middleware(m)(mux), reader, exp
}

func spanStatus(t *testing.T, exp *tracetest.InMemoryExporter) (name string, status int64) {
	t.Helper()
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	return spans[0].Name, status
}

func TestMiddleware_Status(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		path     string
		handler  http.HandlerFunc
		want     int
		wantSpan string
	}{
		{
			name:     "implicit ok",
			pattern:  "GET /scripts",
			path:     "/scripts",
			handler:  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("[]")) },
			want:     http.StatusOK,
			wantSpan: "GET /scripts",
		},
		{
			name:    "route with wildcard",
			pattern: "GET /scripts/{id}",
			path:    "/scripts/missing",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			want:     http.StatusNotFound,
			wantSpan: "GET /scripts/{id}",
		},
		{
			name:    "not ready",
			pattern: "GET /readyz",
			path:    "/readyz",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want:     http.StatusServiceUnavailable,
			wantSpan: "GET /readyz",
		},
		{
			name:     "no route",
			pattern:  "GET /scripts",
			path:     "/nowhere",
			handler:  func(http.ResponseWriter, *http.Request) {},
			want:     http.StatusNotFound,
			wantSpan: "GET unmatched",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, exp := instrumented(t, tc.pattern, tc.handler)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			if rec.Code != tc.want {
				t.Errorf("response status = %d, want %d", rec.Code, tc.want)
			}
			name, status := spanStatus(t, exp)
			if name != tc.wantSpan {
				t.Errorf("span name = %q, want %q", name, tc.wantSpan)
			}
			if status != int64(tc.want) {
				t.Errorf("span status = %d, want %d", status, tc.want)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32 char trace id", cid)
			}
		})
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	h, _, exp := instrumented(t, "GET /scripts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scripts", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %v, want Error", spans[0].Status.Code)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "0af7651916cd43dd8448eb211c80319c"

	var inside string
	h, _, _ := instrumented(t, "GET /scripts", func(w http.ResponseWriter, r *http.Request) {
		inside = CorrelationID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/scripts", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inside != traceID {
		t.Errorf("handler trace id = %q, want %q", inside, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", tp, traceID)
	}
}

func TestMiddleware_RecordsRouteAttributes(t *testing.T) {
	h, reader, _ := instrumented(t, "GET /scripts/{id}", func(http.ResponseWriter, *http.Request) {})

	for _, id := range []string{"greet", "cafe-order", "job-interview"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scripts/"+id, nil))
	}

	met := findMetric(collect(t, reader), "rolecall.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	if v, _ := dp.Attributes.Value("route"); v.AsString() != "/scripts/{id}" {
		t.Errorf("route attribute = %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != http.MethodGet {
		t.Errorf("method attribute = %q", v.AsString())
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	h, _, exp := instrumented(t, "GET /ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		c.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial through middleware: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("handshake status = %d", resp.StatusCode)
	}
	_, _, _ = c.Read(ctx)
	c.CloseNow()

	deadline := time.Now().Add(5 * time.Second)
	for len(exp.GetSpans()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, status := spanStatus(t, exp); status != http.StatusSwitchingProtocols {
		t.Errorf("span status = %d, want 101", status)
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	var err error
	h, _, _ := instrumented(t, "GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		_, _, err = w.(http.Hijacker).Hijack()
	})

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err == nil {
		t.Error("Hijack on a recorder returned nil error")
	}
}
