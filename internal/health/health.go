// Package health serves the liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Check] passes, and 503
//     otherwise. The body lists each check with its detail, for example
//     {"status":"ok","checks":{"scripts":"2 loaded","sessions":"1 open"}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds a single probe.
const probeTimeout = 5 * time.Second

// Check is one named readiness probe. Probe returns a short detail on
// success, or an error describing why the dependency is not usable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) (string, error)
}

// Counter reports how many items a dependency currently holds.
type Counter interface {
	Len() int
}

// CounterFunc adapts a function to [Counter].
type CounterFunc func() int

// Len implements [Counter].
func (f CounterFunc) Len() int { return f() }

var errEmpty = errors.New("nothing loaded")

// NonEmpty fails while c is empty. The server cannot start a role-play
// until at least one script is loaded.
func NonEmpty(name string, c Counter) Check {
	return Check{
		Name: name,
		Probe: func(context.Context) (string, error) {
			n := c.Len()
			if n == 0 {
				return "", errEmpty
			}
			return fmt.Sprintf("%d loaded", n), nil
		},
	}
}

// Gauge always passes and reports the current count, e.g. open sessions.
func Gauge(name string, c Counter) Check {
	return Check{
		Name: name,
		Probe: func(context.Context) (string, error) {
			return fmt.Sprintf("%d open", c.Len()), nil
		},
	}
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The check list is fixed at
// construction.
type Handler struct {
	checks []Check
}

// New returns a Handler evaluating checks in order on every /readyz request.
func New(checks ...Check) *Handler {
	return &Handler{checks: append([]Check(nil), checks...)}
}

// Evaluate runs every check and reports whether all of them passed.
func (h *Handler) Evaluate(ctx context.Context) (Report, bool) {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	ok := true
	for _, c := range h.checks {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		detail, err := c.Probe(pctx)
		cancel()

		switch {
		case err != nil:
			rep.Checks[c.Name] = "fail: " + err.Error()
			ok = false
		case detail == "":
			rep.Checks[c.Name] = "ok"
		default:
			rep.Checks[c.Name] = detail
		}
	}
	if !ok {
		rep.Status = "fail"
	}
	return rep, ok
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Evaluate(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
