// Package health provides HTTP liveness and readiness handlers.
//
// Three routes are served:
//
//   - /healthz: liveness; always 200.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//   - /api/health: the {ok, timestamp} body web clients poll.
//
// /healthz and /readyz answer with a top-level "status" ("ok" or "fail") and
// a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name is the key in the JSON response (e.g. "scripts", "stt").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is anything with a Ping method, such as a script store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a [Checker] that calls p.Ping.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ConfiguredChecker returns a [Checker] that fails with reason while ok is
// false. It reports static wiring facts such as a missing API key.
func ConfiguredChecker(name string, ok bool, reason string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ok {
			return errors.New(reason)
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type apiResult struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
}

// Handler serves the health routes. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New creates a [Handler]. Checkers run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, now: time.Now}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. Checkers run
// concurrently, each under a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// APIHealth answers {"ok": true, "timestamp": <RFC 3339 UTC>}.
func (h *Handler) APIHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, apiResult{
		OK:        true,
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	})
}

// Register adds the health routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/api/health", h.APIHealth)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
