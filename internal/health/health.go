// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness check; always returns 200 OK.
//   - /readyz: readiness check; returns 200 only when all registered
//     [Checker] functions pass.
//   - /sessionsz: the playback sessions of every guild, when a
//     [SessionLister] was set.
//
// Check responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "discord",
	// "prefs"). It appears as a key in the JSON response.
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Session is the JSON view of one guild's playback session.
type Session struct {
	GuildID  string `json:"guild_id"`
	State    string `json:"state"`
	Track    string `json:"track,omitempty"`
	Position string `json:"position,omitempty"`
	Queue    int    `json:"queue"`
	Loop     string `json:"loop"`
	Volume   int    `json:"volume"`
	Link     string `json:"link"`
	Fault    string `json:"fault,omitempty"`
}

// SessionLister reports the live sessions.
type SessionLister func(ctx context.Context) []Session

type sessionsResult struct {
	Count    int       `json:"count"`
	Sessions []Session `json:"sessions"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list and session lister are fixed before [Handler.Register].
type Handler struct {
	checkers []Checker
	sessions SessionLister
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness check that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness check that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// WithSessions sets the source of /sessionsz and returns h.
func (h *Handler) WithSessions(fn SessionLister) *Handler {
	h.sessions = fn
	return h
}

// Sessions lists the live playback sessions sorted by guild.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		http.NotFound(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	list := h.sessions(ctx)
	if list == nil {
		list = []Session{}
	}
	slices.SortFunc(list, func(a, b Session) int { return cmp.Compare(a.GuildID, b.GuildID) })
	writeJSON(w, http.StatusOK, sessionsResult{Count: len(list), Sessions: list})
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /sessionsz", h.Sessions)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
