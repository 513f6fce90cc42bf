package observe

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Route labels of the Hertz HTTP surface. Anything else is reported as
// RouteOther so metric cardinality stays bounded.
const (
	RouteHealth   = "healthz"
	RouteReady    = "readyz"
	RouteSessions = "sessionsz"
	RouteMetrics  = "metrics"
	RouteEvents   = "events"
	RouteOther    = "other"
)

var routes = map[string]string{
	"/healthz":   RouteHealth,
	"/readyz":    RouteReady,
	"/sessionsz": RouteSessions,
	"/metrics":   RouteMetrics,
	"/events":    RouteEvents,
}

// Route returns the route label of path.
func Route(path string) string {
	if r, ok := routes[path]; ok {
		return r
	}
	return RouteOther
}

// pollRoute reports whether route is polled by orchestrators and scrapers.
// Those requests are logged at debug level.
func pollRoute(route string) bool {
	return route == RouteHealth || route == RouteReady || route == RouteMetrics
}

// statusRecorder captures the status written by the handler. It supports
// hijacking so the event feed can upgrade to a websocket through it.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T does not support hijacking", r.ResponseWriter)
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		r.hijacked = true
		if r.statusCode == http.StatusOK {
			r.statusCode = http.StatusSwitchingProtocols
		}
	}
	return conn, rw, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware traces, times and logs every request to the Hertz HTTP surface.
//
// Incoming W3C trace context is continued. The trace ID is returned in the
// X-Correlation-ID header. Requests to the event feed with a guild query
// parameter are scoped to that guild (see [WithGuild]). A hijacked websocket
// connection is recorded once it closes, so its duration is the lifetime of
// the subscription.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := Route(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			if route == RouteEvents {
				ctx = WithGuild(ctx, r.URL.Query().Get("guild"))
			}
			ctx, span := StartSpan(ctx, "http."+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			traceID := TraceID(ctx)
			if traceID != "" {
				w.Header().Set("X-Correlation-ID", traceID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelInfo
			if pollRoute(route) && rec.statusCode < http.StatusInternalServerError {
				level = slog.LevelDebug
			}
			msg := "request completed"
			if rec.hijacked {
				msg = "stream closed"
			}
			Logger(ctx).LogAttrs(ctx, level, msg,
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
