package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Hertz span.
const tracerName = "github.com/MrWong99/hertz"

// GuildKey is the span attribute carrying the guild a span belongs to.
const GuildKey = attribute.Key("hertz.guild_id")

type guildCtxKey struct{}

// WithGuild returns a copy of ctx scoped to guildID. Spans started from it
// carry [GuildKey] and loggers from [Logger] add a guild_id attribute.
func WithGuild(ctx context.Context, guildID string) context.Context {
	if guildID == "" {
		return ctx
	}
	return context.WithValue(ctx, guildCtxKey{}, guildID)
}

// GuildID returns the guild ctx was scoped to with [WithGuild].
func GuildID(ctx context.Context) string {
	id, _ := ctx.Value(guildCtxKey{}).(string)
	return id
}

// Tracer returns the Hertz tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named "hertz.<name>". When ctx is guild scoped the
// span is tagged with [GuildKey]. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := GuildID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(GuildKey.String(id)))
	}
	return Tracer().Start(ctx, "hertz."+name, opts...)
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with the guild and trace of ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if id := GuildID(ctx); id != "" {
		attrs = append(attrs, slog.String("guild_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
