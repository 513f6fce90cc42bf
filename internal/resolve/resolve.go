// Package resolve turns user queries into playable track descriptors.
//
// A query is classified as a YouTube link, another http(s) link or a free
// text search. Each class is served by a [resilience.FallbackGroup]:
//
//   - YouTube links: the kkdai/youtube client, then yt-dlp.
//   - Other links: yt-dlp, then a plain direct-media descriptor.
//   - Searches: yt-dlp with the configured search prefix.
//
// "Not found" and "ambiguous" answers end the failover immediately and are
// reported as [ErrNotFound] and [ErrAmbiguous].
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/resilience"
)

var (
	// ErrNotFound is returned when a query matches nothing playable.
	ErrNotFound = errors.New("resolve: no playable result")

	// ErrAmbiguous is returned when a query names several items, such as a
	// playlist link, and no single track can be chosen.
	ErrAmbiguous = errors.New("resolve: query matches more than one track")
)

// Default resolver settings.
const (
	DefaultSearchPrefix = "ytsearch1:"
	DefaultTimeout      = 20 * time.Second
)

// source resolves one class of query.
type source interface {
	Resolve(ctx context.Context, query string) (queue.Track, error)
}

// Config configures a [Resolver].
type Config struct {
	// SearchPrefix is prepended to free text queries before they are handed
	// to yt-dlp. Defaults to [DefaultSearchPrefix].
	SearchPrefix string

	// Timeout bounds one Resolve call. Defaults to [DefaultTimeout].
	Timeout time.Duration

	// YTDLPPath is the yt-dlp binary. Defaults to "yt-dlp".
	YTDLPPath string

	// Breaker is the template for the per-backend circuit breakers.
	Breaker resilience.CircuitBreakerConfig

	// Metrics records resolution latency. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Option customises a [Resolver].
type Option func(*options)

type options struct {
	videos VideoClient
	runner Runner
}

// WithVideoClient replaces the kkdai/youtube client.
func WithVideoClient(c VideoClient) Option {
	return func(o *options) { o.videos = c }
}

// WithRunner replaces the function that executes yt-dlp.
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

// Resolver implements [playback.Resolver].
//
// Resolver is safe for concurrent use.
type Resolver struct {
	cfg     Config
	youtube *resilience.FallbackGroup[source]
	links   *resilience.FallbackGroup[source]
	search  *resilience.FallbackGroup[source]
}

var _ playback.Resolver = (*Resolver)(nil)

// New builds a Resolver with defaults applied to cfg.
func New(cfg Config, opts ...Option) *Resolver {
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = DefaultSearchPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	o := options{runner: ExecRunner}
	for _, fn := range opts {
		fn(&o)
	}

	yt := NewYouTube(o.videos)
	dlp := NewYTDLP(cfg.YTDLPPath, o.runner)
	search := &searcher{prefix: cfg.SearchPrefix, ytdlp: dlp}

	fcfg := resilience.FallbackConfig{
		CircuitBreaker: cfg.Breaker,
		Final:          isFinal,
	}
	r := &Resolver{
		cfg:     cfg,
		youtube: resilience.NewFallbackGroup[source](yt, "youtube", fcfg),
		links:   resilience.NewFallbackGroup[source](dlp, "yt-dlp", fcfg),
		search:  resilience.NewFallbackGroup[source](search, "yt-dlp-search", fcfg),
	}
	r.youtube.AddFallback("yt-dlp", dlp)
	r.links.AddFallback("direct", Direct{})
	return r
}

// Resolve turns query into a track. Angle brackets Discord users put
// around links to suppress embeds are stripped.
func (r *Resolver) Resolve(ctx context.Context, query string) (queue.Track, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(strings.TrimPrefix(query, "<"), ">")
	if query == "" {
		return queue.Track{}, fmt.Errorf("resolve: empty query: %w", ErrNotFound)
	}

	kind, group := r.route(query)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "resolve")
	defer span.End()
	span.SetAttributes(attribute.String("resolve.kind", kind))

	start := time.Now()
	t, err := resilience.ExecuteWithResult(group, func(s source) (queue.Track, error) {
		return s.Resolve(ctx, query)
	})
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrAmbiguous):
		status = "ambiguous"
	case err != nil:
		status = "error"
	}
	r.cfg.Metrics.RecordResolve(ctx, kind, status, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		observe.Logger(ctx).Debug("resolve: failed", "kind", kind, "query", query, "err", err)
		return queue.Track{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	observe.Logger(ctx).Debug("resolve: resolved",
		"kind", kind,
		"query", query,
		"title", t.Title,
		"live", t.Live,
	)
	return t, nil
}

// Breakers returns the circuit breaker state of every backend, keyed by
// "<class>/<backend>".
func (r *Resolver) Breakers() map[string]resilience.State {
	out := make(map[string]resilience.State)
	for class, g := range map[string]*resilience.FallbackGroup[source]{
		"youtube": r.youtube,
		"url":     r.links,
		"search":  r.search,
	} {
		for name, st := range g.States() {
			out[class+"/"+name] = st
		}
	}
	return out
}

func (r *Resolver) route(query string) (string, *resilience.FallbackGroup[source]) {
	u, ok := parseURL(query)
	switch {
	case !ok:
		return "search", r.search
	case isYouTubeHost(u.Hostname()):
		return "youtube", r.youtube
	default:
		return "url", r.links
	}
}

func isFinal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// parseURL reports whether s is an absolute http(s) URL.
func parseURL(s string) (*url.URL, bool) {
	if strings.ContainsAny(s, " \t\n") {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func isYouTubeHost(host string) bool {
	switch strings.ToLower(host) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}
