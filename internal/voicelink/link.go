// Package voicelink owns the live voice connection of one guild and paces
// frame delivery to real time.
//
// A [Link] transmits exactly one frame from its bound [audio.FrameSource] per
// frame interval, however fast the source can produce frames. Every
// suspension point is bounded: NextFrame by FrameTimeout and Transmit by
// SendTimeout. Transient failures are absorbed by a consecutive-failure
// budget before the link gives up on the track (source failures) or on the
// connection (transport failures).
//
// Terminal outcomes are reported on [Link.Events], tagged with the binding
// generation returned by [Link.Bind] so that the owner can discard events of
// a binding it already abandoned.
package voicelink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/pkg/audio"
)

var (
	// ErrConnectFailure wraps every failed connection attempt.
	ErrConnectFailure = errors.New("voicelink: connect failure")

	// ErrNotConnected is returned by Bind when no connection is open.
	ErrNotConnected = errors.New("voicelink: not connected")
)

// Default delivery parameters.
const (
	defaultFrameInterval = audio.FrameDuration
	defaultFrameTimeout  = 100 * time.Millisecond
	defaultSendTimeout   = 100 * time.Millisecond
	defaultMaxFailures   = 5
	defaultBackoff       = 20 * time.Millisecond
	defaultMaxBackoff    = 200 * time.Millisecond
	eventBuffer          = 8
)

// Health is the link status reported by [Link.Health].
type Health int

const (
	// Disconnected means no connection is open.
	Disconnected Health = iota
	// Healthy means the last delivery attempt succeeded.
	Healthy
	// Degraded means recent delivery attempts failed but the budget is not
	// exhausted.
	Degraded
	// Lost means the transport failed beyond the retry budget.
	Lost
)

func (h Health) String() string {
	switch h {
	case Disconnected:
		return "disconnected"
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("Health(%d)", int(h))
	}
}

// Endpoint identifies a voice channel.
type Endpoint struct {
	GuildID   string
	ChannelID string
}

func (e Endpoint) String() string { return e.GuildID + "/" + e.ChannelID }

// EventKind classifies a terminal delivery outcome.
type EventKind int

const (
	// EventEndOfStream means the bound source ended normally.
	EventEndOfStream EventKind = iota
	// EventTrackFailed means the source failed (unplayable, or transient
	// failures beyond the budget). The connection is still usable.
	EventTrackFailed
	// EventLost means the transport failed beyond the budget.
	EventLost
)

func (k EventKind) String() string {
	switch k {
	case EventEndOfStream:
		return "end_of_stream"
	case EventTrackFailed:
		return "track_failed"
	case EventLost:
		return "lost"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports the end of a binding.
type Event struct {
	Kind EventKind

	// Generation is the value returned by the Bind call this event ends.
	Generation uint64

	// Frames is the number of frames transmitted during the binding.
	Frames int64

	// Err is the cause for EventTrackFailed and EventLost.
	Err error
}

// Config configures a [Link]. Zero values select defaults.
type Config struct {
	// FrameInterval is the delivery cadence. Defaults to 20ms.
	FrameInterval time.Duration

	// FrameTimeout bounds each NextFrame call. Defaults to 100ms.
	FrameTimeout time.Duration

	// SendTimeout bounds each Transmit call. Defaults to 100ms.
	SendTimeout time.Duration

	// MaxFailures is the number of consecutive failures tolerated before the
	// binding is abandoned. Defaults to 5.
	MaxFailures int

	// Backoff is the pause after a failure. Doubles up to MaxBackoff.
	Backoff time.Duration

	// MaxBackoff caps Backoff. Defaults to 200ms.
	MaxBackoff time.Duration

	// Metrics receives delivery metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = defaultFrameInterval
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = defaultFrameTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = c.Backoff
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Link maintains one voice connection and delivers frames over it.
//
// All methods are safe for concurrent use.
type Link struct {
	platform audio.Platform
	cfg      Config
	events   chan Event

	mu          sync.Mutex
	conn        audio.Connection
	endpoint    Endpoint
	health      Health
	gen         uint64
	source      audio.FrameSource
	last        audio.FrameSource
	cancel      context.CancelFunc
	loopDone    chan struct{}
	failures    int
	lastFrameAt time.Time
	position    time.Duration
}

// New creates a disconnected Link that connects through platform.
func New(platform audio.Platform, cfg Config) *Link {
	cfg.applyDefaults()
	return &Link{
		platform: platform,
		cfg:      cfg,
		events:   make(chan Event, eventBuffer),
	}
}

// Events returns the channel on which terminal binding outcomes are reported.
func (l *Link) Events() <-chan Event {
	return l.events
}

// Connect opens a connection to ep. Connecting to the endpoint the link is
// already healthy on is a no-op; connecting elsewhere replaces the current
// connection. Failures wrap [ErrConnectFailure].
func (l *Link) Connect(ctx context.Context, ep Endpoint) error {
	l.mu.Lock()
	if l.conn != nil && l.endpoint == ep && l.health != Lost {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	// Moving channels or replacing a lost connection.
	l.teardown()

	start := time.Now()
	conn, err := l.platform.Connect(ctx, ep.GuildID, ep.ChannelID)
	if err != nil {
		l.cfg.Metrics.RecordConnect(ctx, "error", time.Since(start))
		return fmt.Errorf("voicelink: connect %s: %w: %w", ep, ErrConnectFailure, err)
	}
	l.cfg.Metrics.RecordConnect(ctx, "ok", time.Since(start))

	l.mu.Lock()
	l.conn = conn
	l.endpoint = ep
	l.health = Healthy
	l.failures = 0
	l.mu.Unlock()

	slog.Info("voice link connected", "endpoint", ep.String())
	return nil
}

// Bind starts delivering frames from src and returns the binding generation.
// A previously bound source is unbound first (not closed). Rebinding the
// source that was bound last keeps the playback position.
func (l *Link) Bind(src audio.FrameSource) (uint64, error) {
	l.stopLoop()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return 0, ErrNotConnected
	}
	if src != l.last {
		l.position = 0
	}
	l.last = src
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.source = src
	l.cancel = cancel
	l.loopDone = done
	go l.deliver(ctx, l.conn, src, gen, done)
	return gen, nil
}

// Unbind stops delivery and returns the source that was bound, without
// closing it. It waits until no frame of that source is in flight.
func (l *Link) Unbind() audio.FrameSource {
	return l.stopLoop()
}

// Disconnect stops delivery and tears down the connection. The bound source,
// if any, is not closed. Safe to call more than once.
func (l *Link) Disconnect() error {
	err := l.teardown()
	l.mu.Lock()
	l.endpoint = Endpoint{}
	l.mu.Unlock()
	return err
}

// Health reports the current link status.
func (l *Link) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

// Endpoint returns the endpoint of the current or last connection.
func (l *Link) Endpoint() Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endpoint
}

// Connected reports whether a connection is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Failures returns the current consecutive-failure count.
func (l *Link) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// LastFrameAt returns the time of the last successfully transmitted frame.
func (l *Link) LastFrameAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFrameAt
}

// Position returns the playback position of the last transmitted frame of
// the current binding.
func (l *Link) Position() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// stopLoop cancels the delivery goroutine and waits for it to exit.
func (l *Link) stopLoop() audio.FrameSource {
	l.mu.Lock()
	cancel, done, src := l.cancel, l.loopDone, l.source
	l.cancel, l.loopDone, l.source = nil, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return src
}

// teardown stops delivery and disconnects the transport, keeping the
// endpoint so the link can be reconnected.
func (l *Link) teardown() error {
	l.stopLoop()

	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.health = Disconnected
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("voicelink: disconnect: %w", err)
	}
	return nil
}

// emit reports ev unless the binding was cancelled in the meantime.
func (l *Link) emit(ctx context.Context, ev Event) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}
