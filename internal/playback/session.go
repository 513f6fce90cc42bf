// Package playback implements the per-guild playback state machine.
//
// A [Session] owns one [queue.Queue] and one [voicelink.Link]. A single
// goroutine applies commands and link events in arrival order, so no two
// transitions ever run concurrently for a guild. Exported methods submit a
// command and wait for its result.
//
// States:
//
//	Idle ──enqueue──▶ Connecting ──bound──▶ Playing ◀──resume── Paused
//	  ▲                   │  ▲                 │ │                ▲
//	  │      queue empty  │  └─end/skip/fail───┘ └─────pause──────┘
//	  └───────────────────┘
//	Lost ──reconnect fails──▶ Faulted ──▶ Idle
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/voicelink"
	"github.com/MrWong99/hertz/pkg/audio"
	"github.com/MrWong99/hertz/pkg/prefs"
)

var (
	// ErrNoActiveTrack is returned for commands that need a playing or
	// paused track while none is.
	ErrNoActiveTrack = errors.New("playback: no active track")

	// ErrAlreadyPaused is returned by Pause while paused.
	ErrAlreadyPaused = errors.New("playback: already paused")

	// ErrNotPaused is returned by Resume while playing.
	ErrNotPaused = errors.New("playback: not paused")

	// ErrFaulted wraps the cause of an unrecoverable voice link failure.
	ErrFaulted = errors.New("playback: voice link faulted")

	// ErrSessionClosed is returned by every method once the session is
	// closed.
	ErrSessionClosed = errors.New("playback: session closed")
)

// State is the state machine position of a [Session].
type State int32

const (
	Idle State = iota
	Connecting
	Playing
	Paused
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opener opens a frame source for a track. Tracks that cannot be played
// fail with an error wrapping [audio.ErrUnplayable].
type Opener interface {
	Open(ctx context.Context, t queue.Track, volume int) (audio.FrameSource, error)
}

// Resolver turns a user query into a track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (queue.Track, error)
}

// Default session parameters.
const (
	defaultCommandBuffer = 32
	defaultOpenTimeout   = 15 * time.Second
	defaultCloseGrace    = 2 * time.Second
	defaultPrefsTimeout  = 2 * time.Second

	defaultReconnectAttempts = 2
)

// Config holds the dependencies and tuning of a [Session].
type Config struct {
	GuildID string

	// Link is the voice link the session drives. Required.
	Link *voicelink.Link

	// Opener opens frame sources. Required.
	Opener Opener

	// Resolver resolves queries for [Session.Play]. Optional.
	Resolver Resolver

	// Notifier receives session events. Optional.
	Notifier Notifier

	// Prefs persists loop mode, volume and queue changes. Optional.
	Prefs prefs.Store

	// Preferences seeds the loop mode and volume.
	Preferences prefs.Preferences

	// Queue restores the waiting tracks saved by a previous session of the
	// guild. Later changes are saved to Prefs.
	Queue []prefs.QueuedTrack

	// QueueOptions are passed to [queue.New].
	QueueOptions []queue.Option

	// ConnectRetry governs the initial connection of an idle session.
	ConnectRetry voicelink.RetryConfig

	// Reconnect governs the recovery attempt after the link is lost.
	// Attempts defaults to 2.
	Reconnect voicelink.RetryConfig

	// OpenTimeout bounds each Opener.Open call. Defaults to 15s.
	OpenTimeout time.Duration

	// CloseGrace bounds how long the session waits for a source to close.
	// Defaults to 2s.
	CloseGrace time.Duration

	// CommandBuffer is the capacity of the command channel. Defaults to 32.
	CommandBuffer int

	// Metrics receives track lifecycle metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is the playback state machine of one guild.
//
// All exported methods are safe for concurrent use.
type Session struct {
	cfg      Config
	guildID  string
	link     *voicelink.Link
	queue    *queue.Queue
	notifier Notifier
	metrics  *observe.Metrics

	commands  chan envelope
	ctx       context.Context
	cancel    context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	// Readable from any goroutine.
	state     atomic.Int32
	idleSince atomic.Int64

	// Owned by the session goroutine.
	endpoint   voicelink.Endpoint
	current    *queue.Track
	source     audio.FrameSource
	bound      uint64
	volume     int
	lostStreak int
	lastFault  error
	savedQueue uint64
}

// New creates a session and starts its goroutine. Call [Session.Close] to
// release it.
func New(cfg Config) (*Session, error) {
	if cfg.Link == nil {
		return nil, errors.New("playback: new session: link is required")
	}
	if cfg.Opener == nil {
		return nil, errors.New("playback: new session: opener is required")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = defaultCloseGrace
	}
	if cfg.Reconnect.Attempts <= 0 {
		cfg.Reconnect.Attempts = defaultReconnectAttempts
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = defaultCommandBuffer
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	p := cfg.Preferences
	if p.GuildID == "" {
		p = prefs.Defaults(cfg.GuildID)
	}
	mode, err := queue.ParseMode(p.LoopMode)
	if err != nil {
		slog.Warn("playback: ignoring stored loop mode", "guild_id", cfg.GuildID, "loop_mode", p.LoopMode, "err", err)
		mode = queue.ModeOff
	}
	opts := append([]queue.Option{queue.WithLoopMode(mode)}, cfg.QueueOptions...)

	ctx, cancel := context.WithCancel(observe.WithGuild(context.Background(), cfg.GuildID))
	s := &Session{
		cfg:      cfg,
		guildID:  cfg.GuildID,
		link:     cfg.Link,
		queue:    queue.New(opts...),
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		commands: make(chan envelope, cfg.CommandBuffer),
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		volume:   audio.ClampVolume(p.Volume),
	}
	for _, t := range cfg.Queue {
		s.queue.Enqueue(restoredTrack(t), queue.End)
	}
	s.savedQueue = s.queue.Version()
	if n := len(cfg.Queue); n > 0 {
		slog.Info("playback queue restored", "guild_id", s.guildID, "tracks", n)
	}
	s.setState(Idle)
	go s.run()
	return s, nil
}

// GuildID returns the guild the session plays for.
func (s *Session) GuildID() string { return s.guildID }

// State returns the current state without waiting for queued commands.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IdleSince returns when the session last became idle, or the zero time
// when it is not idle.
func (s *Session) IdleSince() time.Time {
	ns := s.idleSince.Load()
	if ns == 0 || s.State() != Idle {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done is closed once the session goroutine exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether the session is closing or closed.
func (s *Session) Closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Close stops playback, disconnects the voice link and stops the session
// goroutine. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.beginClose()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback: close %s: %w", s.guildID, ctx.Err())
	}
}

// CloseIfIdleSince closes the session if it has been idle since deadline or
// earlier. The check runs on the session goroutine, so a command queued
// before it either revives the session or the check closes it first and the
// command fails with [ErrSessionClosed]. It reports whether the session was
// closed.
func (s *Session) CloseIfIdleSince(ctx context.Context, deadline time.Time) (bool, error) {
	closed, err := call[bool](ctx, s, closeIfIdleCmd{deadline: deadline})
	if err != nil || !closed {
		return false, err
	}
	return true, s.Close(ctx)
}

func (s *Session) beginClose() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
	})
}

type envelope struct {
	ctx   context.Context
	cmd   command
	reply chan result
}

type result struct {
	value any
	err   error
}

// submit hands cmd to the session goroutine and waits for its result.
func (s *Session) submit(ctx context.Context, cmd command) (any, error) {
	env := envelope{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}
	select {
	case s.commands <- env:
	case <-s.closing:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("playback: %s: %w", cmd.commandName(), ctx.Err())
	}
	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-s.done:
		select {
		case r := <-env.reply:
			return r.value, r.err
		default:
			return nil, ErrSessionClosed
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("playback: %s: %w", cmd.commandName(), ctx.Err())
	}
}

// call submits cmd and asserts the result type.
func call[T any](ctx context.Context, s *Session, cmd command) (T, error) {
	v, err := s.submit(ctx, cmd)
	out, _ := v.(T)
	return out, err
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			s.shutdown()
			return
		case env := <-s.commands:
			s.dispatch(env)
			s.saveQueue(env.ctx)
		case ev := <-s.link.Events():
			s.onLinkEvent(ev)
			s.saveQueue(s.ctx)
		}
	}
}

// dispatch applies one command with a context that is cancelled by either
// the caller or the session closing.
func (s *Session) dispatch(env envelope) {
	if err := env.ctx.Err(); err != nil {
		env.reply <- result{err: fmt.Errorf("playback: %s: %w", env.cmd.commandName(), err)}
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(env.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	var (
		v   any
		err error
	)
	switch s.State() {
	case Playing:
		v, err = s.handlePlaying(ctx, env.cmd)
	case Paused:
		v, err = s.handlePaused(ctx, env.cmd)
	default:
		v, err = s.handleIdle(ctx, env.cmd)
	}
	if err != nil {
		slog.Debug("playback: command rejected",
			"guild_id", s.guildID,
			"command", env.cmd.commandName(),
			"state", s.State().String(),
			"err", err,
		)
	}
	env.reply <- result{value: v, err: err}
}

func (s *Session) shutdown() {
	s.releaseCurrent()
	if err := s.link.Disconnect(); err != nil {
		slog.Warn("playback: disconnect on close", "guild_id", s.guildID, "err", err)
	}
	s.setState(Idle)
	slog.Info("playback session closed", "guild_id", s.guildID)
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if st == Idle && (prev != Idle || s.idleSince.Load() == 0) {
		s.idleSince.Store(time.Now().UnixNano())
	}
}

func (s *Session) notify(kind EventKind, t queue.Track, err error) {
	s.metrics.RecordTrackEvent(s.ctx, kind.String())
	s.notifier.Notify(Event{
		GuildID: s.guildID,
		Kind:    kind,
		Track:   t,
		Err:     err,
		At:      time.Now(),
	})
}

// savePrefs persists the loop mode and volume. Failures are logged only.
func (s *Session) savePrefs(ctx context.Context) {
	if s.cfg.Prefs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPrefsTimeout)
	defer cancel()
	p := prefs.Preferences{
		GuildID:  s.guildID,
		LoopMode: s.queue.LoopMode().String(),
		Volume:   s.volume,
	}
	if err := s.cfg.Prefs.Save(ctx, p); err != nil {
		slog.Warn("playback: save preferences", "guild_id", s.guildID, "err", err)
	}
}

// saveQueue persists the waiting tracks if they changed since the last
// save. Failures are logged only.
func (s *Session) saveQueue(ctx context.Context) {
	if s.cfg.Prefs == nil {
		return
	}
	v := s.queue.Version()
	if v == s.savedQueue {
		return
	}
	s.savedQueue = v

	snap := s.queue.Snapshot()
	tracks := make([]prefs.QueuedTrack, len(snap))
	for i, t := range snap {
		tracks[i] = storedTrack(t)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPrefsTimeout)
	defer cancel()
	if err := s.cfg.Prefs.SaveQueue(ctx, s.guildID, tracks); err != nil {
		slog.Warn("playback: save queue", "guild_id", s.guildID, "tracks", len(tracks), "err", err)
	}
}

func storedTrack(t queue.Track) prefs.QueuedTrack {
	return prefs.QueuedTrack{
		Source:        t.Source,
		Title:         t.Title,
		Artist:        t.Artist,
		Duration:      t.Duration,
		Live:          t.Live,
		Direct:        t.Direct,
		RequesterID:   t.RequesterID,
		RequesterName: t.RequesterName,
		AddedAt:       t.AddedAt,
	}
}

func restoredTrack(t prefs.QueuedTrack) queue.Track {
	return queue.Track{
		Source:        t.Source,
		Title:         t.Title,
		Artist:        t.Artist,
		Duration:      t.Duration,
		Live:          t.Live,
		Direct:        t.Direct,
		RequesterID:   t.RequesterID,
		RequesterName: t.RequesterName,
		AddedAt:       t.AddedAt,
	}
}
