// Package app wires the Hertz subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the preferences
// store, the resolver, the frame source opener and the session registry,
// Run drives the idle sweep, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPlatform,
// WithOpener, WithPrefsStore, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hertz/internal/config"
	"github.com/MrWong99/hertz/internal/health"
	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/resilience"
	"github.com/MrWong99/hertz/internal/resolve"
	"github.com/MrWong99/hertz/internal/voicelink"
	"github.com/MrWong99/hertz/pkg/audio"
	"github.com/MrWong99/hertz/pkg/audio/stream"
	"github.com/MrWong99/hertz/pkg/prefs"
	"github.com/MrWong99/hertz/pkg/prefs/postgres"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	playback atomic.Pointer[config.PlaybackConfig]

	platform audio.Platform
	prefs    prefs.Store
	opener   playback.Opener
	resolver playback.Resolver
	notifier playback.Notifier
	metrics  *observe.Metrics
	registry *Registry

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlatform sets the voice transport. Required.
func WithPlatform(p audio.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithPrefsStore injects a preferences store instead of creating one from
// config.
func WithPrefsStore(s prefs.Store) Option {
	return func(a *App) { a.prefs = s }
}

// WithOpener injects a frame source opener instead of the ffmpeg pipeline.
func WithOpener(o playback.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithResolver injects a resolver instead of the YouTube/yt-dlp resolver.
func WithResolver(r playback.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithNotifier sets the receiver of every session's events.
func WithNotifier(n playback.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics replaces observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.platform == nil {
		return nil, errors.New("app: audio platform is required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	pc := cfg.Playback
	a.playback.Store(&pc)

	// ── 1. Preferences store ─────────────────────────────────────────────
	if err := a.initPrefs(ctx); err != nil {
		return nil, fmt.Errorf("app: init prefs: %w", err)
	}

	// ── 2. Resolver and opener ───────────────────────────────────────────
	a.initMedia()

	// ── 3. Session registry ──────────────────────────────────────────────
	reg, err := NewRegistry(RegistryConfig{
		Factory:       a.newSession,
		Prefs:         a.prefs,
		IdleTimeout:   pc.IdleTimeout,
		SweepInterval: pc.SweepInterval,
		CloseTimeout:  pc.CloseGrace,
		Metrics:       a.metrics,
	})
	if err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("app: init registry: %w", err)
	}
	a.registry = reg

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPrefs connects the PostgreSQL store when a DSN is configured and
// falls back to an in-memory store otherwise.
func (a *App) initPrefs(ctx context.Context) error {
	if a.prefs != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Info("guild preferences are kept in memory")
		a.prefs = prefs.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.prefs = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("guild preferences stored in postgres")
	return nil
}

// initMedia builds the default resolver and frame source opener.
func (a *App) initMedia() {
	if a.opener == nil {
		a.opener = resolve.NewOpener(stream.NewOpener(stream.Config{
			FFmpegPath: a.cfg.Stream.FFmpegPath,
			YTDLPPath:  a.cfg.Stream.YTDLPPath,
			Prefetch:   a.cfg.Stream.Prefetch,
			FFmpegArgs: a.cfg.Stream.FFmpegArgs,
		}))
	}
	if a.resolver == nil {
		rc := a.cfg.Resolve
		a.resolver = resolve.New(resolve.Config{
			SearchPrefix: rc.SearchPrefix,
			Timeout:      rc.Timeout,
			YTDLPPath:    a.cfg.Stream.YTDLPPath,
			Metrics:      a.metrics,
			Breaker: resilience.CircuitBreakerConfig{
				MaxFailures:  rc.BreakerFailures,
				ResetTimeout: rc.BreakerReset,
			},
		})
	}
}

// newSession is the registry's [SessionFactory]. Each guild gets its own
// voice link tuned from the current playback config.
func (a *App) newSession(guildID string, seed SessionSeed) (*playback.Session, error) {
	p := seed.Prefs
	pc := a.playback.Load()
	link := voicelink.New(a.platform, voicelink.Config{
		FrameTimeout: pc.FrameTimeout,
		SendTimeout:  pc.SendTimeout,
		MaxFailures:  pc.MaxFailures,
		Backoff:      pc.Backoff,
		MaxBackoff:   pc.MaxBackoff,
		Metrics:      a.metrics,
	})
	// Guilds that never saved preferences start at the configured volume.
	if p.UpdatedAt.IsZero() && pc.DefaultVolume > 0 {
		p.Volume = pc.DefaultVolume
	}
	return playback.New(playback.Config{
		GuildID:     guildID,
		Link:        link,
		Opener:      a.opener,
		Resolver:    a.resolver,
		Notifier:    a.notifier,
		Prefs:       a.prefs,
		Preferences: p,
		Queue:       seed.Queue,
		ConnectRetry: voicelink.RetryConfig{
			Attempts: pc.ConnectAttempts,
			Backoff:  pc.ConnectBackoff,
		},
		Reconnect: voicelink.RetryConfig{
			Backoff: pc.ConnectBackoff,
		},
		OpenTimeout: pc.OpenTimeout,
		CloseGrace:  pc.CloseGrace,
		Metrics:     a.metrics,
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Registry returns the session registry.
func (a *App) Registry() *Registry { return a.registry }

// Prefs returns the preferences store.
func (a *App) Prefs() prefs.Store { return a.prefs }

// Resolver returns the resolver used by every session.
func (a *App) Resolver() playback.Resolver { return a.resolver }

// Sessions reports every live session for the /sessionsz endpoint. A
// session that does not answer within ctx is listed by state only.
func (a *App) Sessions(ctx context.Context) []health.Session {
	ids := a.registry.GuildIDs()
	out := make([]health.Session, 0, len(ids))
	for _, id := range ids {
		sess, ok := a.registry.Get(id)
		if !ok {
			continue
		}
		st, err := sess.Status(ctx)
		if err != nil {
			out = append(out, health.Session{GuildID: id, State: sess.State().String(), Fault: err.Error()})
			continue
		}
		hs := health.Session{
			GuildID: id,
			State:   st.State.String(),
			Queue:   st.QueueLen,
			Loop:    st.LoopMode.String(),
			Volume:  st.Volume,
			Link:    st.Health.String(),
		}
		if st.Current != nil {
			hs.Track = st.Current.Title
			hs.Position = st.Position.Truncate(time.Second).String()
		}
		if st.LastFault != nil {
			hs.Fault = st.LastFault.Error()
		}
		out = append(out, hs)
	}
	return out
}

// ReadyChecks returns the readiness checks of the app's own dependencies.
func (a *App) ReadyChecks() []health.Checker {
	checks := []health.Checker{{
		Name: "registry",
		Check: func(context.Context) error {
			if a.registry.Closed() {
				return ErrRegistryClosed
			}
			return nil
		},
	}}
	if p, ok := a.prefs.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "prefs", Check: p.Ping})
	}
	if r, ok := a.resolver.(interface {
		Breakers() map[string]resilience.State
	}); ok {
		checks = append(checks, health.Checker{Name: "resolver", Check: func(context.Context) error {
			return breakersOpen(r.Breakers())
		}})
	}
	return checks
}

// breakersOpen fails when every resolver backend has an open circuit.
func breakersOpen(states map[string]resilience.State) error {
	if len(states) == 0 {
		return nil
	}
	open := make([]string, 0, len(states))
	for name, st := range states {
		if st != resilience.StateOpen {
			return nil
		}
		open = append(open, name)
	}
	slices.Sort(open)
	return fmt.Errorf("app: all resolver circuits open: %s", strings.Join(open, ", "))
}

// ApplyPlayback replaces the playback tuning used for sessions created from
// now on. Running sessions keep their settings.
func (a *App) ApplyPlayback(pc config.PlaybackConfig) {
	a.playback.Store(&pc)
	slog.Info("playback settings updated for new sessions")
}

// VoiceLeft drops the session of guildID after the bot was disconnected
// from voice. A session that is connecting is kept: its own reconnect
// drops the previous voice connection first.
func (a *App) VoiceLeft(guildID string) {
	sess, ok := a.registry.Get(guildID)
	if !ok || sess.State() == playback.Connecting {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.playback.Load().CloseGrace+time.Second)
	defer cancel()
	if err := a.registry.Remove(ctx, guildID); err != nil {
		slog.Warn("app: remove session after voice disconnect", "guild_id", guildID, "err", err)
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run sweeps idle sessions until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running",
		"idle_timeout", a.cfg.Playback.IdleTimeout,
		"sweep_interval", a.cfg.Playback.SweepInterval,
	)
	err := a.registry.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown closes every session and then the remaining subsystems in
// reverse order of creation. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("app shutting down", "sessions", a.registry.Len())
		var errs []error
		if err := a.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown registry: %w", err))
		}
		if err := a.closeAll(); err != nil {
			errs = append(errs, err)
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
