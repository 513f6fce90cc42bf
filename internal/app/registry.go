package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/pkg/prefs"
)

// ErrRegistryClosed is returned by [Registry.GetOrCreate] after Shutdown.
var ErrRegistryClosed = errors.New("app: registry closed")

// Default registry parameters.
const (
	defaultIdleTimeout   = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
	defaultCloseTimeout  = 5 * time.Second
)

// SessionSeed is the stored state a new session starts from.
type SessionSeed struct {
	Prefs prefs.Preferences

	// Queue holds the tracks that were waiting when the guild's previous
	// session ended.
	Queue []prefs.QueuedTrack
}

// SessionFactory builds the playback session of a guild from its stored
// state.
type SessionFactory func(guildID string, seed SessionSeed) (*playback.Session, error)

// RegistryConfig holds the dependencies of a [Registry].
type RegistryConfig struct {
	// Factory creates sessions. Required.
	Factory SessionFactory

	// Prefs seeds new sessions with preferences and the saved queue. When
	// nil every session starts empty with [prefs.Defaults].
	Prefs prefs.Store

	// IdleTimeout is how long a session may stay idle before the sweep
	// closes it. Defaults to 5m.
	IdleTimeout time.Duration

	// SweepInterval is the period of [Registry.Run]. Defaults to 30s.
	SweepInterval time.Duration

	// CloseTimeout bounds closing a single swept or removed session.
	// Defaults to 5s.
	CloseTimeout time.Duration

	Metrics *observe.Metrics
}

// Registry maps guild ids to their playback sessions. At most one session
// exists per guild. All exported methods are safe for concurrent use.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*playback.Session
	closed   bool

	// creating deduplicates concurrent creation of the same guild so the
	// preference lookup runs outside mu.
	creating singleflight.Group

	shutdownOnce sync.Once
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, errors.New("app: new registry: session factory is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*playback.Session),
	}, nil
}

// Get returns the session of guildID if one exists and is not closing.
func (r *Registry) Get(guildID string) (*playback.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// GetOrCreate returns the session of guildID, creating it on first use.
// Concurrent calls for the same guild share one creation.
func (r *Registry) GetOrCreate(ctx context.Context, guildID string) (*playback.Session, error) {
	if guildID == "" {
		return nil, errors.New("app: get session: empty guild id")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[guildID]; ok && !s.Closed() {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	v, err, _ := r.creating.Do(guildID, func() (any, error) {
		return r.create(ctx, guildID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*playback.Session), nil
}

func (r *Registry) create(ctx context.Context, guildID string) (*playback.Session, error) {
	// A creation that finished between the fast path and Do already
	// registered the session.
	if s, ok := r.Get(guildID); ok {
		return s, nil
	}

	seed := SessionSeed{Prefs: prefs.Defaults(guildID)}
	if r.cfg.Prefs != nil {
		loaded, err := prefs.LoadOrDefault(ctx, r.cfg.Prefs, guildID)
		if err != nil {
			slog.Warn("app: load guild preferences, using defaults", "guild_id", guildID, "err", err)
		} else {
			seed.Prefs = loaded
		}
		seed.Queue, err = r.cfg.Prefs.LoadQueue(ctx, guildID)
		if err != nil {
			slog.Warn("app: load saved queue, starting empty", "guild_id", guildID, "err", err)
		}
	}

	s, err := r.cfg.Factory(guildID, seed)
	if err != nil {
		return nil, fmt.Errorf("app: create session %s: %w", guildID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.closeSession(s)
		return nil, ErrRegistryClosed
	}
	// A session the sweep is still closing is replaced here; the sweep
	// only forgets the entry it closed.
	_, replaced := r.sessions[guildID]
	r.sessions[guildID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if !replaced {
		r.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("playback session created", "guild_id", guildID, "sessions", n)
	return s, nil
}

// Remove closes and forgets the session of guildID. Removing an unknown
// guild is a no-op.
func (r *Registry) Remove(ctx context.Context, guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	if err := s.Close(ctx); err != nil {
		return fmt.Errorf("app: remove session %s: %w", guildID, err)
	}
	slog.Info("playback session removed", "guild_id", guildID)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Closed reports whether Shutdown was called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// GuildIDs returns the guilds with a live session, sorted.
func (r *Registry) GuildIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Sweep closes every session that has been idle for at least IdleTimeout
// at now and returns how many were closed. Sessions that are connecting,
// playing or paused are never swept.
//
// The idle check is repeated by each session on its own goroutine, so a
// command that arrives after the first check keeps the session alive.
func (r *Registry) Sweep(now time.Time) int {
	deadline := now.Add(-r.cfg.IdleTimeout)
	r.mu.Lock()
	var stale []*playback.Session
	for _, s := range r.sessions {
		since := s.IdleSince()
		if since.IsZero() || since.After(deadline) {
			continue
		}
		stale = append(stale, s)
	}
	r.mu.Unlock()

	closed := 0
	for _, s := range stale {
		since := s.IdleSince()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CloseTimeout)
		ok, err := s.CloseIfIdleSince(ctx, deadline)
		cancel()
		if ok {
			r.forget(s)
			closed++
			slog.Info("closed idle playback session", "guild_id", s.GuildID(), "idle_since", since)
		}
		if err != nil {
			slog.Warn("app: close idle session", "guild_id", s.GuildID(), "err", err)
		}
	}
	return closed
}

// forget drops s from the map unless a newer session replaced it.
func (r *Registry) forget(s *playback.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.GuildID()]; !ok || cur != s {
		return
	}
	delete(r.sessions, s.GuildID())
	r.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	slog.Info("session sweep running", "interval", r.cfg.SweepInterval, "idle_timeout", r.cfg.IdleTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				slog.Debug("idle sessions swept", "count", n, "remaining", r.Len())
			}
		}
	}
}

// Shutdown closes every session concurrently and rejects further creation.
// It returns once all sessions are closed or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		all := make([]*playback.Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			all = append(all, s)
		}
		clear(r.sessions)
		r.mu.Unlock()

		slog.Info("closing playback sessions", "count", len(all))
		var g errgroup.Group
		for _, s := range all {
			g.Go(func() error {
				defer r.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
				return s.Close(ctx)
			})
		}
		err = g.Wait()
	})
	return err
}

func (r *Registry) closeSession(s *playback.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CloseTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		slog.Warn("app: close session", "guild_id", s.GuildID(), "err", err)
	}
}
